// Command gbx-console is an interactive remote-control console for
// TrackMania dedicated servers speaking GBXRemote 2.
//
// It connects to the server's XML-RPC port, authenticates, enables
// callbacks and then accepts commands while printing callbacks as they
// arrive. Lost connections are redialed with exponential backoff.
//
// Usage:
//
//	gbx-console [flags]
//
// Flags:
//
//	--config string        Configuration file path (YAML)
//	--address string       Server address host:port
//	--login string         Authentication login
//	--password string      Authentication password
//	--log-level string     Log level: debug, info, warn, error
//	--log-format string    Log format: console, json
//	--protocol-log string  Protocol capture file (".zst" to compress)
//	--learned-out string   Write learned callback names here on exit
//	--exec stringArray     Run a command and exit (repeatable)
//
// Every setting can also come from the environment with a GBX_ prefix,
// e.g. GBX_SERVER_ADDRESS or GBX_AUTH_PASSWORD.
//
// Examples:
//
//	# Connect to a local server
//	gbx-console --password SuperAdmin
//
//	# Print the server version and exit
//	gbx-console --password SuperAdmin --exec version
//
//	# Capture the session for gbx-log
//	gbx-console --config server.yaml --protocol-log session.glog.zst
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gbxremote/gbxremote-go/cmd/gbx-console/interactive"
	"github.com/gbxremote/gbxremote-go/internal/config"
	"github.com/gbxremote/gbxremote-go/internal/observability"
	"github.com/gbxremote/gbxremote-go/pkg/callback"
	"github.com/gbxremote/gbxremote-go/pkg/client"
	"github.com/gbxremote/gbxremote-go/pkg/connection"
	"github.com/gbxremote/gbxremote-go/pkg/pump"
)

// flagBindings maps command-line flags to configuration keys.
var flagBindings = map[string]string{
	"address":      "server.address",
	"login":        "auth.login",
	"password":     "auth.password",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"protocol-log": "logging.protocol_log",
	"learned-out":  "callbacks.learned_path",
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("gbx-console", pflag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path (YAML)")
	fs.String("address", "", "Server address host:port")
	fs.String("login", "", "Authentication login")
	fs.String("password", "", "Authentication password")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("log-format", "", "Log format: console, json")
	fs.String("protocol-log", "", "Protocol capture file (\".zst\" to compress)")
	fs.String("learned-out", "", "Write learned callback names here on exit")
	execs := fs.StringArray("exec", nil, "Run a command and exit (repeatable)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sink, err := observability.NewProtocolSink(cfg.Logging, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	table, err := callback.LoadTable(cfg.Callbacks.Table)
	if err != nil {
		return err
	}
	namer := callback.NewNamer(table,
		callback.WithLearning(cfg.Callbacks.LearnUnknown),
		callback.WithOnLearn(func(d callback.Discovery) {
			logger.Info("learned callback parameter",
				zap.String("method", d.Method),
				zap.Int("index", d.Index),
				zap.String("name", d.Name))
		}),
	)
	defer saveLearned(namer, cfg.Callbacks.LearnedPath, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	disp := pump.NewDispatcher(logger)
	dial := dialer(cfg, namer, sink, logger)

	if len(*execs) > 0 {
		return runBatch(ctx, cfg, dial, disp, namer, logger, *execs)
	}

	console, err := interactive.New(disp, namer, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- supervise(ctx, cfg, dial, disp, console, logger)
	}()

	console.Run(ctx, cancel)
	cancel()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig(fs *pflag.FlagSet, path string) (config.Config, error) {
	v := config.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	if err := bindFlags(v, fs); err != nil {
		return config.Config{}, err
	}
	return config.LoadFromViper(v)
}

// bindFlags binds the flags the user actually set, so unset flags do not
// shadow file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagBindings {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// dialer returns a DialFunc that connects, authenticates and enables
// callbacks.
func dialer(cfg config.Config, namer *callback.Namer, sink *observability.ProtocolSink, logger *zap.Logger) connection.DialFunc {
	ccfg := cfg.ClientConfig()
	ccfg.Transport.Logger = sink

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithParamNamer(namer),
	}
	if cfg.RateLimit.PerSecond > 0 {
		opts = append(opts, client.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	}

	return func(ctx context.Context) (*client.Client, error) {
		c, err := client.Dial(ctx, cfg.Server.Address, ccfg, opts...)
		if err != nil {
			return nil, err
		}
		if err := c.Authenticate(cfg.Auth.Login, cfg.Auth.Password); err != nil {
			c.Close()
			return nil, fmt.Errorf("authenticate as %s: %w", cfg.Auth.Login, err)
		}
		if err := c.EnableCallbacks(true); err != nil {
			c.Close()
			return nil, fmt.Errorf("enable callbacks: %w", err)
		}
		return c, nil
	}
}

func pumpConfig(cfg config.Config, logger *zap.Logger) pump.Config {
	return pump.Config{
		Interval:    cfg.Pump.Interval,
		PollTimeout: cfg.Pump.PollTimeout,
		Logger:      logger,
	}
}

// supervise keeps a session attached to the console, redialing after
// fatal errors when reconnect is enabled.
func supervise(ctx context.Context, cfg config.Config, dial connection.DialFunc, disp *pump.Dispatcher, console *interactive.Console, logger *zap.Logger) error {
	session := func(ctx context.Context, c *client.Client) error {
		p := pump.New(c, disp, pumpConfig(cfg, logger))
		console.Attach(p, c)
		defer console.Detach()
		return p.Run(ctx)
	}

	if !cfg.Reconnect.Enabled {
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return session(ctx, c)
	}

	mgr := connection.NewManager(dial,
		connection.WithBackoff(cfg.Reconnect.Backoff),
		connection.WithMaxAttempts(cfg.Reconnect.MaxAttempts),
		connection.WithLogger(logger),
	)
	mgr.OnReconnecting(func(attempt int, delay time.Duration, cause error) {
		fmt.Fprintf(console.Stdout(), "Connection lost (%v); reconnecting in %s (attempt %d)\n",
			cause, delay.Round(time.Millisecond), attempt)
	})
	return mgr.Run(ctx, session)
}

// runBatch connects once, runs each command and returns.
func runBatch(ctx context.Context, cfg config.Config, dial connection.DialFunc, disp *pump.Dispatcher, namer *callback.Namer, logger *zap.Logger, commands []string) error {
	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := interactive.NewBatch(os.Stdout, disp, namer, logger)
	p := pump.New(c, disp, pumpConfig(cfg, logger))

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	console.Attach(p, c)
	for _, line := range commands {
		if !console.Execute(ctx, line) {
			break
		}
	}
	console.Detach()

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func saveLearned(namer *callback.Namer, path string, logger *zap.Logger) {
	if path == "" || len(namer.Learned()) == 0 {
		return
	}
	data, err := namer.ExportYAML()
	if err != nil {
		logger.Warn("exporting learned callback names", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("writing learned callback names", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("learned callback names saved", zap.String("path", path))
}
