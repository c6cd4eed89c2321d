// Package config provides Viper-based configuration loading for the
// gbxremote tools.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gbxremote/gbxremote-go/pkg/callback"
	"github.com/gbxremote/gbxremote-go/pkg/client"
	"github.com/gbxremote/gbxremote-go/pkg/connection"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// GBX_SERVER_ADDRESS or GBX_AUTH_PASSWORD.
const EnvPrefix = "GBX"

// ServerConfig holds the dedicated server endpoint.
type ServerConfig struct {
	// Address is the "host:port" of the XML-RPC port.
	Address string `mapstructure:"address"`
}

// AuthConfig holds the credentials sent with Authenticate.
type AuthConfig struct {
	// Login is the server-side account, usually SuperAdmin or Admin.
	Login string `mapstructure:"login"`
	// Password is sent in clear as a normal call argument.
	Password string `mapstructure:"password"`
}

// TransportConfig holds connection timeouts.
type TransportConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	HeaderTimeout    time.Duration `mapstructure:"header_timeout"`
	ChunkTimeout     time.Duration `mapstructure:"chunk_timeout"`
}

// CodecConfig holds value codec switches.
type CodecConfig struct {
	// Base64Strings sends strings that are valid base64 as <base64>.
	Base64Strings bool `mapstructure:"base64_strings"`
}

// CallbacksConfig selects the callback parameter table.
type CallbacksConfig struct {
	// Table names an embedded table.
	Table string `mapstructure:"table"`
	// LearnUnknown records positions the table does not name.
	LearnUnknown bool `mapstructure:"learn_unknown"`
	// LearnedPath, when set, receives the learned overlay as YAML on exit.
	LearnedPath string `mapstructure:"learned_path"`
}

// PumpConfig holds callback pump timing.
type PumpConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// RateLimitConfig throttles chat and manialink helpers. A zero rate
// disables throttling.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// ProtocolLog is an optional capture file path. A ".zst" suffix
	// enables compression.
	ProtocolLog string `mapstructure:"protocol_log"`
}

// ReconnectConfig controls the redial supervisor.
type ReconnectConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxAttempts caps consecutive failed dials; zero means unlimited.
	MaxAttempts int                      `mapstructure:"max_attempts"`
	Backoff     connection.BackoffConfig `mapstructure:"backoff"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Transport TransportConfig `mapstructure:"transport"`
	Codec     CodecConfig     `mapstructure:"codec"`
	Callbacks CallbacksConfig `mapstructure:"callbacks"`
	Pump      PumpConfig      `mapstructure:"pump"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

// ClientConfig converts the settings into a client.Config. The protocol
// logger and learn hook are left for the caller to wire.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		Transport: transport.Config{
			ConnectTimeout:   c.Transport.ConnectTimeout,
			HandshakeTimeout: c.Transport.HandshakeTimeout,
			HeaderTimeout:    c.Transport.HeaderTimeout,
			ChunkTimeout:     c.Transport.ChunkTimeout,
		},
		Base64Strings: c.Codec.Base64Strings,
		CallbackTable: c.Callbacks.Table,
		LearnUnknown:  c.Callbacks.LearnUnknown,
	}
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateTransport(c.Transport),
		validateCallbacks(c.Callbacks),
		validatePump(c.Pump),
		validateRateLimit(c.RateLimit),
		validateLogging(c.Logging),
		validateReconnect(c.Reconnect),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Address == "" {
		return errors.New("server.address must not be empty")
	}
	host, port, err := net.SplitHostPort(s.Address)
	if err != nil {
		return fmt.Errorf("server.address must be host:port, got %q", s.Address)
	}
	if host == "" {
		return errors.New("server.address host must not be empty")
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("server.address port must be 1-65535, got %q", port)
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.ConnectTimeout < 0 {
		errs = append(errs, "transport.connect_timeout must not be negative")
	}
	if t.HandshakeTimeout < 0 {
		errs = append(errs, "transport.handshake_timeout must not be negative")
	}
	if t.HeaderTimeout < 0 {
		errs = append(errs, "transport.header_timeout must not be negative")
	}
	if t.ChunkTimeout < 0 {
		errs = append(errs, "transport.chunk_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCallbacks(c CallbacksConfig) error {
	if c.Table == "" {
		return nil
	}
	if _, err := callback.LoadTable(c.Table); err != nil {
		return fmt.Errorf("callbacks.table %q: %w", c.Table, err)
	}
	return nil
}

func validatePump(p PumpConfig) error {
	var errs []string
	if p.Interval < 0 {
		errs = append(errs, "pump.interval must not be negative")
	}
	if p.PollTimeout < 0 {
		errs = append(errs, "pump.poll_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRateLimit(r RateLimitConfig) error {
	if r.PerSecond < 0 {
		return fmt.Errorf("rate_limit.per_second must be >= 0, got %v", r.PerSecond)
	}
	if r.PerSecond > 0 && r.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be >= 1 when throttling, got %d", r.Burst)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateReconnect(r ReconnectConfig) error {
	var errs []string
	if r.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("reconnect.max_attempts must be >= 0, got %d", r.MaxAttempts))
	}
	b := r.Backoff
	if b.Initial < 0 || b.Max < 0 {
		errs = append(errs, "reconnect.backoff durations must not be negative")
	}
	if b.Max > 0 && b.Initial > b.Max {
		errs = append(errs, "reconnect.backoff.initial must not exceed reconnect.backoff.max")
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("reconnect.backoff.multiplier must be >= 1, got %v", b.Multiplier))
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		errs = append(errs, fmt.Sprintf("reconnect.backoff.jitter must be within [0, 1], got %v", b.Jitter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// New returns a Viper instance with defaults and GBX_ environment
// overrides applied. Callers may bind flags to it before LoadFromViper.
func New() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1:5000")

	v.SetDefault("auth.login", "SuperAdmin")
	v.SetDefault("auth.password", "")

	v.SetDefault("transport.connect_timeout", transport.DefaultConnectTimeout)
	v.SetDefault("transport.handshake_timeout", transport.DefaultHandshakeTimeout)
	v.SetDefault("transport.header_timeout", transport.DefaultHeaderTimeout)
	v.SetDefault("transport.chunk_timeout", transport.DefaultChunkTimeout)

	v.SetDefault("codec.base64_strings", true)

	v.SetDefault("callbacks.table", callback.DefaultTable)
	v.SetDefault("callbacks.learn_unknown", true)
	v.SetDefault("callbacks.learned_path", "")

	v.SetDefault("pump.interval", "50ms")
	v.SetDefault("pump.poll_timeout", "5ms")

	v.SetDefault("rate_limit.per_second", 0)
	v.SetDefault("rate_limit.burst", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.protocol_log", "")

	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.backoff.initial", connection.InitialBackoff)
	v.SetDefault("reconnect.backoff.max", connection.MaxBackoff)
	v.SetDefault("reconnect.backoff.multiplier", connection.BackoffMultiplier)
	v.SetDefault("reconnect.backoff.jitter", connection.JitterFactor)
}
