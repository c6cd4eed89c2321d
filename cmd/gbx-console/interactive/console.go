// Package interactive provides the interactive command-line interface
// for gbx-console.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/gbxremote/gbxremote-go/pkg/callback"
	"github.com/gbxremote/gbxremote-go/pkg/client"
	"github.com/gbxremote/gbxremote-go/pkg/pump"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// DefaultCommandTimeout bounds a single console command.
const DefaultCommandTimeout = 30 * time.Second

// ErrNotConnected is returned by commands while no session is attached.
var ErrNotConnected = errors.New("not connected")

// Console handles interactive mode for gbx-console.
type Console struct {
	rl     *readline.Instance
	out    io.Writer
	namer  *callback.Namer
	logger *zap.Logger

	timeout time.Duration

	mu            sync.RWMutex
	pump          *pump.Pump
	client        *client.Client
	showCallbacks bool
}

// New creates a console reading from the terminal. Callbacks that reach
// disp without a dedicated handler are printed.
func New(disp *pump.Dispatcher, namer *callback.Namer, logger *zap.Logger) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gbx> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(rl.Stdout(), disp, namer, logger)
	c.rl = rl
	return c, nil
}

// NewBatch creates a console that writes to out without a terminal, for
// running commands non-interactively.
func NewBatch(out io.Writer, disp *pump.Dispatcher, namer *callback.Namer, logger *zap.Logger) *Console {
	return newConsole(out, disp, namer, logger)
}

func newConsole(out io.Writer, disp *pump.Dispatcher, namer *callback.Namer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Console{
		out:           out,
		namer:         namer,
		logger:        logger,
		timeout:       DefaultCommandTimeout,
		showCallbacks: true,
	}
	disp.SetFallback(c.printCallback)
	return c
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Attach binds the console to a running session.
func (c *Console) Attach(p *pump.Pump, cl *client.Client) {
	c.mu.Lock()
	c.pump, c.client = p, cl
	c.mu.Unlock()
	fmt.Fprintf(c.out, "Connected [conn:%s]\n", shortID(cl.ConnID()))
}

// Detach unbinds the current session.
func (c *Console) Detach() {
	c.mu.Lock()
	wasAttached := c.client != nil
	c.pump, c.client = nil, nil
	c.mu.Unlock()
	if wasAttached {
		fmt.Fprintln(c.out, "Disconnected")
	}
}

// Run starts the interactive command loop. It returns when the user quits,
// input ends, or ctx is done; cancel is called on quit.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the line asks the
// console to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	cmd, rest, _ := strings.Cut(input, " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "version", "v":
		err = c.cmdVersion(ctx)
	case "status", "s":
		err = c.cmdStatus(ctx)
	case "chat":
		err = c.cmdChat(ctx, rest)
	case "pm":
		err = c.cmdPrivateMessage(ctx, rest)
	case "call", "c":
		err = c.cmdCall(ctx, rest)
	case "multi", "m":
		err = c.cmdMulticall(ctx, rest)
	case "callbacks", "cb":
		err = c.cmdCallbacks(rest)
	case "learned":
		err = c.cmdLearned()
	case "table":
		c.cmdTable(rest)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		c.printError(err)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
GBXRemote Console Commands:
  Server:
    version               - Show server name, version and build
    status                - Show server status
    chat <message>        - Send a chat message to all players
    pm <login> <message>  - Send a chat message to one player

  RPC:
    call <method> [args]  - Call any method; args are a YAML flow list
                            e.g. call SetServerName "My Server"
                                 call Kick yuha.tmf, "AFK"
    multi <call>; <call>  - Send several calls as one system.multicall

  Callbacks:
    callbacks [on|off]    - Toggle printing of unhandled callbacks
    learned               - Show learned callback parameter names (YAML)
    table [method]        - Show the callback parameter table

  General:
    help                  - Show this help
    quit                  - Exit`)
}

// do runs fn against the attached client on the pump goroutine.
func (c *Console) do(ctx context.Context, fn func(cl *client.Client) error) error {
	c.mu.RLock()
	p, cl := c.pump, c.client
	c.mu.RUnlock()
	if p == nil || cl == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case <-p.Started():
	case <-p.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	err := p.Do(ctx, func() error { return fn(cl) })
	if errors.Is(err, pump.ErrStopped) {
		return ErrNotConnected
	}
	return err
}

func (c *Console) printCallback(cb xmlrpc.Callback) {
	c.mu.RLock()
	show := c.showCallbacks
	c.mu.RUnlock()
	if !show {
		return
	}
	fmt.Fprintf(c.out, "[callback] %s %s\n", cb.Method, cb.Args.String())
}

func (c *Console) printError(err error) {
	var fault *xmlrpc.Fault
	if errors.As(err, &fault) {
		fmt.Fprintf(c.out, "Fault %d: %s\n", fault.Code, fault.Message)
		return
	}
	fmt.Fprintf(c.out, "Error: %v\n", err)
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("version"),
		readline.PcItem("status"),
		readline.PcItem("chat"),
		readline.PcItem("pm"),
		readline.PcItem("call"),
		readline.PcItem("multi"),
		readline.PcItem("callbacks", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("learned"),
		readline.PcItem("table"),
		readline.PcItem("quit"),
	)
}
