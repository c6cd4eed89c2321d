package client

import (
	"context"
	"fmt"

	"github.com/gbxremote/gbxremote-go/pkg/callback"
	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/transport"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Config configures Dial.
type Config struct {
	// Transport holds the connect and read timeouts and the protocol
	// capture logger for frames.
	Transport transport.Config

	// Base64Strings enables sending base64-looking strings as <base64>.
	Base64Strings bool

	// CallbackTable names the embedded callback table. Empty uses the
	// default table.
	CallbackTable string

	// LearnUnknown records callback positions the table does not name.
	LearnUnknown bool

	// OnLearn is called once per newly learned callback position.
	OnLearn func(callback.Discovery)
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Transport:     transport.DefaultConfig(),
		Base64Strings: true,
		CallbackTable: callback.DefaultTable,
		LearnUnknown:  true,
	}
}

// Dial connects to address, wires the default codec, callback namer and
// protocol logger, and performs the handshake. Options are applied after
// the defaults.
func Dial(ctx context.Context, address string, cfg Config, opts ...Option) (*Client, error) {
	table := cfg.CallbackTable
	if table == "" {
		table = callback.DefaultTable
	}
	tbl, err := callback.LoadTable(table)
	if err != nil {
		return nil, err
	}
	namer := callback.NewNamer(tbl,
		callback.WithLearning(cfg.LearnUnknown),
		callback.WithOnLearn(cfg.OnLearn),
	)

	conn, err := transport.Dial(ctx, address, cfg.Transport)
	if err != nil {
		return nil, err
	}

	defaults := []Option{
		WithCodec(xmlrpc.NewCodec(xmlrpc.WithBase64Strings(cfg.Base64Strings))),
		WithParamNamer(namer),
		WithRemoteAddr(address),
	}
	if log.Enabled(cfg.Transport.Logger) {
		defaults = append(defaults, WithProtocolLogger(cfg.Transport.Logger))
	}

	c := New(transport.NewFramer(conn), append(defaults, opts...)...)
	if err := c.Handshake(); err != nil {
		return nil, fmt.Errorf("handshake with %s: %w", address, err)
	}
	return c, nil
}
