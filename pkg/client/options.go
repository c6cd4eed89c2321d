package client

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gbxremote/gbxremote-go/pkg/log"
	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProtocolLogger sets the protocol capture logger that receives
// decoded message and state events.
func WithProtocolLogger(l log.Logger) Option {
	return func(c *Client) { c.protoLog = l }
}

// WithCodec sets the value codec used by the default builder and parser.
func WithCodec(codec *xmlrpc.Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithParamNamer sets the namer the default parser uses for callbacks.
func WithParamNamer(n xmlrpc.ParamNamer) Option {
	return func(c *Client) { c.namer = n }
}

// WithBuilder replaces the request builder.
func WithBuilder(b *xmlrpc.Builder) Option {
	return func(c *Client) { c.builder = b }
}

// WithParser replaces the response and callback parser.
func WithParser(p *xmlrpc.Parser) Option {
	return func(c *Client) { c.parser = p }
}

// WithRateLimit throttles the chat and manialink helpers with a token
// bucket refilled at r per second holding up to burst tokens.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// WithRemoteAddr sets the address recorded in protocol events.
func WithRemoteAddr(addr string) Option {
	return func(c *Client) { c.remoteAddr = addr }
}
