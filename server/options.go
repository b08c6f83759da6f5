package server

import (
	"log"
	"time"

	"github.com/momentics/reqpipe/transport"
)

// ServerOption customizes server initialization, mirroring the
// teacher's server.ServerOption functional-options pattern
// (server/options.go).
type ServerOption func(*Config)

// WithListenAddr overrides the bind address.
func WithListenAddr(addr string) ServerOption {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithThreads overrides the scheduler worker count.
func WithThreads(n int) ServerOption {
	return func(c *Config) { c.Threads = n }
}

// WithReadTimeout overrides the per-read deadline.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithMaxContentLength overrides the request body size cap.
func WithMaxContentLength(n int64) ServerOption {
	return func(c *Config) { c.MaxContentLength = n }
}

// WithTLS enables TLS using cfg.
func WithTLS(cfg *transport.TLSConfig) ServerOption {
	return func(c *Config) { c.TLS = cfg }
}

// WithBadRequestHandler overrides the default malformed-request responder.
func WithBadRequestHandler(h Handler) ServerOption {
	return func(c *Config) { c.BadRequestHandler = h }
}

// WithNotFoundHandler overrides the default unmatched-resource responder.
func WithNotFoundHandler(h Handler) ServerOption {
	return func(c *Config) { c.NotFoundHandler = h }
}

// WithVerbose enables debug-level logging of expected churn.
func WithVerbose(v bool) ServerOption {
	return func(c *Config) { c.Verbose = v }
}

// WithLogger overrides the server's logger.
func WithLogger(l *log.Logger) ServerOption {
	return func(c *Config) { c.Logger = l }
}
