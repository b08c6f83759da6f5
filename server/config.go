package server

import (
	"log"
	"time"

	"github.com/momentics/reqpipe/httpparser"
	"github.com/momentics/reqpipe/transport"
)

// Config holds all server parameters, generalizing the teacher's
// server.Config/DefaultConfig pattern to the HTTP/WebSocket pipeline
// (spec.md §6).
type Config struct {
	// ListenAddr is the TCP address to bind, e.g. ":8080".
	ListenAddr string

	// Threads is the number of scheduler worker goroutines draining
	// posted connection work (spec.md §5 concurrency model).
	Threads int

	// ReadTimeout bounds each individual connection read; zero disables
	// the deadline.
	ReadTimeout time.Duration

	// MaxContentLength caps a request body's Content-Length.
	MaxContentLength int64

	// TLS, if non-nil, is built once at server startup and used to wrap
	// accepted connections in a TLS handshake.
	TLS *transport.TLSConfig

	// BadRequestHandler, NotFoundHandler override the default JSON
	// responders for malformed requests and unmatched resources
	// (spec.md §6).
	BadRequestHandler Handler
	NotFoundHandler   Handler

	// Verbose gates debug-level logging of expected churn (timeouts,
	// client disconnects) that should never appear at default verbosity
	// (spec.md AMBIENT STACK "Logging").
	Verbose bool

	Logger *log.Logger
}

// DefaultConfig returns the server's defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       ":8080",
		Threads:          4,
		ReadTimeout:      10 * time.Second,
		MaxContentLength: httpparser.DefaultMaxContentLength,
		Logger:           log.Default(),
	}
}
