package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"

	"github.com/momentics/reqpipe/internal/concurrency"
	"github.com/momentics/reqpipe/pool"
)

// AcceptHandler receives each freshly accepted Connection.
type AcceptHandler func(*Connection)

// Listener binds an endpoint, accepts connections and, if TLS is
// configured, performs the server-side handshake, handing each accepted
// connection to the HTTP layer (spec.md §4.1 "Acceptor / TCP server").
type Listener struct {
	ln       net.Listener
	sched    *concurrency.Scheduler
	bufPool  pool.BytePool
	tlsConf  *tls.Config
	onAccept AcceptHandler
	Logger   *log.Logger

	cancel context.CancelFunc
}

// Listen binds addr (TCP, "host:port") and returns a Listener. If
// tlsConf is non-nil, every accepted connection performs a server-side
// TLS handshake before being handed to onAccept.
func Listen(addr string, sched *concurrency.Scheduler, bufPool pool.BytePool, tlsConf *tls.Config, onAccept AcceptHandler) (*Listener, error) {
	lc := net.ListenConfig{Control: controlSockopts}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:       ln,
		sched:    sched,
		bufPool:  bufPool,
		tlsConf:  tlsConf,
		onAccept: onAccept,
		Logger:   log.Default(),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until Close is called. The scheduler's
// active-user count is held open for the lifetime of the loop so a
// concurrent Shutdown waits for the acceptor to actually stop (spec.md
// §4.1 "active user count").
func (l *Listener) Serve() error {
	l.sched.EnterUser()
	defer l.sched.LeaveUser()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			l.Logger.Printf("reqpipe: accept error: %v", err)
			continue
		}
		go l.handleAccepted(conn)
	}
}

func (l *Listener) handleAccepted(raw net.Conn) {
	isTLS := false
	if l.tlsConf != nil {
		tlsConn := tls.Server(raw, l.tlsConf)
		if err := tlsConn.Handshake(); err != nil {
			l.Logger.Printf("reqpipe: tls handshake: %v", err)
			tlsConn.Close()
			return
		}
		raw = tlsConn
		isTLS = true
	}
	c := New(raw, l.sched, l.bufPool, isTLS)
	l.onAccept(c)
}

// Close stops the accept loop; in-flight connections are unaffected.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
