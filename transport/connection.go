// Package transport implements the acceptor and the Connection type of
// spec.md §3/§4.2: a TCP (optionally TLS) socket wrapped with a fixed
// read buffer, a deadline timer, a strand, a lifecycle tag and a
// finalization callback.
//
// The teacher's transport/tcp package drives accept/read in a goroutine
// per connection on top of blocking net.Conn calls; this package keeps
// that idiom (Go's runtime multiplexes blocking syscalls onto OS
// threads, which is the idiomatic equivalent of the spec's async I/O
// reactor) rather than hand-rolling an epoll/IOCP reactor, while still
// routing every callback through the connection's Strand so completions
// for one connection never race each other.
package transport

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/reqpipe/internal/concurrency"
	"github.com/momentics/reqpipe/pool"
)

// Lifecycle is the connection's post-request disposition (spec.md §3).
type Lifecycle int

const (
	// LifecycleClose: close the connection after the finish callback runs.
	LifecycleClose Lifecycle = iota
	// LifecycleKeepAlive: hand the connection back to a new request reader.
	LifecycleKeepAlive
	// LifecyclePipelined: as KeepAlive, but bytes of the next request are
	// already buffered and must be fed to the new parser first.
	LifecyclePipelined
)

// FinishFunc is invoked by the server when the connection's current work
// unit (one request/response cycle) completes.
type FinishFunc func(*Connection)

// Connection wraps one live TCP/TLS socket.
type Connection struct {
	conn   net.Conn
	isTLS  bool
	sched  *concurrency.Scheduler
	strand *concurrency.Strand
	pool   pool.BytePool

	buf             []byte
	nextByte, endByte int // bookmark into buf for the unconsumed tail

	tag    Lifecycle
	Finish FinishFunc

	remoteIP string

	deadlineMu sync.Mutex
	deadline   *time.Timer

	refs  int32
	closed int32
}

// New wraps conn as a pipeline Connection. bufPool supplies the fixed
// read buffer; isTLS records whether the socket already performed a TLS
// handshake (affects nothing at this layer beyond the Request's "is
// encrypted" bookkeeping, which callers read via IsTLS).
func New(conn net.Conn, sched *concurrency.Scheduler, bufPool pool.BytePool, isTLS bool) *Connection {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	c := &Connection{
		conn:     conn,
		isTLS:    isTLS,
		sched:    sched,
		pool:     bufPool,
		buf:      bufPool.Get(),
		remoteIP: host,
	}
	c.strand = concurrency.NewStrand(sched)
	return c
}

// Strand returns the connection's serialization strand.
func (c *Connection) Strand() *concurrency.Strand { return c.strand }

// RemoteIP returns the client's address without the port.
func (c *Connection) RemoteIP() string { return c.remoteIP }

// IsTLS reports whether this connection is a TLS socket.
func (c *Connection) IsTLS() bool { return c.isTLS }

// Tag returns the current lifecycle disposition.
func (c *Connection) Tag() Lifecycle { return c.tag }

// SetTag sets the lifecycle disposition, normally decided by the request
// reader once a message has been fully parsed.
func (c *Connection) SetTag(t Lifecycle) { c.tag = t }

// Buffer returns the connection's fixed read buffer.
func (c *Connection) Buffer() []byte { return c.buf }

// SaveReadPos stashes the bookmark of unconsumed bytes belonging to the
// next request (used when a pipelined request leaves a tail behind).
func (c *Connection) SaveReadPos(next, end int) {
	c.nextByte, c.endByte = next, end
}

// LoadReadPos returns the saved bookmark, or (0, 0) if none.
func (c *Connection) LoadReadPos() (int, int) {
	return c.nextByte, c.endByte
}

// AddRef increments the outstanding-operation count.
func (c *Connection) AddRef() { atomic.AddInt32(&c.refs, 1) }

// Release decrements the outstanding-operation count. A connection with
// zero outstanding operations and tag Close is eligible for socket
// closure; Go's garbage collector reclaims the struct itself once the
// last reference (held by a goroutine or the server's pool) drops, so
// Release's only job here is bookkeeping plus closing the socket on the
// Close path.
func (c *Connection) Release() {
	if atomic.AddInt32(&c.refs, -1) == 0 && c.tag == LifecycleClose {
		c.Close()
	}
}

// Close closes the underlying socket and returns the read buffer to its
// pool. Safe to call more than once.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.cancelDeadline()
	if c.buf != nil {
		c.pool.Put(c.buf)
		c.buf = nil
	}
	return c.conn.Close()
}

// ReadSome fills the read buffer starting at the given offset and
// invokes cb with the number of bytes read (or an error) on this
// connection's strand, preserving spec.md's "reads on a single
// connection complete in issue order" guarantee.
func (c *Connection) ReadSome(offset int, timeout time.Duration, cb func(n int, err error)) {
	c.armDeadline(timeout)
	c.AddRef()
	go func() {
		n, err := c.conn.Read(c.buf[offset:])
		c.cancelDeadline()
		c.strand.Dispatch(func() {
			cb(n, err)
			c.Release()
		})
	}()
}

// Write issues a vectored write of buffers and invokes cb with the
// error (if any) once the whole write completes or fails. The write
// itself runs on this connection's strand (spec.md §4.6 "all actual
// socket writes are wrapped by the connection's strand"), so two writes
// on the same connection — a response body overlapping a 100 Continue,
// a WebSocket broadcast overlapping a pong — never interleave on the
// wire; the strand serializes them in issue order.
func (c *Connection) Write(buffers [][]byte, cb func(err error)) {
	c.AddRef()
	c.strand.Dispatch(func() {
		var writeErr error
		for _, b := range buffers {
			if len(b) == 0 {
				continue
			}
			if _, err := c.conn.Write(b); err != nil {
				writeErr = err
				break
			}
		}
		cb(writeErr)
		c.Release()
	})
}

// armDeadline sets the socket's read deadline to timeout from now. Once
// it passes, the pending Read returns a timeout error, which the reader
// reports as CodeReadTimeout and turns into a connection close (spec.md
// §4.4 cancellation).
func (c *Connection) armDeadline(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(timeout))
}

func (c *Connection) cancelDeadline() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	c.conn.SetReadDeadline(time.Time{})
}

// Underlying exposes the raw net.Conn for TLS handshake helpers and
// tests.
func (c *Connection) Underlying() net.Conn { return c.conn }

// IsTLSConn reports whether conn is a *tls.Conn, used by the acceptor
// after performing the server-side handshake.
func IsTLSConn(conn net.Conn) bool {
	_, ok := conn.(*tls.Conn)
	return ok
}
