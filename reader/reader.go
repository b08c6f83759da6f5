// Package reader implements the request reader of spec.md §4.4: it
// drives a single inbound HTTP request against one connection, feeding
// bytes to the parser, invoking a headers-parsed callback (to let the
// dispatcher install a payload sink or reject the body) and a completed
// callback, then deciding the connection's next lifecycle.
package reader

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/momentics/reqpipe/httpparser"
	"github.com/momentics/reqpipe/internal/xerrors"
	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/transport"
)

// BodyDecision is returned by a HeadersParsedFunc to tell the reader
// whether to continue receiving the body or to discard it unread.
type BodyDecision int

const (
	// ContinueBody: receive the body normally (the default).
	ContinueBody BodyDecision = iota
	// IgnoreBody: treat the message as complete once headers are parsed.
	IgnoreBody
)

// HeadersParsedFunc is invoked once a request's headers are fully
// parsed, before any body bytes are read.
type HeadersParsedFunc func(req *message.Request) BodyDecision

// CompletedFunc is invoked once the request (headers and, unless
// ignored, body) has finished parsing, successfully or not.
type CompletedFunc func(req *message.Request, parseErr error)

// Reader drives one request to completion against conn. A Reader "owns
// itself" via a release-on-completion idiom (spec.md §4.4): it holds a
// reference on the connection for as long as a read is outstanding and
// releases it once the request completes or fails, so nothing needs to
// keep the Reader alive explicitly — Go's garbage collector reclaims it
// once its goroutine closures stop referencing it.
type Reader struct {
	conn             *transport.Connection
	parser           *httpparser.Parser
	req              *message.Request
	readTimeout      time.Duration
	onHeadersParsed  HeadersParsedFunc
	onCompleted      CompletedFunc
}

// New constructs a Reader for conn with the given per-read timeout and
// body size cap.
func New(conn *transport.Connection, maxContentLength int64, readTimeout time.Duration, onHeadersParsed HeadersParsedFunc, onCompleted CompletedFunc) *Reader {
	return &Reader{
		conn:            conn,
		parser:          httpparser.New(httpparser.ModeRequest, maxContentLength),
		readTimeout:     readTimeout,
		onHeadersParsed: onHeadersParsed,
		onCompleted:     onCompleted,
	}
}

// Start begins driving the request. If conn is tagged Pipelined, the
// saved bookmark bytes are fed to the parser before any read is issued
// (spec.md §4.4 step 1); otherwise a bounded-timeout read is scheduled.
func (r *Reader) Start() {
	r.req = message.NewRequest()
	r.req.RemoteIP = r.conn.RemoteIP()
	r.req.BindReader(r)
	r.parser.ResetForRequest(r.req)

	if r.conn.Tag() == transport.LifecyclePipelined {
		next, end := r.conn.LoadReadPos()
		r.parser.SetReadBuffer(r.conn.Buffer()[next:end])
		r.feed()
		return
	}
	r.scheduleRead()
}

// InstallPayloadSink implements message.SinkInstaller: it installs sink
// on the parser so body bytes stream to the application instead of
// being buffered into the request.
func (r *Reader) InstallPayloadSink(sink message.PayloadSink) {
	r.parser.SetPayloadHandler(sink)
}

func (r *Reader) scheduleRead() {
	r.conn.ReadSome(0, r.readTimeout, func(n int, err error) {
		if err != nil {
			r.handleReadError(err)
			return
		}
		r.parser.SetReadBuffer(r.conn.Buffer()[:n])
		r.feed()
	})
}

// feed drains the parser against the currently installed buffer,
// resolving HeadersDone transitions via onHeadersParsed/
// FinishHeaderParsing inline, and scheduling another read on NeedMore.
func (r *Reader) feed() {
	for {
		res, err := r.parser.Parse()
		switch res {
		case httpparser.NeedMore:
			r.scheduleRead()
			return

		case httpparser.HeadersDone:
			decision := ContinueBody
			if r.onHeadersParsed != nil {
				decision = r.onHeadersParsed(r.req)
			}
			if _, ferr := r.parser.FinishHeaderParsing(decision == IgnoreBody); ferr != nil {
				r.onCompleted(r.req, ferr)
				return
			}
			continue

		case httpparser.Done:
			r.decideLifecycle()
			r.onCompleted(r.req, nil)
			return

		case httpparser.Error:
			r.conn.SetTag(transport.LifecycleClose)
			r.onCompleted(r.req, err)
			return
		}
	}
}

// handleReadError maps a connection read failure onto the completed
// callback: a clean EOF while reading an unknown-length body finishes
// the message successfully; otherwise the connection is tagged Close
// and onCompleted receives a CodeReadTimeout error for a deadline
// timeout or a CodeAborted error for any other read failure. The reader
// itself logs nothing and never retries I/O.
func (r *Reader) handleReadError(err error) {
	if errors.Is(err, io.EOF) && r.parser.CheckPrematureEOF() {
		r.parser.FinishContentNoLength()
		r.decideLifecycle()
		r.onCompleted(r.req, nil)
		return
	}

	r.conn.SetTag(transport.LifecycleClose)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		r.onCompleted(r.req, xerrors.New(xerrors.CodeReadTimeout, "read timeout"))
		return
	}
	r.onCompleted(r.req, xerrors.Newf(xerrors.CodeAborted, "connection read error: %v", err))
}

// decideLifecycle implements spec.md §4.4 step 6.
func (r *Reader) decideLifecycle() {
	if r.req.Header.ContainsToken("Connection", "close") {
		r.conn.SetTag(transport.LifecycleClose)
		return
	}
	if r.req.MajorVersion < 1 || (r.req.MajorVersion == 1 && r.req.MinorVersion < 1) {
		if !r.req.Header.ContainsToken("Connection", "keep-alive") {
			r.conn.SetTag(transport.LifecycleClose)
			return
		}
	}
	if tail := r.parser.Remaining(); len(tail) > 0 {
		// tail is a sub-slice of the connection buffer, so the gap
		// between the two capacities is tail's offset within it.
		buf := r.conn.Buffer()
		start := cap(buf) - cap(tail)
		r.conn.SaveReadPos(start, start+len(tail))
		r.conn.SetTag(transport.LifecyclePipelined)
		return
	}
	r.conn.SetTag(transport.LifecycleKeepAlive)
}
