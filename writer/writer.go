// Package writer implements the response writer of spec.md §4.6: it
// renders a Response's status line and headers exactly once, then sends
// the body either as a single Content-Length-framed write or as a
// sequence of chunked-transfer frames, and closes the connection on any
// write error without retrying.
package writer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/reqpipe/internal/xerrors"
	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/transport"
)

// DoneFunc reports the outcome of a write operation.
type DoneFunc func(err error)

// Writer drives one response to completion against conn.
type Writer struct {
	conn *transport.Connection
	resp *message.Response

	headersSent bool
	finalSent   bool
	chunkedOut  bool

	// OnFinish, when set, runs once the response's terminal write (the
	// single write issued by SendResponse, or SendFinalChunk's
	// terminator) has actually completed on the wire, before done is
	// invoked. The server uses this to delay starting the next
	// keep-alive/pipelined request's read until this response's final
	// write is durable, per spec.md §8 ("no response starts before the
	// previous response's final write completes").
	OnFinish func(err error)
}

// New constructs a Writer for resp against conn.
func New(conn *transport.Connection, resp *message.Response) *Writer {
	return &Writer{conn: conn, resp: resp}
}

// SendResponse sends the whole response — headers followed by body — in
// one write, framed with Content-Length. Suited to handlers that build
// the full body before responding.
func (w *Writer) SendResponse(done DoneFunc) {
	if w.headersSent {
		done(xerrors.New(xerrors.CodeAborted, "response headers already sent"))
		return
	}
	var body []byte
	if w.resp.BodyAllowed() {
		body = w.resp.Content
	}
	w.resp.Header.Del("Transfer-Encoding")
	if w.resp.SuppressContentLength {
		w.resp.Header.Del("Content-Length")
	} else {
		w.resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.setConnectionHeader()

	w.headersSent = true
	buffers := [][]byte{[]byte(w.renderHeaders())}
	if len(body) > 0 {
		buffers = append(buffers, body)
	}
	w.conn.Write(buffers, func(err error) { w.finish(err, done) })
}

// SendContinue writes an interim "100 Continue" status line ahead of the
// final response, per spec.md §4.5 Expect: 100-continue handling. It
// does not count as the response's header emission.
func (w *Writer) SendContinue(done DoneFunc) {
	buf := []byte("HTTP/1.1 100 Continue\r\n\r\n")
	w.conn.Write([][]byte{buf}, func(err error) {
		if err != nil {
			w.conn.SetTag(transport.LifecycleClose)
		}
		done(err)
	})
}

// SendChunk streams one chunk of body data. The header block is emitted
// lazily on the first call, forced to Transfer-Encoding: chunked when
// the peer supports it. If resp.ChunksSupported is false (an HTTP/1.0
// peer or one that sent no matching TE), the writer instead forces the
// connection closed and falls back to writing raw, unframed bytes whose
// end is signaled by the close itself.
func (w *Writer) SendChunk(data []byte, done DoneFunc) {
	if !w.resp.BodyAllowed() {
		done(nil)
		return
	}
	var buffers [][]byte
	if !w.headersSent {
		buffers = append(buffers, w.beginChunked())
	}
	if len(data) == 0 {
		if len(buffers) == 0 {
			done(nil)
			return
		}
		w.conn.Write(buffers, func(err error) { w.finishPartial(err, done) })
		return
	}
	if w.chunkedOut {
		buffers = append(buffers, chunkFrame(data)...)
	} else {
		buffers = append(buffers, data)
	}
	w.conn.Write(buffers, func(err error) { w.finishPartial(err, done) })
}

// SendFinalChunk emits the terminating zero-size chunk (with optional
// trailer headers) and finalizes the response. Safe to call at most
// once per response; subsequent calls are no-ops.
func (w *Writer) SendFinalChunk(trailers *message.Header, done DoneFunc) {
	if w.finalSent {
		done(nil)
		return
	}
	w.finalSent = true

	var buffers [][]byte
	if !w.headersSent {
		buffers = append(buffers, w.beginChunked())
	}
	if w.chunkedOut {
		var b bytes.Buffer
		b.WriteString("0\r\n")
		if trailers != nil {
			trailers.Each(func(name, value string) { fmt.Fprintf(&b, "%s: %s\r\n", name, value) })
		}
		b.WriteString("\r\n")
		buffers = append(buffers, b.Bytes())
	}
	if len(buffers) == 0 {
		done(nil)
		return
	}
	w.conn.Write(buffers, func(err error) { w.finish(err, done) })
}

// beginChunked renders the header block for a streamed response and
// decides the transfer framing, marking headersSent. Callers must only
// invoke this once.
func (w *Writer) beginChunked() []byte {
	w.headersSent = true
	w.resp.Header.Del("Content-Length")
	if w.resp.ChunksSupported {
		w.chunkedOut = true
		w.resp.Header.Set("Transfer-Encoding", "chunked")
	} else {
		w.chunkedOut = false
		w.resp.Header.Del("Transfer-Encoding")
		w.conn.SetTag(transport.LifecycleClose)
	}
	w.setConnectionHeader()
	return []byte(w.renderHeaders())
}

// setConnectionHeader mirrors the connection's decided lifecycle into
// the outbound Connection header so the peer agrees on keep-alive.
func (w *Writer) setConnectionHeader() {
	w.resp.Header.Del("Connection")
	if w.conn.Tag() == transport.LifecycleClose {
		w.resp.Header.Set("Connection", "close")
	} else {
		w.resp.Header.Set("Connection", "Keep-Alive")
	}
}

func (w *Writer) renderHeaders() string {
	var b strings.Builder
	b.WriteString(w.resp.StatusLine())
	b.WriteString("\r\n")
	w.resp.Header.Each(func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")
	return b.String()
}

// finish reports a terminal write outcome, closing the connection on
// error without retry (spec.md §4.6 "close on write error").
func (w *Writer) finish(err error, done DoneFunc) {
	if err != nil {
		w.conn.SetTag(transport.LifecycleClose)
	}
	if w.OnFinish != nil {
		w.OnFinish(err)
	}
	done(err)
}

// finishPartial reports an intermediate chunk write outcome; an error
// here still forces the connection closed, matching finish, but the
// caller (the streaming handler) decides whether to stop producing more
// chunks.
func (w *Writer) finishPartial(err error, done DoneFunc) {
	if err != nil {
		w.conn.SetTag(transport.LifecycleClose)
	}
	done(err)
}

// chunkFrame renders one chunk as [size-line, data, trailing CRLF].
func chunkFrame(data []byte) [][]byte {
	size := []byte(strconv.FormatInt(int64(len(data)), 16) + "\r\n")
	return [][]byte{size, data, []byte("\r\n")}
}
