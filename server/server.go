// Package server implements the HTTP/WebSocket server dispatcher of
// spec.md §4.2 and §6: per-method handler tables with longest-prefix
// path matching, WebSocket-upgrade-eligibility checked ahead of HTTP
// dispatch, Expect: 100-continue handling, and the default bad_request/
// not_found JSON responders.
package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/momentics/reqpipe/internal/concurrency"
	"github.com/momentics/reqpipe/internal/xerrors"
	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/pool"
	"github.com/momentics/reqpipe/reader"
	"github.com/momentics/reqpipe/transport"
	"github.com/momentics/reqpipe/websocket"
	"github.com/momentics/reqpipe/writer"
)

// WSHandler groups the callbacks a WebSocket route responds with.
type WSHandler struct {
	OnMessage websocket.MessageHandler
	OnClose   websocket.CloseHandler
}

// Server binds a Config to a running acceptor, scheduler, and route
// tables, mirroring the teacher's Server facade (server/server.go)
// generalized from a raw WebSocket listener to the full HTTP/WS
// pipeline.
type Server struct {
	cfg *Config

	sched   *concurrency.Scheduler
	pool    pool.BytePool
	ln      *transport.Listener
	router  *router
	wsPaths map[string]WSHandler
	wsReg   *websocket.Registry
}

// New builds a Server from cfg (or DefaultConfig if nil) and opts.
func New(cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Server{
		cfg:     cfg,
		sched:   concurrency.New(cfg.Threads),
		pool:    pool.NewBufferPool(cfg.Threads*4, pool.ReadBufferSize),
		router:  newRouter(),
		wsPaths: make(map[string]WSHandler),
		wsReg:   websocket.NewRegistry(),
	}
}

// Handle registers an HTTP handler for method under path (longest-
// prefix matched, spec.md §4.2). sinkFactory is optional; when nil, a
// POST/PUT route's body is discarded and a warning is logged once per
// request lacking one.
func (s *Server) Handle(method, path string, handler Handler, sinkFactory SinkFactory) {
	s.router.add(method, path, handler, sinkFactory)
}

// HandleWS registers a WebSocket endpoint at the exact resource path.
func (s *Server) HandleWS(path string, h WSHandler) {
	s.wsPaths[path] = h
}

// Broadcast sends payload as opcode to every live subscriber of path.
func (s *Server) Broadcast(path string, opcode websocket.Opcode, payload []byte, exclude ...string) {
	s.wsReg.Broadcast(path, opcode, payload, exclude...)
}

// ListenAndServe starts the acceptor and blocks serving connections
// until Close is called.
func (s *Server) ListenAndServe() error {
	s.sched.Startup()

	var tc *tls.Config
	if s.cfg.TLS != nil {
		built, err := s.cfg.TLS.Build()
		if err != nil {
			return err
		}
		tc = built
	}

	ln, err := transport.Listen(s.cfg.ListenAddr, s.sched, s.pool, tc, s.onAccept)
	if err != nil {
		return err
	}
	ln.Logger = s.cfg.Logger
	s.ln = ln
	return ln.Serve()
}

// Addr returns the acceptor's bound address, or nil before
// ListenAndServe runs (useful in tests that bind ":0" and need the
// actual ephemeral port).
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the acceptor.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.sched.Shutdown()
	return err
}

func (s *Server) onAccept(conn *transport.Connection) {
	s.serveNext(conn)
}

// serveNext drives one request/response cycle on conn, then — if the
// connection's decided lifecycle allows it — schedules the next one.
func (s *Server) serveNext(conn *transport.Connection) {
	r := reader.New(conn, s.cfg.MaxContentLength, s.cfg.ReadTimeout,
		func(req *message.Request) reader.BodyDecision { return s.onHeadersParsed(conn, req) },
		func(req *message.Request, err error) { s.onCompleted(conn, req, err) },
	)
	r.Start()
}

// onHeadersParsed implements spec.md §6 "Headers parsed": Expect:
// 100-continue handling and payload-sink installation.
func (s *Server) onHeadersParsed(conn *transport.Connection, req *message.Request) reader.BodyDecision {
	if req.Header.ContainsToken("Expect", "100-continue") {
		resp := message.NewResponse(req.Method)
		writer.New(conn, resp).SendContinue(func(error) {})
	}

	factory := s.router.matchSinkFactory(req.Method, req.Resource)
	if factory != nil {
		req.InstallPayloadSink(factory(req))
		return reader.ContinueBody
	}

	switch req.Method {
	case "GET", "HEAD", "DELETE", "OPTIONS":
		return reader.IgnoreBody
	case "POST", "PUT":
		s.cfg.Logger.Printf("no payload handler registered for %s %s", req.Method, req.Resource)
		req.InstallPayloadSink(func([]byte) error { return nil })
		return reader.ContinueBody
	default:
		return reader.IgnoreBody
	}
}

// onCompleted implements spec.md §6 "Completed". Unlike the reader's
// callbacks, nothing here defers maybeContinue: the next request must not
// start reading until this one's response has actually finished writing
// (spec.md §8 "no response starts before the previous response's final
// write completes"), so every reply path below gates the continuation on
// its writer's OnFinish instead of on this function returning.
func (s *Server) onCompleted(conn *transport.Connection, req *message.Request, err error) {
	if err != nil {
		switch xerrors.CodeOf(err) {
		case xerrors.CodeReadTimeout, xerrors.CodeAborted:
			// Read failure: the reader tagged the connection Close, so the
			// read's final Release closes it; no response is sent.
			if s.cfg.Verbose {
				s.cfg.Logger.Printf("reqpipe: closing connection after read failure: %v", err)
			}
			return
		}
		s.respondBadRequest(conn, req)
		return
	}

	if websocket.IsUpgradeRequest(req) {
		s.handleUpgrade(conn, req)
		return
	}

	if req.Method == "OPTIONS" && (req.Resource == "*" || req.Resource == "/*") {
		s.respondOptionsStar(conn, req)
		return
	}

	handler := s.router.match(req.Method, req.Resource)
	if handler == nil {
		s.respondNotFound(conn, req)
		return
	}

	resp := message.NewResponse(req.Method)
	w, advance := s.terminalWriter(conn, resp)
	ctx := &Context{Req: req, Resp: resp, Writer: w}
	s.invoke(handler, ctx, advance)
}

// terminalWriter builds a Writer for conn/resp whose terminal write
// (SendResponse, or SendFinalChunk for a streamed response) advances the
// connection to its next request exactly once. advance is also handed to
// invoke so a handler that panics before writing anything still releases
// the connection instead of stalling it forever.
func (s *Server) terminalWriter(conn *transport.Connection, resp *message.Response) (*writer.Writer, func()) {
	var once sync.Once
	advance := func() { once.Do(func() { s.maybeContinue(conn) }) }
	w := writer.New(conn, resp)
	w.OnFinish = func(error) { advance() }
	return w, advance
}

// invoke runs handler, catching panics per spec.md §6 "Handler-thrown
// errors other than memory exhaustion are caught and logged"; an
// out-of-memory panic is allowed to propagate and crash the process,
// since recovering from it cannot be done safely. onPanic is called when
// a recovered panic means the handler never reached a terminal write.
func (s *Server) invoke(handler Handler, ctx *Context, onPanic func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if err, ok := rec.(error); ok && isOutOfMemory(err) {
				panic(rec)
			}
			s.cfg.Logger.Printf("handler panic for %s %s: %v", ctx.Req.Method, ctx.Req.Resource, rec)
			if onPanic != nil {
				onPanic()
			}
		}
	}()
	handler(ctx)
}

func isOutOfMemory(err error) bool {
	return err != nil && err.Error() == "runtime: out of memory"
}

// maybeContinue re-enters the read loop for a keep-alive or pipelined
// connection once the current request/response cycle is done. Nothing
// further is scheduled for a connection tagged Close; its last Release
// closes the socket.
func (s *Server) maybeContinue(conn *transport.Connection) {
	if conn.Tag() == transport.LifecycleClose {
		return
	}
	s.serveNext(conn)
}

func (s *Server) handleUpgrade(conn *transport.Connection, req *message.Request) {
	hdr, err := websocket.Accept(req)
	if err != nil {
		s.respondBadRequest(conn, req)
		return
	}
	h, ok := s.wsPaths[req.Resource]
	if !ok {
		s.respondNotFound(conn, req)
		return
	}

	conn.SetTag(transport.LifecycleClose) // upgraded sockets never return to HTTP keep-alive
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	hdr.Each(func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")

	conn.Write([][]byte{[]byte(b.String())}, func(err error) {
		if err != nil {
			return
		}
		key := req.Header.Get("Sec-WebSocket-Key")
		session := websocket.NewSession(conn, key, h.OnMessage, func(sess *websocket.Session, status int, reason string) {
			s.wsReg.Unsubscribe(req.Resource, sess)
			if h.OnClose != nil {
				h.OnClose(sess, status, reason)
			}
		})
		s.wsReg.Subscribe(req.Resource, session)
		session.Start()
	})
}

func (s *Server) respondBadRequest(conn *transport.Connection, req *message.Request) {
	resp := message.NewResponse(methodOrEmpty(req))
	w, advance := s.terminalWriter(conn, resp)
	if s.cfg.BadRequestHandler != nil {
		s.invoke(s.cfg.BadRequestHandler, &Context{Req: req, Resp: resp, Writer: w}, advance)
		return
	}
	resp.StatusCode, resp.StatusMessage = 400, "Bad Request"
	resp.Header.Set("Content-Type", "application/json")
	resp.Content = []byte(`{"code": 400, "message": "malformed request"}`)
	w.SendResponse(func(error) {})
}

func (s *Server) respondNotFound(conn *transport.Connection, req *message.Request) {
	resp := message.NewResponse(req.Method)
	w, advance := s.terminalWriter(conn, resp)
	if s.cfg.NotFoundHandler != nil {
		s.invoke(s.cfg.NotFoundHandler, &Context{Req: req, Resp: resp, Writer: w}, advance)
		return
	}
	resp.StatusCode, resp.StatusMessage = 404, "Not Found"
	resp.Header.Set("Content-Type", "application/json")
	resp.Content = []byte(fmt.Sprintf(`{"code": 404, "path": %q}`, req.Resource))
	w.SendResponse(func(error) {})
}

func (s *Server) respondOptionsStar(conn *transport.Connection, req *message.Request) {
	resp := message.NewResponse(req.Method)
	resp.StatusCode, resp.StatusMessage = 204, "No Content"
	resp.Header.Set("Allow", "HEAD, GET, POST, PUT, DELETE, OPTIONS")
	w, _ := s.terminalWriter(conn, resp)
	w.SendResponse(func(error) {})
}

func methodOrEmpty(req *message.Request) string {
	if req == nil {
		return ""
	}
	return req.Method
}
