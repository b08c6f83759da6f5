package websocket

import (
	"github.com/momentics/reqpipe/transport"
)

// MessageHandler is invoked once per complete (possibly reassembled)
// text or binary message.
type MessageHandler func(s *Session, opcode Opcode, payload []byte)

// CloseHandler is invoked once a session has finished closing, whether
// initiated by the peer, the application, or a protocol violation.
type CloseHandler func(s *Session, status int, reason string)

// Session drives the WebSocket frame protocol over one upgraded
// connection (spec.md §4.7): frame assembly, fragmentation/continuation
// reassembly, control-frame handling and backpressure.
type Session struct {
	conn *transport.Connection
	key  string // Sec-WebSocket-Key, used as the broadcast subscriber id

	asm Assembler

	fragOpcode  Opcode
	fragPayload []byte
	fragCount   int

	recvBufferLimit  int
	maxCachedFragments int

	onMessage MessageHandler
	onClose   CloseHandler

	closed bool
}

// NewSession wraps conn as a WebSocket session identified by the
// client's Sec-WebSocket-Key.
func NewSession(conn *transport.Connection, key string, onMessage MessageHandler, onClose CloseHandler) *Session {
	return &Session{
		conn:               conn,
		key:                key,
		recvBufferLimit:    DefaultReceiveBufferLimit,
		maxCachedFragments: DefaultMaxCachedFragments,
		onMessage:          onMessage,
		onClose:            onClose,
	}
}

// Key returns the client's Sec-WebSocket-Key, used to address this
// session in a broadcast Registry.
func (s *Session) Key() string { return s.key }

// Closed reports whether the session has finished closing. A Registry
// uses this instead of a weak reference to lazily purge dead entries.
func (s *Session) Closed() bool { return s.closed }

// Start begins the read loop. There is no per-frame read timeout by
// design: an idle WebSocket connection is expected to sit open (spec.md
// §4.7), unlike the bounded-timeout HTTP request reader.
func (s *Session) Start() {
	s.scheduleRead()
}

func (s *Session) scheduleRead() {
	s.conn.ReadSome(0, 0, func(n int, err error) {
		if err != nil {
			s.fail(StatusGoingAway, "read error")
			return
		}
		s.asm.Feed(s.conn.Buffer()[:n])
		s.drain()
	})
}

func (s *Session) drain() {
	for {
		frame, ok, err := s.asm.Next()
		if err != nil {
			s.fail(StatusMessageTooBig, "frame too large")
			return
		}
		if !ok {
			s.scheduleRead()
			return
		}
		if s.closed {
			return
		}
		if !s.handleFrame(frame) {
			return
		}
	}
}

// handleFrame dispatches one decoded frame, returning false once the
// session has begun closing (so drain stops pulling further frames).
func (s *Session) handleFrame(f Frame) bool {
	switch f.Opcode {
	case OpText, OpBinary:
		if s.fragCount > 0 {
			s.fail(StatusProtocolError, "expected continuation frame")
			return false
		}
		if f.Fin {
			s.deliver(f.Opcode, f.Payload)
			return true
		}
		s.fragOpcode = f.Opcode
		s.fragPayload = append([]byte(nil), f.Payload...)
		s.fragCount = 1
		return s.checkBackpressure()

	case OpContinuation:
		if s.fragCount == 0 {
			s.fail(StatusProtocolError, "unexpected continuation frame")
			return false
		}
		s.fragPayload = append(s.fragPayload, f.Payload...)
		s.fragCount++
		if f.Fin {
			opcode, payload := s.fragOpcode, s.fragPayload
			s.fragOpcode, s.fragPayload, s.fragCount = 0, nil, 0
			s.deliver(opcode, payload)
			return true
		}
		return s.checkBackpressure()

	case OpPing:
		s.write(EncodeFrame(OpPong, true, f.Payload), nil)
		return true

	case OpPong:
		return true

	case OpClose:
		status, reason := StatusNormal, ""
		if len(f.Payload) >= 2 {
			status = int(f.Payload[0])<<8 | int(f.Payload[1])
			reason = string(f.Payload[2:])
		}
		s.write(EncodeCloseFrame(status, ""), func(error) {
			s.destroy(status, reason)
		})
		return false

	default:
		s.fail(StatusProtocolError, "unknown opcode")
		return false
	}
}

func (s *Session) checkBackpressure() bool {
	if s.fragCount > s.maxCachedFragments || len(s.fragPayload) > s.recvBufferLimit {
		s.fail(StatusMessageTooBig, "message exceeds buffering limits")
		return false
	}
	return true
}

func (s *Session) deliver(opcode Opcode, payload []byte) {
	if s.onMessage != nil {
		s.onMessage(s, opcode, payload)
	}
}

// Send writes one complete, unfragmented message.
func (s *Session) Send(opcode Opcode, payload []byte) {
	s.write(EncodeFrame(opcode, true, payload), nil)
}

func (s *Session) write(frame []byte, cb func(error)) {
	s.conn.Write([][]byte{frame}, func(err error) {
		if cb != nil {
			cb(err)
		}
	})
}

// fail closes the session with a protocol-violation style status,
// skipping the close handshake's read half.
func (s *Session) fail(status int, reason string) {
	s.write(EncodeCloseFrame(status, reason), func(error) {
		s.destroy(status, reason)
	})
}

func (s *Session) destroy(status int, reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.conn.SetTag(transport.LifecycleClose)
	s.conn.Close()
	if s.onClose != nil {
		s.onClose(s, status, reason)
	}
}
