// Package websocket implements the WebSocket engine of spec.md §4.7:
// the RFC 6455 upgrade handshake, frame assembly, session dispatch and
// path-scoped broadcast, grounded on the teacher's core/protocol
// handshake and frame codec adapted to this module's message types.
package websocket

import (
	"crypto/sha1"
	"encoding/base64"

	"github.com/momentics/reqpipe/internal/xerrors"
	"github.com/momentics/reqpipe/message"
)

// webSocketGUID is the RFC 6455 magic GUID used to derive
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// RequiredVersion is the only Sec-WebSocket-Version this engine accepts.
const RequiredVersion = "13"

// MaxHandshakeHeaderBytes bounds the combined size of request headers
// considered during upgrade eligibility, guarding against a pathological
// handshake consuming unbounded memory before rejection.
const MaxHandshakeHeaderBytes = 8192

// IsUpgradeRequest reports whether req carries the header combination
// that makes it eligible for a WebSocket upgrade (spec.md §4.7: checked
// before ordinary HTTP dispatch, independent of Resource).
func IsUpgradeRequest(req *message.Request) bool {
	return req.Header.ContainsToken("Connection", "Upgrade") &&
		req.Header.ContainsToken("Upgrade", "websocket")
}

// Accept validates the upgrade request per RFC 6455 and, on success,
// returns the headers to attach to the 101 Switching Protocols response.
func Accept(req *message.Request) (*message.Header, error) {
	total := 0
	req.Header.Each(func(name, value string) { total += len(name) + len(value) })
	if total > MaxHandshakeHeaderBytes {
		return nil, xerrors.New(xerrors.CodeWSProtocolError, "handshake headers too large")
	}
	if !IsUpgradeRequest(req) {
		return nil, xerrors.New(xerrors.CodeWSProtocolError, "invalid upgrade headers")
	}
	if req.Header.Get("Sec-WebSocket-Version") != RequiredVersion {
		return nil, xerrors.New(xerrors.CodeWSProtocolError, "unsupported Sec-WebSocket-Version")
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, xerrors.New(xerrors.CodeWSProtocolError, "missing Sec-WebSocket-Key")
	}

	hdr := message.NewHeader()
	hdr.Set("Upgrade", "websocket")
	hdr.Set("Connection", "Upgrade")
	hdr.Set("Sec-WebSocket-Accept", acceptKey(key))
	if proto := req.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		// Subprotocol negotiation is out of scope (spec.md Non-goals);
		// the engine never echoes one back.
		_ = proto
	}
	return hdr, nil
}

// acceptKey derives Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key per RFC 6455 §1.3.
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(webSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
