package message

import "strings"

// Message is the shared base of Request and Response (spec.md §3).
type Message struct {
	MajorVersion int
	MinorVersion int

	Header *Header

	cookies     *Header // lazily parsed from Cookie / Set-Cookie
	cookieSrc   string  // raw header value cookies was parsed from

	ContentLength int64
	Chunked       bool

	// Content is the owning content buffer, sized to ContentLength when
	// known. FinalContentLength reports the authoritative length: for
	// chunked messages it is len(ChunkCache) once receive completes
	// (spec.md §3 invariant (a)); Content may be nil for a zero-length body
	// instead of carrying a sentinel empty byte (spec.md §9 redesign
	// note).
	Content []byte

	// ChunkCache accumulates chunk payloads during chunked receive.
	ChunkCache []byte

	IsValid bool

	RemoteIP string

	// ChunksSupported records whether the peer can consume a chunked
	// response (false forces the writer to finalize with connection
	// close instead, spec.md §4.6).
	ChunksSupported bool

	// SuppressContentLength is set when the message type forbids a
	// Content-Length header regardless of accumulated payload (e.g. a
	// HEAD response).
	SuppressContentLength bool
}

func newMessage() Message {
	return Message{
		Header:          NewHeader(),
		MajorVersion:    1,
		MinorVersion:    1,
		ChunksSupported: true,
	}
}

// FinalContentLength returns the length to report to callers: for
// chunked messages this is len(ChunkCache) (spec.md §3 invariant (a));
// otherwise it is ContentLength.
func (m *Message) FinalContentLength() int64 {
	if m.Chunked {
		return int64(len(m.ChunkCache))
	}
	return m.ContentLength
}

// RefreshContentLength re-derives ContentLength from the Content-Length
// header, clearing it if the header is absent or malformed. Callers
// must invoke this after mutating Header directly, per spec.md §3
// invariant (b).
func (m *Message) RefreshContentLength() {
	v := m.Header.Get("Content-Length")
	if v == "" {
		m.ContentLength = 0
		return
	}
	n, ok := parseUint(v)
	if !ok {
		m.ContentLength = 0
		return
	}
	m.ContentLength = n
}

// RefreshChunkedTransferEncoding re-derives Chunked from the
// Transfer-Encoding header: a "chunked" token anywhere in the value
// (case-insensitive) wins over any Content-Length (spec.md §4.3 tie
// break), per spec.md §3 invariant (b).
func (m *Message) RefreshChunkedTransferEncoding() {
	m.Chunked = m.Header.ContainsToken("Transfer-Encoding", "chunked")
}

func parseUint(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}

// cookiesFrom lazily parses cookies out of every value of the named
// header the first time it is accessed, caching the result until the
// header's raw values change.
func (m *Message) cookiesFrom(headerName string) *Header {
	raw := strings.Join(m.Header.Values(headerName), "; ")
	if m.cookies != nil && m.cookieSrc == raw {
		return m.cookies
	}
	m.cookies = ParseCookieHeader(raw)
	m.cookieSrc = raw
	return m.cookies
}
