// Package httpparser implements the byte-level HTTP/1.x parser of
// spec.md §4.3: a stateless-per-connection state machine that is fed
// arbitrary byte slices and incrementally populates a *message.Request
// or *message.Response, returning a tri-valued result (done / need-more
// / error) after each call.
//
// The state machine follows the request-line/status-line/headers/body
// phase split documented in spec.md §4.3 and in the original pion
// http_parser, adapted into Go's idiomatic byte-slice-and-index style
// instead of character-at-a-time callbacks.
package httpparser

import (
	"strings"

	"github.com/momentics/reqpipe/internal/xerrors"
	"github.com/momentics/reqpipe/message"
)

// Result is the tri-valued outcome of a parse step.
type Result int

const (
	NeedMore Result = iota
	Done
	Error
	// HeadersDone signals that the header section has been fully parsed
	// and control must return to the caller, which decides (via
	// FinishHeaderParsing) whether a body follows and whether to
	// install a payload sink before Parse is called again.
	HeadersDone
)

// Mode selects request-line or status-line parsing for the START phase.
type Mode int

const (
	ModeRequest Mode = iota
	ModeResponse
)

// Limits, per spec.md §4.3.
const (
	MethodMax        = 8
	URIMax           = 1024
	QueryMax         = 1024
	HeaderNameMax    = 1024
	HeaderValueMax   = 8190
	StatusMessageMax = 1024
	CookieNameMax    = 1024
	CookieValueMax   = 1024

	DefaultMaxContentLength = 1 << 20 // ~1 MiB
)

type msgState int

const (
	stateStart msgState = iota
	stateHeaders
	stateHeadersDone
	stateContent
	stateChunks
	stateContentNoLength
	stateEnd
)

type hdrState int

const (
	hMethodStart hdrState = iota
	hMethod
	hURIStem
	hURIQuery
	hVersionH
	hVersionT1
	hVersionT2
	hVersionP
	hVersionSlash
	hVersionMajorStart
	hVersionMajor
	hVersionMinorStart
	hVersionMinor
	hStatusCodeStart
	hStatusCode
	hStatusMessage
	hExpectingNewline
	hExpectingCR
	hHeaderStart
	hHeaderName
	hSpaceBeforeValue
	hHeaderValue
	hExpectingFinalNewline
	hExpectingFinalCR
)

type chunkState int

const (
	cSizeStart chunkState = iota
	cSize
	cExtension
	cExpectCRAfterSize
	cExpectLFAfterSize
	cChunkData
	cExpectCRAfterChunk
	cExpectLFAfterChunk
	cExpectFinalCROrTrailer
	cExpectFinalLF
)

// Parser is a byte-driven HTTP message parser. One Parser instance is
// owned exclusively by one request reader for the lifetime of a single
// message (spec.md §3 ownership rules); it is not safe for concurrent
// use across goroutines.
type Parser struct {
	mode             Mode
	maxContentLength int64

	state      msgState
	hdr        hdrState
	chunk      chunkState

	scratch bytesBuilder

	major, minor int
	statusCode   int

	headerName string

	sink                  message.PayloadSink
	bytesContentRemaining int64

	chunkSize     int64
	chunkRead     int64
	inTrailer     bool

	msg  *message.Message
	req  *message.Request
	resp *message.Response

	buf []byte
	pos int
}

// New creates a Parser for the given mode and body size cap.
func New(mode Mode, maxContentLength int64) *Parser {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Parser{mode: mode, maxContentLength: maxContentLength}
}

// ResetForRequest prepares the parser to parse a new request into req;
// ResetForResponse does the same for a response. Use the one matching
// the parser's Mode.
func (p *Parser) ResetForRequest(req *message.Request) {
	p.reset()
	p.req = req
	p.msg = &req.Message
}

func (p *Parser) ResetForResponse(resp *message.Response) {
	p.reset()
	p.resp = resp
	p.msg = &resp.Message
}

func (p *Parser) reset() {
	p.state = stateStart
	p.hdr = hMethodStart
	if p.mode == ModeResponse {
		p.hdr = hVersionH
	}
	p.chunk = cSizeStart
	p.scratch.reset()
	p.major, p.minor, p.statusCode = 0, 0, 0
	p.headerName = ""
	p.sink = nil
	p.bytesContentRemaining = 0
	p.chunkSize, p.chunkRead = 0, 0
	p.inTrailer = false
	p.req = nil
	p.resp = nil
	p.msg = nil
}

// SetReadBuffer installs the next input slice without copying it.
func (p *Parser) SetReadBuffer(b []byte) {
	p.buf = b
	p.pos = 0
}

// Remaining returns the unconsumed tail of the current buffer, used by
// the request reader to bookmark bytes belonging to the next pipelined
// request.
func (p *Parser) Remaining() []byte {
	return p.buf[p.pos:]
}

// SetPayloadHandler installs a push-style sink; while set, body bytes
// are streamed to it instead of being buffered into the message.
func (p *Parser) SetPayloadHandler(sink message.PayloadSink) {
	p.sink = sink
}

// Parse consumes bytes from the installed buffer, advancing the state
// machine. Returns NeedMore once the buffer is exhausted mid-message,
// HeadersDone once the header section is complete and FinishHeaderParsing
// has not yet been called, Done once the full message (headers + body)
// has been parsed, or Error with a *xerrors.Error describing the
// violation.
func (p *Parser) Parse() (Result, error) {
	for p.pos < len(p.buf) {
		switch p.state {
		case stateStart, stateHeaders:
			res, err := p.stepHeaders()
			if res != NeedMore {
				return res, err
			}
		case stateHeadersDone:
			return HeadersDone, nil
		case stateContent:
			return p.stepContent()
		case stateChunks:
			res, err := p.stepChunks()
			if res != NeedMore {
				return res, err
			}
		case stateContentNoLength:
			return p.stepContentNoLength()
		case stateEnd:
			return Done, nil
		}
	}
	if p.state == stateEnd {
		return Done, nil
	}
	if p.state == stateHeadersDone {
		return HeadersDone, nil
	}
	return NeedMore, nil
}

// FinishHeaderParsing promotes the parser from the header phase to the
// body phase once headers are fully parsed, per spec.md §4.3. headers
// are always finished by the time this is called (Parse returns control
// to the reader precisely when p.state transitions past stateHeaders);
// FinishHeaderParsing's job is deciding, from the now-complete header
// set, whether a body follows at all.
func (p *Parser) FinishHeaderParsing(ignoreBody bool) (Result, error) {
	p.msg.RefreshContentLength()
	p.msg.RefreshChunkedTransferEncoding()

	if ignoreBody {
		p.state = stateEnd
		p.msg.IsValid = true
		return Done, nil
	}

	switch {
	case p.msg.Chunked:
		p.state = stateChunks
		return NeedMore, nil
	case p.msg.ContentLength > 0:
		if p.msg.ContentLength > p.maxContentLength {
			return Error, xerrors.New(xerrors.CodeContentOverflow, "content length exceeds max_content_length")
		}
		p.bytesContentRemaining = p.msg.ContentLength
		if p.sink == nil {
			p.msg.Content = make([]byte, 0, p.msg.ContentLength)
		}
		p.state = stateContent
		return NeedMore, nil
	case p.mode == ModeResponse && !p.msg.Header.Has("Content-Length") && !p.msg.Header.Has("Transfer-Encoding"):
		p.state = stateContentNoLength
		return NeedMore, nil
	default:
		// No Content-Length/Transfer-Encoding on a request: zero-length
		// body (spec.md §4.3 "Bodies with neither header ... are treated
		// as zero-length").
		p.state = stateEnd
		p.msg.IsValid = true
		return Done, nil
	}
}

// CheckPrematureEOF decides, for an unknown-length body (response only;
// see SPEC_FULL.md §7 on the request-side open question), whether EOF is
// a clean end of message.
func (p *Parser) CheckPrematureEOF() bool {
	return p.state == stateContentNoLength
}

func (p *Parser) stepContent() (Result, error) {
	for p.pos < len(p.buf) {
		n := int64(len(p.buf) - p.pos)
		if n > p.bytesContentRemaining {
			n = p.bytesContentRemaining
		}
		chunk := p.buf[p.pos : p.pos+int(n)]
		if p.sink != nil {
			if err := p.sink(chunk); err != nil {
				return Error, xerrors.Newf(xerrors.CodeContentOverflow, "payload handler rejected data: %v", err)
			}
		} else {
			p.msg.Content = append(p.msg.Content, chunk...)
		}
		p.pos += int(n)
		p.bytesContentRemaining -= n
		if p.bytesContentRemaining == 0 {
			p.state = stateEnd
			p.msg.IsValid = true
			return Done, nil
		}
	}
	return NeedMore, nil
}

func (p *Parser) stepContentNoLength() (Result, error) {
	// Read-until-EOF body: buffer everything offered; completion is
	// signaled by the caller via CheckPrematureEOF on read EOF.
	chunk := p.buf[p.pos:]
	if p.sink != nil {
		if err := p.sink(chunk); err != nil {
			return Error, xerrors.Newf(xerrors.CodeContentOverflow, "payload handler rejected data: %v", err)
		}
	} else {
		p.msg.Content = append(p.msg.Content, chunk...)
	}
	p.pos = len(p.buf)
	return NeedMore, nil
}

// FinishContentNoLength is invoked by the reader on clean EOF for an
// unknown-length body.
func (p *Parser) FinishContentNoLength() {
	p.state = stateEnd
	p.msg.IsValid = true
}

type bytesBuilder struct {
	b []byte
}

func (s *bytesBuilder) reset()           { s.b = s.b[:0] }
func (s *bytesBuilder) append(c byte)    { s.b = append(s.b, c) }
func (s *bytesBuilder) String() string   { return string(s.b) }
func (s *bytesBuilder) len() int         { return len(s.b) }

func isTokenChar(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n':
		return false
	}
	return c > 0x1F && c != 0x7F
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) int64 {
	switch {
	case c >= '0' && c <= '9':
		return int64(c - '0')
	case c >= 'a' && c <= 'f':
		return int64(c-'a') + 10
	default:
		return int64(c-'A') + 10
	}
}

// trimmedValue trims leading/trailing whitespace from a header value,
// per spec.md §4.3 "values preserved verbatim except surrounding
// whitespace is trimmed".
func trimmedValue(s string) string {
	return strings.Trim(s, " \t")
}
