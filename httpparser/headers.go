package httpparser

import (
	"github.com/momentics/reqpipe/internal/xerrors"
	"github.com/momentics/reqpipe/message"
)

// stepHeaders advances the request-line/status-line/header-name/value
// sub-state machine (spec.md §4.3 "Header-level sub-states") until the
// input is exhausted or the terminating blank line is reached, in which
// case it transitions to stateHeadersDone and returns HeadersDone.
func (p *Parser) stepHeaders() (Result, error) {
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		p.pos++

		switch p.hdr {

		// ---- request-line ----
		case hMethodStart:
			if !isTokenChar(c) {
				return Error, xerrors.New(xerrors.CodeMethodChar, "invalid method character")
			}
			p.scratch.reset()
			p.scratch.append(c)
			p.hdr = hMethod

		case hMethod:
			if c == ' ' {
				p.req.Method = p.scratch.String()
				p.scratch.reset()
				p.hdr = hURIStem
				continue
			}
			if !isTokenChar(c) {
				return Error, xerrors.New(xerrors.CodeMethodChar, "invalid method character")
			}
			if p.scratch.len() >= MethodMax {
				return Error, xerrors.New(xerrors.CodeMethodSize, "method too long")
			}
			p.scratch.append(c)

		case hURIStem:
			switch c {
			case '?':
				p.req.Resource = p.scratch.String()
				p.req.OriginalResource = p.req.Resource
				p.scratch.reset()
				p.hdr = hURIQuery
			case ' ':
				p.req.Resource = p.scratch.String()
				p.req.OriginalResource = p.req.Resource
				p.scratch.reset()
				p.hdr = hVersionH
			default:
				if c < 0x20 || c == 0x7F {
					return Error, xerrors.New(xerrors.CodeURIChar, "invalid URI character")
				}
				if p.scratch.len() >= URIMax {
					return Error, xerrors.New(xerrors.CodeURISize, "URI too long")
				}
				p.scratch.append(c)
			}

		case hURIQuery:
			if c == ' ' {
				p.req.QueryString = p.scratch.String()
				p.scratch.reset()
				parseQueryString(p.req)
				p.hdr = hVersionH
				continue
			}
			if c < 0x20 || c == 0x7F {
				return Error, xerrors.New(xerrors.CodeQueryChar, "invalid query character")
			}
			if p.scratch.len() >= QueryMax {
				return Error, xerrors.New(xerrors.CodeQuerySize, "query too long")
			}
			p.scratch.append(c)

		// ---- HTTP-Version token, shared by request-line and status-line ----
		case hVersionH:
			if c != 'H' {
				return Error, xerrors.New(xerrors.CodeVersionChar, "expected 'HTTP/'")
			}
			p.hdr = hVersionT1
		case hVersionT1:
			if c != 'T' {
				return Error, xerrors.New(xerrors.CodeVersionChar, "expected 'HTTP/'")
			}
			p.hdr = hVersionT2
		case hVersionT2:
			if c != 'T' {
				return Error, xerrors.New(xerrors.CodeVersionChar, "expected 'HTTP/'")
			}
			p.hdr = hVersionP
		case hVersionP:
			if c != 'P' {
				return Error, xerrors.New(xerrors.CodeVersionChar, "expected 'HTTP/'")
			}
			p.hdr = hVersionSlash
		case hVersionSlash:
			if c != '/' {
				return Error, xerrors.New(xerrors.CodeVersionChar, "expected 'HTTP/'")
			}
			p.hdr = hVersionMajorStart
		case hVersionMajorStart:
			if !isDigit(c) {
				return Error, xerrors.New(xerrors.CodeVersionEmpty, "empty HTTP major version")
			}
			p.major = int(c - '0')
			p.hdr = hVersionMajor
		case hVersionMajor:
			if c == '.' {
				if p.major != 1 {
					return Error, xerrors.New(xerrors.CodeVersionChar, "unsupported HTTP major version")
				}
				p.hdr = hVersionMinorStart
				continue
			}
			if !isDigit(c) {
				return Error, xerrors.New(xerrors.CodeVersionChar, "invalid HTTP major version")
			}
			p.major = p.major*10 + int(c-'0')
		case hVersionMinorStart:
			if !isDigit(c) {
				return Error, xerrors.New(xerrors.CodeVersionEmpty, "empty HTTP minor version")
			}
			p.minor = int(c - '0')
			if p.mode == ModeRequest {
				p.msg.MajorVersion, p.msg.MinorVersion = p.major, p.minor
				p.hdr = hExpectingCR
			} else {
				p.hdr = hVersionMinor
			}
		case hVersionMinor:
			switch c {
			case ' ':
				p.msg.MajorVersion, p.msg.MinorVersion = p.major, p.minor
				p.hdr = hStatusCodeStart
			case '\r':
				return Error, xerrors.New(xerrors.CodeVersionChar, "missing status code")
			default:
				if !isDigit(c) {
					return Error, xerrors.New(xerrors.CodeVersionChar, "invalid HTTP minor version")
				}
				p.minor = p.minor*10 + int(c-'0')
			}

		// ---- status-line (response mode only) ----
		case hStatusCodeStart:
			if !isDigit(c) {
				return Error, xerrors.New(xerrors.CodeStatusEmpty, "empty status code")
			}
			p.statusCode = int(c - '0')
			p.hdr = hStatusCode
		case hStatusCode:
			switch {
			case c == ' ':
				p.resp.StatusCode = p.statusCode
				p.scratch.reset()
				p.hdr = hStatusMessage
			case isDigit(c):
				p.statusCode = p.statusCode*10 + int(c-'0')
			default:
				return Error, xerrors.New(xerrors.CodeStatusChar, "invalid status code character")
			}
		case hStatusMessage:
			switch c {
			case '\r':
				p.resp.StatusMessage = p.scratch.String()
				p.scratch.reset()
				p.hdr = hExpectingNewline
			case '\n':
				p.resp.StatusMessage = p.scratch.String()
				p.scratch.reset()
				p.hdr = hHeaderStart
			default:
				if p.scratch.len() >= StatusMessageMax {
					return Error, xerrors.New(xerrors.CodeHeaderValueSize, "status message too long")
				}
				p.scratch.append(c)
			}

		case hExpectingCR:
			if c != '\r' {
				if c == '\n' {
					p.hdr = hHeaderStart
					continue
				}
				return Error, xerrors.New(xerrors.CodeVersionChar, "expected CR after request-line")
			}
			p.hdr = hExpectingNewline
		case hExpectingNewline:
			if c != '\n' {
				return Error, xerrors.New(xerrors.CodeHeaderChar, "expected LF after CR")
			}
			p.hdr = hHeaderStart

		// ---- headers ----
		case hHeaderStart:
			switch c {
			case '\r':
				p.hdr = hExpectingFinalNewline
			case '\n':
				trailer := p.inTrailer
				if err := p.onHeadersComplete(); err != nil {
					return Error, err
				}
				if trailer {
					return Done, nil
				}
				return HeadersDone, nil
			case ' ', '\t':
				return Error, xerrors.New(xerrors.CodeHeaderChar, "unexpected header folding")
			default:
				if !isTokenChar(c) || c == ':' {
					return Error, xerrors.New(xerrors.CodeHeaderChar, "invalid header name character")
				}
				p.scratch.reset()
				p.scratch.append(c)
				p.hdr = hHeaderName
			}
		case hHeaderName:
			switch {
			case c == ':':
				p.headerName = p.scratch.String()
				p.scratch.reset()
				p.hdr = hSpaceBeforeValue
			case !isTokenChar(c):
				return Error, xerrors.New(xerrors.CodeHeaderChar, "invalid header name character")
			default:
				if p.scratch.len() >= HeaderNameMax {
					return Error, xerrors.New(xerrors.CodeHeaderNameSize, "header name too long")
				}
				p.scratch.append(c)
			}
		case hSpaceBeforeValue:
			if c == ' ' || c == '\t' {
				continue
			}
			p.hdr = hHeaderValue
			switch c {
			case '\r':
				p.commitHeader()
				p.hdr = hExpectingFinalCR
			case '\n':
				p.commitHeader()
				p.hdr = hHeaderStart
			default:
				p.scratch.append(c)
			}
		case hHeaderValue:
			switch c {
			case '\r':
				p.commitHeader()
				p.hdr = hExpectingFinalCR
			case '\n':
				p.commitHeader()
				p.hdr = hHeaderStart
			default:
				if p.scratch.len() >= HeaderValueMax {
					return Error, xerrors.New(xerrors.CodeHeaderValueSize, "header value too long")
				}
				p.scratch.append(c)
			}
		case hExpectingFinalCR:
			if c != '\n' {
				return Error, xerrors.New(xerrors.CodeHeaderChar, "expected LF after CR in header value")
			}
			p.hdr = hHeaderStart
		case hExpectingFinalNewline:
			if c != '\n' {
				return Error, xerrors.New(xerrors.CodeMissingHeaderData, "expected final LF")
			}
			trailer := p.inTrailer
			if err := p.onHeadersComplete(); err != nil {
				return Error, err
			}
			if trailer {
				return Done, nil
			}
			return HeadersDone, nil
		}
	}
	return NeedMore, nil
}

// commitHeader flushes the name/value pair accumulated in p.headerName /
// p.scratch into the message's header multimap (or, if currently
// parsing trailer headers after the terminating chunk, merges it the
// same way — spec.md §4 supplemented "trailer headers" feature).
func (p *Parser) commitHeader() {
	value := trimmedValue(p.scratch.String())
	p.msg.Header.Add(p.headerName, value)
	p.scratch.reset()
	p.headerName = ""
}

// onHeadersComplete runs once the blank line terminating the header
// section is reached (or, when inTrailer is set, once trailers end).
func (p *Parser) onHeadersComplete() error {
	if p.inTrailer {
		p.state = stateEnd
		p.msg.IsValid = true
		return nil
	}
	p.state = stateHeadersDone
	return nil
}

// parseQueryString splits req.QueryString into req.Query, mirroring the
// Cookie-header lazy-multimap shape for consistency.
func parseQueryString(req *message.Request) {
	s := req.QueryString
	for len(s) > 0 {
		amp := indexByte(s, '&')
		var pair string
		if amp < 0 {
			pair = s
			s = ""
		} else {
			pair = s[:amp]
			s = s[amp+1:]
		}
		if pair == "" {
			continue
		}
		eq := indexByte(pair, '=')
		if eq < 0 {
			req.Query.Add(urlDecode(pair), "")
			continue
		}
		req.Query.Add(urlDecode(pair[:eq]), urlDecode(pair[eq+1:]))
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// urlDecode performs '+' and percent-decoding. spec.md §1 excludes a
// full percent-encoding helper as an external collaborator, but a
// dispatcher still needs basic query decoding to populate the query
// multimap it hands to handlers; this mirrors net/url.QueryUnescape's
// semantics for the common case without adopting its error-return API.
func urlDecode(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			out = append(out, ' ')
		case '%':
			if i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
				out = append(out, byte(hexVal(s[i+1])<<4|hexVal(s[i+2])))
				i += 2
			} else {
				out = append(out, s[i])
			}
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
