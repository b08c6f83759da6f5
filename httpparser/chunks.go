package httpparser

import "github.com/momentics/reqpipe/internal/xerrors"

// stepChunks advances the chunk sub-state machine (spec.md §4.3 "Chunk
// sub-states"): chunk size in hex, optional ignored extension, chunk
// bytes, terminating CRLF, final `0\r\n`, optional trailer headers,
// final CRLF.
func (p *Parser) stepChunks() (Result, error) {
	for p.pos < len(p.buf) {
		if p.chunk == cChunkData {
			n := int64(len(p.buf) - p.pos)
			remaining := p.chunkSize - p.chunkRead
			if n > remaining {
				n = remaining
			}
			data := p.buf[p.pos : p.pos+int(n)]
			if p.sink != nil {
				if err := p.sink(data); err != nil {
					return Error, xerrors.Newf(xerrors.CodeContentOverflow, "payload handler rejected chunk data: %v", err)
				}
			} else {
				p.msg.ChunkCache = append(p.msg.ChunkCache, data...)
			}
			p.pos += int(n)
			p.chunkRead += n
			if p.chunkRead == p.chunkSize {
				p.chunk = cExpectCRAfterChunk
			}
			continue
		}

		c := p.buf[p.pos]
		p.pos++

		switch p.chunk {
		case cSizeStart:
			if !isHexDigit(c) {
				return Error, xerrors.New(xerrors.CodeChunkChar, "invalid chunk size character")
			}
			p.chunkSize = hexVal(c)
			p.chunk = cSize
		case cSize:
			switch {
			case isHexDigit(c):
				p.chunkSize = p.chunkSize*16 + hexVal(c)
			case c == ';':
				p.chunk = cExtension
			case c == '\r':
				p.chunk = cExpectLFAfterSize
			default:
				return Error, xerrors.New(xerrors.CodeChunkChar, "invalid chunk size character")
			}
		case cExtension:
			if c == '\r' {
				p.chunk = cExpectLFAfterSize
			}
			// all other bytes in the extension are ignored verbatim.
		case cExpectCRAfterSize:
			if c != '\r' {
				return Error, xerrors.New(xerrors.CodeChunkChar, "expected CR after chunk size")
			}
			p.chunk = cExpectLFAfterSize
		case cExpectLFAfterSize:
			if c != '\n' {
				return Error, xerrors.New(xerrors.CodeMissingChunkData, "expected LF after chunk size")
			}
			if p.chunkSize == 0 {
				// Terminating chunk: switch into the header state machine
				// to consume optional trailer headers, then the final
				// CRLF (spec.md supplemented "trailer headers" feature).
				p.inTrailer = true
				p.state = stateHeaders
				p.hdr = hHeaderStart
				return NeedMore, nil
			}
			p.chunkRead = 0
			p.chunk = cChunkData
		case cExpectCRAfterChunk:
			if c != '\r' {
				return Error, xerrors.New(xerrors.CodeMissingChunkData, "expected CR after chunk data")
			}
			p.chunk = cExpectLFAfterChunk
		case cExpectLFAfterChunk:
			if c != '\n' {
				return Error, xerrors.New(xerrors.CodeMissingChunkData, "expected LF after chunk data")
			}
			p.chunk = cSizeStart
		case cExpectFinalCROrTrailer, cExpectFinalLF:
			// unreachable: trailer handling is delegated to stepHeaders.
		}
	}
	return NeedMore, nil
}
