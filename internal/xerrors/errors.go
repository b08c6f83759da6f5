// Package xerrors provides the typed error values shared across the
// request pipeline: the HTTP parser, the request reader, the response
// writer and the WebSocket engine all report failures through Code so
// that callers can switch on cause instead of matching strings.
package xerrors

import "fmt"

// Code identifies the kind of failure without committing to wording.
type Code int

const (
	CodeOK Code = iota

	// Parser errors (spec.md §4.3).
	CodeMethodChar
	CodeMethodSize
	CodeURIChar
	CodeURISize
	CodeQueryChar
	CodeQuerySize
	CodeVersionEmpty
	CodeVersionChar
	CodeStatusEmpty
	CodeStatusChar
	CodeHeaderChar
	CodeHeaderNameSize
	CodeHeaderValueSize
	CodeInvalidContentLength
	CodeMissingContentLength
	CodeChunkChar
	CodeMissingChunkData
	CodeMissingHeaderData
	CodeContentOverflow

	// I/O / connection errors.
	CodeReadTimeout
	CodeAborted
	CodeConnectionClosed

	// WebSocket errors, mapped to RFC 6455 close status codes by the
	// websocket package.
	CodeWSProtocolError
	CodeWSOverflow
)

// Error is a structured error with a stable Code plus free-form context,
// mirroring the kind of error value the rest of this codebase attaches
// to specific subsystems rather than relying on sentinel string matches.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error for the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, or CodeOK if err is nil or not an
// *Error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeOK
}
