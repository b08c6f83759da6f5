package message

import "strconv"

// Response extends Message with status line data (spec.md §3).
type Response struct {
	Message

	StatusCode    int
	StatusMessage string

	// RequestMethod is the method of the request this response answers,
	// used to decide whether a body is allowed to be sent.
	RequestMethod string
}

// NewResponse returns a Response defaulting to 200 OK, HTTP/1.1.
func NewResponse(requestMethod string) *Response {
	r := &Response{
		Message:       newMessage(),
		StatusCode:    200,
		StatusMessage: "OK",
		RequestMethod: requestMethod,
	}
	return r
}

// BodyAllowed reports whether this response is permitted to carry a
// body: responses to HEAD and status codes in {1xx, 204, 205, 304} have
// implied zero content length regardless of accumulated payload
// (spec.md §3).
func (r *Response) BodyAllowed() bool {
	if r.RequestMethod == "HEAD" {
		return false
	}
	if r.StatusCode >= 100 && r.StatusCode < 200 {
		return false
	}
	switch r.StatusCode {
	case 204, 205, 304:
		return false
	}
	return true
}

// Cookies returns the response's cookie multimap, lazily parsed from
// any Set-Cookie headers already present.
func (r *Response) Cookies() *Header {
	return r.cookiesFrom("Set-Cookie")
}

// AddCookie appends a Set-Cookie header for c.
func (r *Response) AddCookie(c SetCookie) {
	r.Header.Add("Set-Cookie", c.String())
}

// StatusLine formats "HTTP/major.minor code message".
func (r *Response) StatusLine() string {
	return statusLine(r.MajorVersion, r.MinorVersion, r.StatusCode, r.StatusMessage)
}

func statusLine(major, minor, code int, msg string) string {
	return httpVersion(major, minor) + " " + strconv.Itoa(code) + " " + msg
}

func httpVersion(major, minor int) string {
	return "HTTP/" + strconv.Itoa(major) + "." + strconv.Itoa(minor)
}
