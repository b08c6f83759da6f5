package message_test

import (
	"testing"

	"github.com/momentics/reqpipe/message"
)

func TestRefreshContentLengthFromHeader(t *testing.T) {
	req := message.NewRequest()
	req.Header.Set("Content-Length", "42")
	req.RefreshContentLength()

	if req.ContentLength != 42 {
		t.Fatalf("ContentLength = %d, want 42", req.ContentLength)
	}
}

func TestRefreshContentLengthMalformedClearsToZero(t *testing.T) {
	req := message.NewRequest()
	req.ContentLength = 99
	req.Header.Set("Content-Length", "not-a-number")
	req.RefreshContentLength()

	if req.ContentLength != 0 {
		t.Fatalf("ContentLength = %d, want 0 after malformed header", req.ContentLength)
	}
}

func TestRefreshChunkedTransferEncodingTokenMatch(t *testing.T) {
	req := message.NewRequest()
	req.Header.Set("Transfer-Encoding", "gzip, chunked")
	req.RefreshChunkedTransferEncoding()

	if !req.Chunked {
		t.Fatal("Chunked = false, want true for Transfer-Encoding: gzip, chunked")
	}
}

func TestFinalContentLengthUsesChunkCacheWhenChunked(t *testing.T) {
	req := message.NewRequest()
	req.Chunked = true
	req.ChunkCache = []byte("hello")
	req.ContentLength = 0

	if got := req.FinalContentLength(); got != 5 {
		t.Fatalf("FinalContentLength() = %d, want 5", got)
	}
}

func TestResponseBodyAllowed(t *testing.T) {
	cases := []struct {
		method string
		status int
		want   bool
	}{
		{"GET", 200, true},
		{"HEAD", 200, false},
		{"GET", 204, false},
		{"GET", 304, false},
		{"GET", 101, false},
		{"GET", 404, true},
	}
	for _, c := range cases {
		resp := message.NewResponse(c.method)
		resp.StatusCode = c.status
		if got := resp.BodyAllowed(); got != c.want {
			t.Errorf("BodyAllowed(method=%s, status=%d) = %v, want %v", c.method, c.status, got, c.want)
		}
	}
}

func TestResponseAddCookieAndParse(t *testing.T) {
	resp := message.NewResponse("GET")
	resp.AddCookie(message.SetCookie{Name: "sid", Value: "abc123", MaxAge: message.MaxAgeUnset})

	got := resp.Header.Get("Set-Cookie")
	want := "sid=abc123; Version=1; Path=/"
	if got != want {
		t.Fatalf("Set-Cookie header = %q, want %q", got, want)
	}

	cookies := resp.Cookies()
	if v := cookies.Get("sid"); v != "abc123" {
		t.Fatalf("Cookies().Get(sid) = %q, want abc123", v)
	}
}

func TestRequestCookiesParsesCookieHeader(t *testing.T) {
	req := message.NewRequest()
	req.Header.Set("Cookie", "a=1; b=2")

	cookies := req.Cookies()
	if v := cookies.Get("a"); v != "1" {
		t.Fatalf("Cookies().Get(a) = %q, want 1", v)
	}
	if v := cookies.Get("b"); v != "2" {
		t.Fatalf("Cookies().Get(b) = %q, want 2", v)
	}
}

type fakeInstaller struct {
	installed message.PayloadSink
}

func (f *fakeInstaller) InstallPayloadSink(sink message.PayloadSink) {
	f.installed = sink
}

func TestRequestInstallPayloadSinkClearsBackReference(t *testing.T) {
	req := message.NewRequest()
	installer := &fakeInstaller{}
	req.BindReader(installer)

	called := false
	req.InstallPayloadSink(func(p []byte) error {
		called = true
		return nil
	})

	if installer.installed == nil {
		t.Fatal("sink was not installed on the bound reader")
	}
	installer.installed([]byte("x"))
	if !called {
		t.Fatal("installed sink was not the one passed to InstallPayloadSink")
	}

	// A second call without an intervening BindReader is a no-op: the
	// back-reference was already cleared by the first InstallPayloadSink.
	called2 := false
	req.InstallPayloadSink(func(p []byte) error {
		called2 = true
		return nil
	})
	if called2 {
		t.Fatal("second InstallPayloadSink call was not a no-op after the back-reference was cleared")
	}

	// Rebinding re-arms the capability: a later sink does get installed.
	installer2 := &fakeInstaller{}
	req.BindReader(installer2)
	req.InstallPayloadSink(func(p []byte) error { return nil })
	if installer2.installed == nil {
		t.Fatal("InstallPayloadSink did not install on a freshly bound reader")
	}
}
