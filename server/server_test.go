package server_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/server"
)

// startServer brings up srv in the background and dials it once it is
// actually accepting connections, returning the live connection.
func startServer(t *testing.T, srv *server.Server) net.Conn {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	t.Cleanup(func() { srv.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("ListenAndServe exited early: %v", err)
		default:
		}
		if addr := srv.Addr(); addr != nil {
			conn, err := net.Dial("tcp", addr.String())
			if err == nil {
				return conn
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start accepting connections within 2s")
	return nil
}

func readResponse(t *testing.T, conn net.Conn) (statusLine string, headers map[string]string, body string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	statusLine = line

	headers = make(map[string]string)
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
		colon := -1
		for i := 0; i < len(line); i++ {
			if line[i] == ':' {
				colon = i
				break
			}
		}
		if colon < 0 {
			continue
		}
		name := line[:colon]
		value := line[colon+2 : len(line)-2] // skip ": " prefix and trailing CRLF
		headers[name] = value
		if name == "Content-Length" {
			var n int
			for _, c := range value {
				if c < '0' || c > '9' {
					break
				}
				n = n*10 + int(c-'0')
			}
			contentLength = n
		}
	}

	if contentLength > 0 {
		buf := make([]byte, contentLength)
		if _, err := r.Read(buf); err != nil {
			t.Fatalf("reading body: %v", err)
		}
		body = string(buf)
	}
	return statusLine, headers, body
}

// Scenario 1: GET keep-alive (spec.md §8).
func TestScenarioGetKeepAlive(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := server.New(cfg)
	srv.Handle("GET", "/hello", func(ctx *server.Context) {
		ctx.Resp.Content = []byte("Hello")
		ctx.Writer.SendResponse(func(error) {})
	}, nil)

	conn := startServer(t, srv)
	defer conn.Close()

	conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	status, headers, body := readResponse(t, conn)

	if status != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q", status)
	}
	if headers["Content-Length"] != "5" {
		t.Fatalf("Content-Length = %q, want 5", headers["Content-Length"])
	}
	if body != "Hello" {
		t.Fatalf("body = %q, want Hello", body)
	}

	// Keep-alive: a second request on the same connection must also
	// succeed.
	conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	status2, _, body2 := readResponse(t, conn)
	if status2 != "HTTP/1.1 200 OK\r\n" || body2 != "Hello" {
		t.Fatalf("second request on kept-alive connection failed: %q %q", status2, body2)
	}
}

// Scenario 3: Expect-continue upload (spec.md §8).
func TestScenarioExpectContinueUpload(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := server.New(cfg)

	received := make(chan string, 1)
	srv.Handle("POST", "/upload", func(ctx *server.Context) {
		ctx.Resp.StatusCode, ctx.Resp.StatusMessage = 200, "OK"
		ctx.Writer.SendResponse(func(error) {})
	}, func(req *message.Request) message.PayloadSink {
		var buf []byte
		return func(p []byte) error {
			buf = append(buf, p...)
			received <- string(buf)
			return nil
		}
	})

	conn := startServer(t, srv)
	defer conn.Close()

	conn.Write([]byte("POST /upload HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	interim, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading interim status: %v", err)
	}
	if interim != "HTTP/1.1 100 Continue\r\n" {
		t.Fatalf("interim status = %q, want HTTP/1.1 100 Continue", interim)
	}
	blank, _ := r.ReadString('\n')
	if blank != "\r\n" {
		t.Fatalf("interim terminator = %q", blank)
	}

	conn.Write([]byte("data"))

	select {
	case got := <-received:
		if got != "data" {
			t.Fatalf("payload sink received %q, want data", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("payload sink was not invoked within 2s")
	}
}

// Scenario 4: bad request (spec.md §8).
func TestScenarioBadRequest(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := server.New(cfg)

	conn := startServer(t, srv)
	defer conn.Close()

	conn.Write([]byte("GET /x HTTP/9.9\r\n\r\n"))
	status, headers, body := readResponse(t, conn)

	if status != "HTTP/1.1 400 Bad Request\r\n" {
		t.Fatalf("status line = %q, want HTTP/1.1 400 Bad Request", status)
	}
	if headers["Connection"] != "close" {
		t.Fatalf("Connection = %q, want close", headers["Connection"])
	}
	if !contains(body, `"code": 400`) {
		t.Fatalf("body = %q, want it to contain \"code\": 400", body)
	}
}

// Scenario 5: not found (spec.md §8).
func TestScenarioNotFound(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := server.New(cfg)

	conn := startServer(t, srv)
	defer conn.Close()

	conn.Write([]byte("GET /nope HTTP/1.1\r\nHost:x\r\n\r\n"))
	status, _, body := readResponse(t, conn)

	if status != "HTTP/1.1 404 Not Found\r\n" {
		t.Fatalf("status line = %q, want HTTP/1.1 404 Not Found", status)
	}
	if !contains(body, `"code": 404`) || !contains(body, "/nope") {
		t.Fatalf("body = %q, want it to contain \"code\": 404 and /nope", body)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
