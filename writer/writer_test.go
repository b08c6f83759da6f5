package writer_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/momentics/reqpipe/internal/concurrency"
	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/pool"
	"github.com/momentics/reqpipe/transport"
	"github.com/momentics/reqpipe/writer"
)

func newTestConnection(t *testing.T) (*transport.Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sched := concurrency.New(1)
	sched.Startup()
	t.Cleanup(sched.Shutdown)

	p := pool.NewBufferPool(1, pool.ReadBufferSize)
	conn := transport.New(server, sched, p, false)
	return conn, client
}

func waitForResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not invoke done within 2s")
		return nil
	}
}

func TestSendResponseFramesWithContentLength(t *testing.T) {
	conn, client := newTestConnection(t)
	resp := message.NewResponse("GET")
	resp.Content = []byte("hello")
	w := writer.New(conn, resp)

	resultCh := make(chan error, 1)
	w.SendResponse(func(err error) { resultCh <- err })

	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q, want HTTP/1.1 200 OK", statusLine)
	}

	var contentLength string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if len(line) >= len("content-length") && toLower(line[:14]) == "content-length" {
			contentLength = line
		}
	}
	if contentLength == "" {
		t.Fatal("missing Content-Length header")
	}

	body := make([]byte, 5)
	if _, err := r.Read(body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want hello", body)
	}

	if err := waitForResult(t, resultCh); err != nil {
		t.Fatalf("SendResponse done callback: %v", err)
	}
}

func TestOnFinishRunsBeforeSendResponseDone(t *testing.T) {
	conn, client := newTestConnection(t)
	resp := message.NewResponse("GET")
	resp.Content = []byte("hi")
	w := writer.New(conn, resp)

	var onFinishRan bool
	w.OnFinish = func(error) { onFinishRan = true }

	resultCh := make(chan error, 1)
	w.SendResponse(func(err error) { resultCh <- err })

	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := waitForResult(t, resultCh); err != nil {
		t.Fatalf("SendResponse done callback: %v", err)
	}
	if !onFinishRan {
		t.Fatal("OnFinish did not run before the response's done callback")
	}
}

func TestSendFinalChunkRunsOnFinish(t *testing.T) {
	conn, client := newTestConnection(t)
	resp := message.NewResponse("GET")
	w := writer.New(conn, resp)

	var onFinishRan bool
	w.OnFinish = func(error) { onFinishRan = true }

	resultCh := make(chan error, 1)
	go func() {
		w.SendChunk([]byte("x"), func(error) {
			w.SendFinalChunk(nil, func(err error) { resultCh <- err })
		})
	}()

	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := waitForResult(t, resultCh); err != nil {
		t.Fatalf("SendFinalChunk done callback: %v", err)
	}
	if !onFinishRan {
		t.Fatal("OnFinish did not run for a chunked response's final chunk")
	}
}

func TestSendResponseHeadHasNoBody(t *testing.T) {
	conn, client := newTestConnection(t)
	resp := message.NewResponse("HEAD")
	resp.Content = []byte("should not appear")
	w := writer.New(conn, resp)

	resultCh := make(chan error, 1)
	w.SendResponse(func(err error) { resultCh <- err })

	r := bufio.NewReader(client)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading response: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
	// Nothing further should be written for a HEAD response; set a short
	// read deadline and ensure no extra bytes arrive before it.
	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err == nil {
		t.Fatal("expected no body bytes for a HEAD response")
	}
	<-resultCh
}

func TestSendChunkEmitsTransferEncodingChunked(t *testing.T) {
	conn, client := newTestConnection(t)
	resp := message.NewResponse("GET")
	w := writer.New(conn, resp)

	done := make(chan struct{})
	go func() {
		w.SendChunk([]byte("abc"), func(error) {
			w.SendFinalChunk(nil, func(error) { close(done) })
		})
	}()

	r := bufio.NewReader(client)
	statusLine, _ := r.ReadString('\n')
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q", statusLine)
	}
	sawChunked := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if line == "Transfer-Encoding: chunked\r\n" {
			sawChunked = true
		}
	}
	if !sawChunked {
		t.Fatal("missing Transfer-Encoding: chunked header")
	}

	sizeLine, _ := r.ReadString('\n')
	if sizeLine != "3\r\n" {
		t.Fatalf("chunk size line = %q, want 3", sizeLine)
	}
	data := make([]byte, 3)
	if _, err := r.Read(data); err != nil {
		t.Fatalf("reading chunk data: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("chunk data = %q, want abc", data)
	}
	trailingCRLF, _ := r.ReadString('\n')
	if trailingCRLF != "\r\n" {
		t.Fatalf("chunk trailing CRLF = %q", trailingCRLF)
	}

	finalChunk, _ := r.ReadString('\n')
	if finalChunk != "0\r\n" {
		t.Fatalf("final chunk size line = %q, want 0", finalChunk)
	}
	finalCRLF, _ := r.ReadString('\n')
	if finalCRLF != "\r\n" {
		t.Fatalf("final chunk terminator = %q", finalCRLF)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendFinalChunk did not complete within 2s")
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
