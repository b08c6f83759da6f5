package reader_test

import (
	"net"
	"testing"
	"time"

	"github.com/momentics/reqpipe/internal/concurrency"
	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/pool"
	"github.com/momentics/reqpipe/reader"
	"github.com/momentics/reqpipe/transport"
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

func TestReaderParsesSimpleRequestAndKeepsAlive(t *testing.T) {
	conn, client := newTestConnection(t)
	go client.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\n\r\n"))

	type result struct {
		req *message.Request
		err error
	}
	done := make(chan result, 1)

	r := reader.New(conn, 1<<20, time.Second,
		func(req *message.Request) reader.BodyDecision { return reader.IgnoreBody },
		func(req *message.Request, err error) { done <- result{req, err} },
	)
	r.Start()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("onCompleted err = %v", res.err)
		}
		if res.req.Method != "GET" || res.req.Resource != "/ping" {
			t.Fatalf("parsed %s %s, want GET /ping", res.req.Method, res.req.Resource)
		}
		if conn.Tag() != transport.LifecycleKeepAlive {
			t.Fatalf("Tag() = %v, want LifecycleKeepAlive", conn.Tag())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not complete within 2s")
	}
}

func TestReaderHonorsConnectionClose(t *testing.T) {
	conn, client := newTestConnection(t)
	go client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))

	done := make(chan error, 1)
	r := reader.New(conn, 1<<20, time.Second,
		func(req *message.Request) reader.BodyDecision { return reader.IgnoreBody },
		func(req *message.Request, err error) { done <- err },
	)
	r.Start()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onCompleted err = %v", err)
		}
		if conn.Tag() != transport.LifecycleClose {
			t.Fatalf("Tag() = %v, want LifecycleClose", conn.Tag())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not complete within 2s")
	}
}

func TestReaderClosesHTTP10WithoutKeepAliveToken(t *testing.T) {
	conn, client := newTestConnection(t)
	go client.Write([]byte("GET / HTTP/1.0\r\nHost: x\r\n\r\n"))

	done := make(chan error, 1)
	r := reader.New(conn, 1<<20, time.Second,
		func(req *message.Request) reader.BodyDecision { return reader.IgnoreBody },
		func(req *message.Request, err error) { done <- err },
	)
	r.Start()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onCompleted err = %v", err)
		}
		if conn.Tag() != transport.LifecycleClose {
			t.Fatalf("Tag() = %v, want LifecycleClose for an HTTP/1.0 request with no keep-alive token", conn.Tag())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not complete within 2s")
	}
}

func TestReaderDetectsPipelinedTail(t *testing.T) {
	conn, client := newTestConnection(t)
	raw := "GET /first HTTP/1.1\r\nHost: x\r\n\r\n" + "GET /second HTTP/1.1\r\nHost: x\r\n\r\n"
	go client.Write([]byte(raw))

	done := make(chan *message.Request, 1)
	r := reader.New(conn, 1<<20, time.Second,
		func(req *message.Request) reader.BodyDecision { return reader.IgnoreBody },
		func(req *message.Request, err error) {
			if err != nil {
				t.Errorf("onCompleted err = %v", err)
			}
			done <- req
		},
	)
	r.Start()

	select {
	case req := <-done:
		if req.Resource != "/first" {
			t.Fatalf("Resource = %q, want /first", req.Resource)
		}
		if conn.Tag() != transport.LifecyclePipelined {
			t.Fatalf("Tag() = %v, want LifecyclePipelined", conn.Tag())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not complete within 2s")
	}
}

func TestReaderReceivesContentLengthBodyViaSink(t *testing.T) {
	conn, client := newTestConnection(t)
	go client.Write([]byte("POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"))

	var received []byte
	done := make(chan error, 1)
	r := reader.New(conn, 1<<20, time.Second,
		func(req *message.Request) reader.BodyDecision {
			req.InstallPayloadSink(func(p []byte) error {
				received = append(received, p...)
				return nil
			})
			return reader.ContinueBody
		},
		func(req *message.Request, err error) { done <- err },
	)
	r.Start()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onCompleted err = %v", err)
		}
		if string(received) != "hello" {
			t.Fatalf("sink received %q, want hello", received)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not complete within 2s")
	}
}
