package proxy

import (
	"bufio"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skywalker-88/dynaproxy/internal/router"
	"github.com/skywalker-88/dynaproxy/pkg/config"
)

// echoUpstream accepts one raw TCP connection, reads the relayed HTTP
// upgrade request up to the blank line, and then echoes every byte it
// reads back to the same connection — standing in for an upstream that
// doesn't care about WebSocket framing, only that bytes come back.
func echoUpstream(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		_, _ = io.Copy(conn, r)
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestServeWebSocket_RelaysOpaqueBytes_S5(t *testing.T) {
	upstreamAddr, stop := echoUpstream(t)
	defer stop()

	e := newEngine(map[string]router.Match{
		"/": {Prefix: "/", Target: "http://" + upstreamAddr},
	}, &config.Config{})
	ts := httptest.NewServer(e)
	defer ts.Close()

	tsAddr := strings.TrimPrefix(ts.URL, "http://")
	conn, err := net.Dial("tcp", tsAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := "GET /chat HTTP/1.1\r\n" +
		"Host: " + tsAddr + "\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	payload := "hello-over-the-wire"
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading echoed payload: %v", err)
	}
	if string(buf) != payload {
		t.Fatalf("got %q, want %q", buf, payload)
	}
}

func TestServeWebSocket_UpstreamUnreachable(t *testing.T) {
	e := newEngine(map[string]router.Match{
		"/": {Prefix: "/", Target: "http://127.0.0.1:1"},
	}, &config.Config{TimeoutSec: 1})
	ts := httptest.NewServer(e)
	defer ts.Close()

	tsAddr := strings.TrimPrefix(ts.URL, "http://")
	conn, err := net.Dial("tcp", tsAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := "GET /chat HTTP/1.1\r\n" +
		"Host: " + tsAddr + "\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp, "503") {
		t.Fatalf("status line = %q, want 503", resp)
	}
}
