package proxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// serveWebSocket implements spec.md §4.3's upgrade path: hijack the
// client connection, open a raw TCP connection to the upstream, replay
// the request line and (rewritten) headers, then pipe both directions as
// opaque byte streams with no framing interpretation. Grounded on
// other_examples/028878e7_denmat-praxis__router-proxy.go.go's raw TCP
// pipe helper, generalized from a one-shot tunnel into a header-rewriting
// WebSocket handshake relay.
//
// upstream is the fully rewritten URL already produced by
// buildUpstreamURL (ws/wss normalized to http/https by that function).
func (e *Engine) serveWebSocket(w http.ResponseWriter, r *http.Request, upstream string) {
	u, err := url.Parse(upstream)
	if err != nil {
		log.Error().Err(err).Str("upstream", upstream).Msg("bad_websocket_upstream")
		e.Errors.Serve(w, r, http.StatusBadGateway)
		return
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}

	var dialer net.Dialer
	if e.Cfg.TimeoutSec > 0 {
		dialer.Timeout = time.Duration(e.Cfg.TimeoutSec) * time.Second
	}
	upstreamConn, err := dialer.DialContext(r.Context(), "tcp", addr)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("websocket_upstream_unreachable")
		e.Errors.Serve(w, r, http.StatusServiceUnavailable)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		log.Error().Msg("response_writer_not_hijackable")
		e.Errors.Serve(w, r, http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstreamConn.Close()
		log.Error().Err(err).Msg("hijack_failed")
		return
	}

	header := cloneHeader(r.Header)
	stripHopByHop(header)
	header.Set("Connection", "Upgrade")
	header.Set("Upgrade", "websocket")
	if e.Cfg.XForward() {
		applyForwardedHeaders(header, r, edgePort(r))
	}
	if custom := e.Cfg.CustomHeaderMap(); len(custom) > 0 {
		applyCustomHeaders(header, custom)
	}

	requestLine := r.Method + " " + u.RequestURI() + " HTTP/1.1\r\n"
	if _, err := upstreamConn.Write([]byte(requestLine)); err != nil {
		closeBoth(clientConn, upstreamConn)
		return
	}
	if changeOrigin(e.Cfg) {
		header.Set("Host", u.Host)
	} else {
		header.Set("Host", r.Host)
	}
	if err := header.Write(upstreamConn); err != nil {
		closeBoth(clientConn, upstreamConn)
		return
	}
	if _, err := upstreamConn.Write([]byte("\r\n")); err != nil {
		closeBoth(clientConn, upstreamConn)
		return
	}

	// Any bytes the HTTP server already buffered off the client socket
	// (e.g. a handshake body or pipelined frame) must be replayed to the
	// upstream before streaming begins.
	if clientBuf.Reader.Buffered() > 0 {
		if _, err := io.CopyN(upstreamConn, clientBuf.Reader, int64(clientBuf.Reader.Buffered())); err != nil {
			closeBoth(clientConn, upstreamConn)
			return
		}
	}

	var idle time.Duration
	if e.Cfg.ProxyTimeoutS > 0 {
		idle = time.Duration(e.Cfg.ProxyTimeoutS) * time.Second
	}
	pipeBoth(clientConn, upstreamConn, idle)
}

func closeBoth(a, b net.Conn) {
	a.Close()
	b.Close()
}

// pipeBoth forwards bytes in both directions until either side closes,
// per spec.md §4.3: "forwards both directions as opaque byte streams
// until either side closes. No framing interpretation." When idle is
// positive, each direction's read deadline is pushed out after every
// successful read, so a connection that goes quiet for longer than idle
// is torn down the same way the HTTP path's idleReadCloser enforces
// proxy_timeout on a streaming response body.
func pipeBoth(a, b net.Conn, idle time.Duration) {
	done := make(chan struct{}, 2)
	go func() {
		_, _ = copyIdle(a, b, idle)
		done <- struct{}{}
	}()
	go func() {
		_, _ = copyIdle(b, a, idle)
		done <- struct{}{}
	}()
	<-done
	a.Close()
	b.Close()
}

// copyIdle is io.Copy with an optional per-read deadline reset on src.
func copyIdle(dst io.Writer, src net.Conn, idle time.Duration) (int64, error) {
	if idle <= 0 {
		return io.Copy(dst, src)
	}
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := src.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}
