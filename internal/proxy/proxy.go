// Package proxy is the data plane (spec.md §4.3): resolve a route through
// the router, rewrite the path, forward the request (HTTP or WebSocket),
// and stream bodies bidirectionally under the configured timeouts.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/dynaproxy/internal/errorhandler"
	"github.com/skywalker-88/dynaproxy/internal/router"
	"github.com/skywalker-88/dynaproxy/pkg/config"
)

// Lookuper is the subset of *router.Router the engine depends on, so tests
// can substitute a fake.
type Lookuper interface {
	Lookup(ctx context.Context, path string) (router.Match, error)
}

// Engine is the proxy data plane's entry point; wire it up as the handler
// bound to the public listen surface (spec.md §6).
type Engine struct {
	Router Lookuper
	Cfg    *config.Config
	Errors *errorhandler.Handler

	// Transport is overridable in tests; defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

func New(r Lookuper, cfg *config.Config, eh *errorhandler.Handler) *Engine {
	return &Engine{Router: r, Cfg: cfg, Errors: eh, Transport: http.DefaultTransport}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	match, err := e.Router.Lookup(r.Context(), r.URL.Path)
	if err != nil {
		if errors.Is(err, router.ErrNoRoute) {
			log.Warn().Str("path", r.URL.Path).Msg("no_route_matched")
			e.Errors.Serve(w, r, http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("store_error")
		e.Errors.Serve(w, r, http.StatusInternalServerError)
		return
	}

	upstream, err := buildUpstreamURL(e.Cfg, match, r)
	if err != nil {
		log.Error().Err(err).Str("target", match.Target).Msg("bad_upstream_target")
		e.Errors.Serve(w, r, http.StatusBadGateway)
		return
	}

	if isWebSocketUpgrade(r) {
		e.serveWebSocket(w, r, upstream)
		return
	}

	e.serveHTTP(w, r, upstream, match.Prefix)
	log.Debug().Str("prefix", match.Prefix).Dur("duration", time.Since(start)).Msg("proxied")
}

func (e *Engine) serveHTTP(w http.ResponseWriter, r *http.Request, upstream string, matchedPrefix string) {
	outReq, err := http.NewRequest(r.Method, upstream, r.Body)
	if err != nil {
		log.Error().Err(err).Msg("build_upstream_request")
		e.Errors.Serve(w, r, http.StatusBadGateway)
		return
	}
	outReq.Header = cloneHeader(r.Header)
	stripHopByHop(outReq.Header)

	if e.Cfg.XForward() {
		applyForwardedHeaders(outReq.Header, r, edgePort(r))
	}
	if custom := e.Cfg.CustomHeaderMap(); len(custom) > 0 {
		applyCustomHeaders(outReq.Header, custom)
	}
	if changeOrigin(e.Cfg) {
		outReq.Host = outReq.URL.Host
	} else {
		outReq.Host = r.Host
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	var firstByte *time.Timer
	if e.Cfg.TimeoutSec > 0 {
		firstByte = time.AfterFunc(time.Duration(e.Cfg.TimeoutSec)*time.Second, cancel)
	}
	outReq = outReq.WithContext(ctx)

	client := &http.Client{Transport: e.Transport}
	resp, err := client.Do(outReq)
	timedOut := firstByte != nil && !firstByte.Stop()
	if err != nil {
		if timedOut {
			log.Warn().Str("prefix", matchedPrefix).Str("upstream", upstream).Msg("upstream_timeout")
			e.Errors.Serve(w, r, http.StatusGatewayTimeout)
			return
		}
		log.Warn().Err(err).Str("prefix", matchedPrefix).Str("upstream", upstream).Msg("upstream_unreachable")
		e.Errors.Serve(w, r, http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	respHeader := cloneHeader(resp.Header)
	stripHopByHop(respHeader)
	for name, values := range respHeader {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	body := resp.Body
	if e.Cfg.ProxyTimeoutS > 0 {
		idle := time.Duration(e.Cfg.ProxyTimeoutS) * time.Second
		body = newIdleReadCloser(resp.Body, idle, func() { resp.Body.Close() })
	}
	if _, err := copyBody(w, body); err != nil {
		// Headers are already sent at this point, so spec.md §7's
		// UpstreamAborted case closes the connection without a status.
		log.Warn().Err(err).Str("prefix", matchedPrefix).Msg("upstream_aborted_mid_stream")
		panic(http.ErrAbortHandler)
	}
}

func copyBody(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// buildUpstreamURL implements spec.md §4.3's upstream URL construction.
func buildUpstreamURL(cfg *config.Config, m router.Match, r *http.Request) (string, error) {
	target := strings.TrimRight(m.Target, "/")
	target = strings.Replace(target, "ws://", "http://", 1)
	target = strings.Replace(target, "wss://", "https://", 1)

	suffix := r.URL.Path
	if m.Prefix != "/" {
		suffix = strings.TrimPrefix(r.URL.Path, m.Prefix)
		if cfg.IncludePrefix() {
			suffix = m.Prefix + suffix
		}
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}

	var path string
	if cfg.PrependPath() {
		path = target + suffix
	} else {
		path = originOnly(target) + suffix
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	if r.URL.Fragment != "" {
		path += "#" + r.URL.Fragment
	}
	return path, nil
}

// originOnly strips any path component from target, keeping scheme://host.
func originOnly(target string) string {
	schemeIdx := strings.Index(target, "://")
	if schemeIdx < 0 {
		return target
	}
	rest := target[schemeIdx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		return target[:schemeIdx+3+slash]
	}
	return target
}

// changeOrigin is always false today (spec.md §4.3's default, and §9's
// open question leaves the exact semantics unimplemented) but the hook
// stays so a future Config field can flip it without touching call sites.
func changeOrigin(_ *config.Config) bool { return false }

func edgePort(r *http.Request) string {
	_, port, ok := strings.Cut(r.Host, ":")
	if !ok {
		return ""
	}
	return port
}
