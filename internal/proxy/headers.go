package proxy

import (
	"net"
	"net/http"
	"strings"
)

// hopByHop lists the headers spec.md §4.3 requires stripped in both
// directions. "Upgrade" is kept when the request is a WebSocket upgrade;
// the caller is responsible for that exception.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes the fixed hop-by-hop set plus whatever the
// Connection header itself names (the usual HTTP/1.1 convention).
func stripHopByHop(h http.Header) {
	for _, token := range h.Values("Connection") {
		for _, name := range strings.Split(token, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// cloneHeader deep-copies an http.Header, preserving multi-valued entries
// and their order (spec.md §4.3, testable property 6).
func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		cp := make([]string, len(vv))
		copy(cp, vv)
		out[k] = cp
	}
	return out
}

// clientIP extracts the immediate client address from RemoteAddr, falling
// back to the raw value if it has no port.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// applyForwardedHeaders implements spec.md §4.3's X-Forwarded-* rules.
func applyForwardedHeaders(h http.Header, r *http.Request, edgePort string) {
	client := clientIP(r.RemoteAddr)
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		h.Set("X-Forwarded-For", xff+", "+client)
	} else {
		h.Set("X-Forwarded-For", client)
	}

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if isWebSocketUpgrade(r) {
		proto = "ws"
	}
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-Host", r.Host)
	if edgePort != "" {
		h.Set("X-Forwarded-Port", edgePort)
	}
}

// applyCustomHeaders sets configured headers last, overriding any prior
// value on collision (spec.md §4.3).
func applyCustomHeaders(h http.Header, custom map[string]string) {
	for name, value := range custom {
		h.Set(name, value)
	}
}

// isWebSocketUpgrade reports whether r carries the Upgrade/Connection pair
// spec.md §4.3 requires to treat a request as a WebSocket handshake.
func isWebSocketUpgrade(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
