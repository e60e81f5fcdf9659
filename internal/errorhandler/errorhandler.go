// Package errorhandler implements spec.md §4.5's precedence chain: an
// error_target sub-request, then a local error_path page, then a minimal
// built-in page. It never consults the Router and never recurses.
package errorhandler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler serves spec.md §4.5 error pages. Its fields are exported and are
// read on every Serve call.
type Handler struct {
	ErrorTarget string
	ErrorPath   string
	Client      *http.Client
}

func New(errorTarget, errorPath string) *Handler {
	return &Handler{
		ErrorTarget: errorTarget,
		ErrorPath:   errorPath,
		Client:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Serve writes an error response for status to w, following the
// precedence order in spec.md §4.5.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, status int) {
	if h.ErrorTarget != "" {
		if h.serveFromTarget(w, r, status) {
			return
		}
	}
	if h.ErrorPath != "" {
		if h.serveFromPath(w, status) {
			return
		}
	}
	h.serveBuiltin(w, status)
}

// serveFromTarget issues a GET to ErrorTarget + "/" + status with the
// original request's headers minus body, and relays the sub-response's
// status line and body. Returns false (falling through to (2)) if the
// sub-request itself fails.
func (h *Handler) serveFromTarget(w http.ResponseWriter, r *http.Request, status int) bool {
	url := h.ErrorTarget + "/" + strconv.Itoa(status)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Warn().Err(err).Str("error_target", h.ErrorTarget).Msg("error_target_bad_url")
		return false
	}
	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("error_target", h.ErrorTarget).Msg("error_target_unreachable")
		return false
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := copyAll(w, resp.Body); err != nil {
		log.Warn().Err(err).Msg("error_target_copy_failed")
	}
	return true
}

// serveFromPath looks up "<ErrorPath>/<status>.html", falling back to
// "<ErrorPath>/error.html". Returns false if neither exists.
func (h *Handler) serveFromPath(w http.ResponseWriter, status int) bool {
	candidates := []string{
		filepath.Join(h.ErrorPath, fmt.Sprintf("%d.html", status)),
		filepath.Join(h.ErrorPath, "error.html"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return true
	}
	return false
}

// serveBuiltin emits a minimal page with the numeric status and reason
// phrase; this step never fails.
func (h *Handler) serveBuiltin(w http.ResponseWriter, status int) {
	reqID := uuid.NewString()
	body := fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>%d %s</title></head><body><h1>%d %s</h1><p>request-id: %s</p></body></html>",
		status, http.StatusText(status), status, http.StatusText(status), reqID,
	)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func copyAll(w http.ResponseWriter, body io.Reader) (int64, error) {
	n, err := io.Copy(w, body)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}
