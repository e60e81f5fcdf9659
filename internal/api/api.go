// Package api is the management API (spec.md §4.4): token-authenticated
// CRUD over /api/routes, delegating persistence directly to the Store;
// requests do not pass through the Router. Laid out the way the teacher mounts its Chi router
// (internal/httpserver/router.go).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/dynaproxy/internal/middleware"
	"github.com/skywalker-88/dynaproxy/internal/store"
)

const mountPrefix = "/api/routes"

// Server exposes the management API's HTTP handler.
type Server struct {
	Store store.Store
}

func New(st store.Store, authToken string) http.Handler {
	s := &Server{Store: st}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.AccessLogger)
	r.Use(middleware.TokenAuth(authToken))

	r.Route(mountPrefix, func(sub chi.Router) {
		sub.Get("/", s.handleList)
		sub.Get("/*", s.handleGet)
		sub.Post("/*", s.handleUpsert)
		sub.Put("/*", s.handleUpsert)
		sub.Delete("/*", s.handleDelete)
	})

	return r
}

// prefixFromPath extracts the route prefix from the request's raw
// (percent-encoded) path, so normalization decodes it exactly once, per
// spec.md §4.4.
func prefixFromPath(escapedPath string) (string, error) {
	rest := strings.TrimPrefix(escapedPath, mountPrefix)
	if rest == "" {
		rest = "/"
	}
	return store.Normalize(rest)
}

type routeResponse struct {
	Target       string          `json:"target"`
	LastActivity string          `json:"last_activity"`
	Data         json.RawMessage `json:"data,omitempty"`
}

func toResponse(rec store.Record) routeResponse {
	return routeResponse{
		Target:       rec.Target,
		LastActivity: rec.LastActivity.UTC().Format(time.RFC3339Nano),
		Data:         rec.Data,
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := s.Store.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	inactiveSince := r.URL.Query().Get("inactive_since")
	var cutoff time.Time
	filter := false
	if inactiveSince != "" {
		t, err := time.Parse(time.RFC3339, inactiveSince)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_inactive_since")
			return
		}
		cutoff = t
		filter = true
	}

	out := make(map[string]routeResponse, len(all))
	for prefix, rec := range all {
		if filter && !rec.LastActivity.Before(cutoff) {
			continue
		}
		out[prefix] = toResponse(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	prefix, err := prefixFromPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_prefix")
		return
	}
	rec, err := s.Store.Get(r.Context(), prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

type upsertBody struct {
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	prefix, err := prefixFromPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_prefix")
		return
	}

	var body upsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if body.Target == "" {
		// spec.md §9's open question: a target-less PUT is rejected, not
		// silently accepted as a metadata-only update.
		writeError(w, http.StatusBadRequest, "missing_target")
		return
	}

	rec := store.Record{
		Target:       body.Target,
		LastActivity: time.Now().UTC(),
		Data:         body.Data,
	}
	if err := s.Store.Add(r.Context(), prefix, rec); err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("route_upsert_failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	stored, err := s.Store.Get(r.Context(), prefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	log.Info().Str("prefix", prefix).Str("target", stored.Target).Msg("route_upserted")
	writeJSON(w, http.StatusCreated, toResponse(stored))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	prefix, err := prefixFromPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_prefix")
		return
	}
	if err := s.Store.Remove(r.Context(), prefix); err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("route_remove_failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	log.Info().Str("prefix", prefix).Msg("route_removed")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
