// Package router is the thin coordinator between the proxy data plane and
// the Store (spec.md §4.2): normalize, look up, fire a best-effort activity
// update, return.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/dynaproxy/internal/store"
)

// ErrNoRoute is the not-found sentinel spec.md §4.2 calls for.
var ErrNoRoute = errors.New("router: no route matched")

// Match is what the proxy engine needs to build an upstream URL.
type Match struct {
	Prefix string
	Target string
	Data   []byte
}

// Router is cache-free: every Lookup hits the Store directly. Activity
// updates are fired in a background goroutine and never block dispatch.
type Router struct {
	st store.Store
}

func New(st store.Store) *Router {
	return &Router{st: st}
}

// Lookup normalizes path, asks the Store for the longest matching prefix,
// and — on a hit — schedules a best-effort last_activity update. Failure
// to match returns ErrNoRoute; failures in the async update are logged,
// never surfaced (spec.md §4.2, §5).
func (r *Router) Lookup(ctx context.Context, path string) (Match, error) {
	rec, err := r.st.GetTarget(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Match{}, ErrNoRoute
		}
		return Match{}, err
	}

	prefix := rec.Prefix
	go r.touchActivity(prefix)

	return Match{Prefix: prefix, Target: rec.Target, Data: rec.Data}, nil
}

// touchActivity runs detached from the request's context: the request must
// not wait on it, and its cancellation must not cancel the update.
func (r *Router) touchActivity(prefix string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().UTC()
	if err := r.st.Update(ctx, prefix, store.Patch{LastActivity: &now}); err != nil {
		log.Warn().Err(err).Str("prefix", prefix).Msg("activity_update_failed")
	}
}

// SeedDefault inserts target at "/" if no record already exists there.
// Used by main to apply --default-target once at startup (SPEC_FULL.md
// "Supplemented features").
func (r *Router) SeedDefault(ctx context.Context, target string) error {
	if target == "" {
		return nil
	}
	if _, err := r.st.Get(ctx, "/"); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return r.st.Add(ctx, "/", store.Record{Target: target, LastActivity: time.Now().UTC()})
}
