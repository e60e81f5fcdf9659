package router

import (
	"context"
	"testing"
	"time"

	"github.com/skywalker-88/dynaproxy/internal/store"
)

func TestLookup_MatchAndNoRoute(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Add(ctx, "/user/abc", store.Record{Target: "http://b", LastActivity: time.Now()}); err != nil {
		t.Fatal(err)
	}
	r := New(st)

	m, err := r.Lookup(ctx, "/user/abc/page")
	if err != nil {
		t.Fatal(err)
	}
	if m.Prefix != "/user/abc" || m.Target != "http://b" {
		t.Fatalf("got %+v", m)
	}

	if _, err := r.Lookup(ctx, "/nope"); err != ErrNoRoute {
		t.Fatalf("want ErrNoRoute, got %v", err)
	}
}

func TestLookup_UpdatesActivityAsynchronously(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	t0 := time.Now().Add(-time.Hour).UTC()
	if err := st.Add(ctx, "/x", store.Record{Target: "http://a", LastActivity: t0}); err != nil {
		t.Fatal(err)
	}
	r := New(st)

	if _, err := r.Lookup(ctx, "/x"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.Get(ctx, "/x")
		if err != nil {
			t.Fatal(err)
		}
		if rec.LastActivity.After(t0) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("last_activity was not updated in time")
}

func TestSeedDefault_OnlyWhenAbsent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r := New(st)

	if err := r.SeedDefault(ctx, "http://default"); err != nil {
		t.Fatal(err)
	}
	rec, err := st.Get(ctx, "/")
	if err != nil || rec.Target != "http://default" {
		t.Fatalf("default route not seeded: %+v err=%v", rec, err)
	}

	if err := r.SeedDefault(ctx, "http://other"); err != nil {
		t.Fatal(err)
	}
	rec, _ = st.Get(ctx, "/")
	if rec.Target != "http://default" {
		t.Fatalf("SeedDefault must not override an existing root route, got %+v", rec)
	}
}
