package store

import (
	"context"
	"testing"
	"time"
)

func TestMemory_AddGetTargetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Add(ctx, "/", Record{Target: "http://a", LastActivity: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(ctx, "/user/abc", Record{Target: "http://b", LastActivity: time.Now()}); err != nil {
		t.Fatal(err)
	}

	rec, err := m.GetTarget(ctx, "/user/abc/page")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Prefix != "/user/abc" || rec.Target != "http://b" {
		t.Fatalf("got %+v", rec)
	}

	rec, err = m.GetTarget(ctx, "/user/xyz")
	if err != nil || rec.Prefix != "/" {
		t.Fatalf("want root fallback, got %+v err=%v", rec, err)
	}

	if err := m.Remove(ctx, "/user/abc"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(ctx, "/user/abc"); err != nil {
		t.Fatalf("remove must be idempotent: %v", err)
	}

	if _, err := m.Get(ctx, "/user/abc"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemory_AddReplacesTargetMergesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t0 := time.Now().Add(-time.Hour)
	if err := m.Add(ctx, "/x", Record{Target: "http://old", LastActivity: t0, Data: []byte(`{"user":"alice"}`)}); err != nil {
		t.Fatal(err)
	}

	t1 := time.Now()
	if err := m.Add(ctx, "/x", Record{Target: "http://new", LastActivity: t1, Data: []byte(`{"server_name":"n1"}`)}); err != nil {
		t.Fatal(err)
	}

	rec, err := m.Get(ctx, "/x")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Target != "http://new" {
		t.Fatalf("target not replaced: %+v", rec)
	}
	if !rec.LastActivity.Equal(t1) {
		t.Fatalf("last_activity not reset on replace: %+v", rec)
	}
	if string(rec.Data) != `{"server_name":"n1","user":"alice"}` {
		t.Fatalf("data not merged: %s", rec.Data)
	}
}

func TestMemory_UpdateNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	target := "http://x"
	if err := m.Update(ctx, "/missing", Patch{Target: &target}); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
