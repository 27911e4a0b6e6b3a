package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key")
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("put: %v", err)
	}

	val, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(val) != "two" {
		t.Fatalf("expected two, got %q", val)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestJSONHelpers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type payload struct {
		Pinned []string `json:"pinned"`
	}
	if err := PutJSON(ctx, s, KeyGroupOverrides, payload{Pinned: []string{"a", "b"}}); err != nil {
		t.Fatalf("put json: %v", err)
	}

	var got payload
	ok, err := GetJSON(ctx, s, KeyGroupOverrides, &got)
	if err != nil || !ok {
		t.Fatalf("get json: ok=%v err=%v", ok, err)
	}
	if len(got.Pinned) != 2 || got.Pinned[1] != "b" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Put(context.Background(), "k", []byte("v"))
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	val, ok, _ := s2.Get(context.Background(), "k")
	if !ok || string(val) != "v" {
		t.Fatalf("expected persisted value, got ok=%v val=%q", ok, val)
	}
}

func TestLeaseExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := s.TryAcquireLease(ctx, "quota", "window-a", now, 15*time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := s.TryAcquireLease(ctx, "quota", "window-b", now.Add(5*time.Second), 15*time.Second)
	if !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}

	if err := s.TryAcquireLease(ctx, "quota", "window-a", now.Add(5*time.Second), 15*time.Second); err != nil {
		t.Fatalf("owner renew: %v", err)
	}

	info, ok, err := s.Lease(ctx, "quota")
	if err != nil || !ok {
		t.Fatalf("lease: ok=%v err=%v", ok, err)
	}
	if info.Owner != "window-a" || !info.Heartbeat.Equal(now.Add(5*time.Second)) {
		t.Fatalf("unexpected lease: %+v", info)
	}
}

func TestLeaseStaleTakeover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.TryAcquireLease(ctx, "quota", "window-a", now, 15*time.Second)

	if err := s.TryAcquireLease(ctx, "quota", "window-b", now.Add(16*time.Second), 15*time.Second); err != nil {
		t.Fatalf("expected stale takeover, got %v", err)
	}
	info, _, _ := s.Lease(ctx, "quota")
	if info.Owner != "window-b" {
		t.Fatalf("expected window-b to own lease, got %s", info.Owner)
	}
}

func TestLeaseRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.TryAcquireLease(ctx, "quota", "window-a", now, 15*time.Second)

	// Non-owner release is ignored.
	s.ReleaseLease(ctx, "quota", "window-b")
	if _, ok, _ := s.Lease(ctx, "quota"); !ok {
		t.Fatal("expected lease to survive non-owner release")
	}

	s.ReleaseLease(ctx, "quota", "window-a")
	if _, ok, _ := s.Lease(ctx, "quota"); ok {
		t.Fatal("expected lease to be released")
	}

	if err := s.TryAcquireLease(ctx, "quota", "window-b", now, 15*time.Second); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
