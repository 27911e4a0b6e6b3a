package lease

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/autoaccept/internal/store"
)

func newTestBackend(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSingleLeader(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	a := New(Config{Name: "quota"}, backend, nil)
	b := New(Config{Name: "quota"}, backend, nil)

	if !a.Tick(ctx) {
		t.Fatal("expected first elector to lead")
	}
	if b.Tick(ctx) {
		t.Fatal("expected second elector to follow")
	}
	if a.Owner() == b.Owner() {
		t.Fatal("expected distinct owner ids")
	}
}

func TestStaleLeaderReplaced(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := New(Config{Name: "quota"}, backend, nil)
	a.now = func() time.Time { return base }
	b := New(Config{Name: "quota"}, backend, nil)
	b.now = func() time.Time { return base.Add(DefaultStaleAfter + time.Second) }

	a.Tick(ctx)
	if !b.Tick(ctx) {
		t.Fatal("expected takeover of stale lease")
	}
	if a.Tick(ctx) {
		t.Fatal("expected old leader to observe loss")
	}
	if a.IsLeader() {
		t.Fatal("expected IsLeader false after loss")
	}
}

func TestRunReleasesOnCancel(t *testing.T) {
	backend := newTestBackend(t)

	a := New(Config{Name: "quota", Heartbeat: 10 * time.Millisecond}, backend, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !a.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !a.IsLeader() {
		t.Fatal("expected elector to lead while running")
	}

	cancel()
	<-done

	if _, ok, _ := backend.Lease(context.Background(), "quota"); ok {
		t.Fatal("expected lease released after Run returns")
	}
}

// flakyBackend fails every call while down is set.
type flakyBackend struct {
	Backend
	down bool
}

func (f *flakyBackend) TryAcquireLease(ctx context.Context, name, owner string, now time.Time, staleAfter time.Duration) error {
	if f.down {
		return errors.New("database is locked")
	}
	return f.Backend.TryAcquireLease(ctx, name, owner, now, staleAfter)
}

func TestStorageErrorsDropLeadershipAfterStaleWindow(t *testing.T) {
	backend := &flakyBackend{Backend: newTestBackend(t)}
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base

	e := New(Config{Name: "quota"}, backend, nil)
	e.now = func() time.Time { return clock }
	if !e.Tick(ctx) {
		t.Fatal("expected to lead")
	}

	backend.down = true
	clock = base.Add(DefaultHeartbeat)
	if !e.Tick(ctx) {
		t.Fatal("expected to keep leadership inside the stale window")
	}

	clock = base.Add(DefaultStaleAfter)
	if e.Tick(ctx) {
		t.Fatal("expected leadership dropped once the stale window passed")
	}

	backend.down = false
	clock = base.Add(DefaultStaleAfter + time.Second)
	if !e.Tick(ctx) {
		t.Fatal("expected to reacquire after storage recovers")
	}
}
