// Package lease elects one active instance among several processes sharing a store.
// The holder renews a heartbeat; a lease with no heartbeat inside the stale window
// can be claimed by anyone.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/autoaccept/internal/store"
)

// Defaults.
const (
	DefaultStaleAfter = 15 * time.Second
	DefaultHeartbeat  = 5 * time.Second
)

// Backend is the lease storage the elector needs.
type Backend interface {
	TryAcquireLease(ctx context.Context, name, owner string, now time.Time, staleAfter time.Duration) error
	ReleaseLease(ctx context.Context, name, owner string) error
}

// Config holds elector timing.
type Config struct {
	Name       string        `yaml:"name"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
}

// Elector tries to hold one named lease for the life of Run.
type Elector struct {
	cfg     Config
	backend Backend
	owner   string
	log     *slog.Logger
	now     func() time.Time
	leader  atomic.Bool

	// lastBeat is the last successful acquire or renew. Only Tick touches it.
	lastBeat time.Time
}

// New creates an elector with a fresh random owner id.
func New(cfg Config, backend Backend, log *slog.Logger) *Elector {
	if cfg.Name == "" {
		cfg.Name = "autoaccept"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if log == nil {
		log = slog.Default()
	}
	return &Elector{
		cfg:     cfg,
		backend: backend,
		owner:   uuid.NewString(),
		log:     log,
		now:     time.Now,
	}
}

// Owner returns this instance's owner id.
func (e *Elector) Owner() string { return e.owner }

// IsLeader reports whether the last heartbeat held the lease.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// Tick makes one acquire-or-renew attempt and returns the resulting leadership.
// It must not be called concurrently.
func (e *Elector) Tick(ctx context.Context) bool {
	now := e.now()
	err := e.backend.TryAcquireLease(ctx, e.cfg.Name, e.owner, now, e.cfg.StaleAfter)
	was := e.leader.Load()
	switch {
	case err == nil:
		e.lastBeat = now
		e.leader.Store(true)
		if !was {
			e.log.Info("lease acquired", "lease", e.cfg.Name, "owner", e.owner)
		}
	case errors.Is(err, store.ErrLeaseHeld):
		e.leader.Store(false)
		if was {
			e.log.Warn("lease lost", "lease", e.cfg.Name, "owner", e.owner)
		}
	default:
		e.log.Debug("lease heartbeat failed", "lease", e.cfg.Name, "err", err)
		// Past the stale window another instance may already hold the lease.
		if was && now.Sub(e.lastBeat) >= e.cfg.StaleAfter {
			e.leader.Store(false)
			e.log.Warn("lease expired without heartbeat", "lease", e.cfg.Name, "owner", e.owner)
		}
	}
	return e.leader.Load()
}

// Run heartbeats until ctx is cancelled, then releases the lease if held.
func (e *Elector) Run(ctx context.Context) error {
	e.Tick(ctx)

	ticker := time.NewTicker(e.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.leader.Load() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = e.backend.ReleaseLease(releaseCtx, e.cfg.Name, e.owner)
				cancel()
				e.leader.Store(false)
			}
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}
