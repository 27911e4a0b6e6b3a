// Package refresh periodically fetches quota data, groups it and stores the
// result for display. Only the instance holding the lease refreshes.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/autoaccept/internal/grouping"
	"github.com/ppiankov/autoaccept/internal/locator"
	"github.com/ppiankov/autoaccept/internal/quota"
	"github.com/ppiankov/autoaccept/internal/statusapi"
	"github.com/ppiankov/autoaccept/internal/store"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 120 * time.Second

// cacheMu serializes load-modify-save cycles on the cached display state.
var cacheMu sync.Mutex

// DisplayState is what a status surface should show.
type DisplayState string

const (
	StateOK      DisplayState = "ok"
	StateOffline DisplayState = "offline"
	StateError   DisplayState = "error"
)

// Cache is the persisted display state. On failure the last good snapshot
// is kept but State says it is not current.
type Cache struct {
	State     DisplayState     `json:"state"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
	FetchedAt time.Time        `json:"fetched_at,omitempty"`
	Snapshot  *quota.Snapshot  `json:"snapshot,omitempty"`
	Groups    []grouping.Group `json:"groups,omitempty"`
}

// Fetcher returns a fresh snapshot. *statusapi.Client implements it.
type Fetcher interface {
	FetchStatus(ctx context.Context) (quota.Snapshot, error)
}

// Leader reports whether this instance may write shared state.
type Leader interface {
	IsLeader() bool
}

// Refresher runs the quota refresh loop.
type Refresher struct {
	fetch    Fetcher
	grouper  *grouping.Grouper
	kv       store.KV
	leader   Leader
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	// OnUpdate, when set, sees every cache written.
	OnUpdate func(Cache)
}

// New creates a Refresher. A nil leader means always refresh.
func New(fetch Fetcher, grouper *grouping.Grouper, kv store.KV, leader Leader, interval time.Duration, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{
		fetch:    fetch,
		grouper:  grouper,
		kv:       kv,
		leader:   leader,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if r.leader == nil || r.leader.IsLeader() {
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.log.Debug("quota refresh failed", "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh performs one fetch and stores the result. The returned error is
// the fetch error, if any; the cache is written either way.
func (r *Refresher) Refresh(ctx context.Context) (Cache, error) {
	snap, fetchErr := r.fetch.FetchStatus(ctx)

	cacheMu.Lock()
	defer cacheMu.Unlock()

	prev, _, err := Load(ctx, r.kv)
	if err != nil {
		r.log.Debug("quota cache unreadable, starting fresh", "err", err)
		prev = Cache{}
	}
	now := r.now().UTC()
	next := prev
	next.UpdatedAt = now
	next.Error = ""

	switch {
	case fetchErr == nil:
		next.State = StateOK
		next.FetchedAt = now
		next.Snapshot = &snap
	case errors.Is(fetchErr, locator.ErrNotFound), errors.Is(fetchErr, statusapi.ErrUnavailable):
		next.State = StateOffline
		next.Error = fetchErr.Error()
	default:
		next.State = StateError
		next.Error = fetchErr.Error()
		if next.Snapshot == nil && len(snap.Models) > 0 {
			next.Snapshot = &snap
		}
	}

	if next.Snapshot != nil {
		if err := r.grouper.Reload(ctx); err != nil {
			r.log.Debug("group overrides unreadable", "err", err)
		}
		next.Groups = r.grouper.CreateGroups(next.Snapshot.Models)
	}

	if err := Save(ctx, r.kv, next); err != nil {
		return next, err
	}
	if r.OnUpdate != nil {
		r.OnUpdate(next)
	}
	return next, fetchErr
}

// Load reads the cached display state.
func Load(ctx context.Context, kv store.KV) (Cache, bool, error) {
	var c Cache
	ok, err := store.GetJSON(ctx, kv, store.KeyQuotaCache, &c)
	if err != nil {
		return Cache{}, false, fmt.Errorf("refresh: load cache: %w", err)
	}
	return c, ok, nil
}

// Save writes the cached display state.
func Save(ctx context.Context, kv store.KV, c Cache) error {
	if err := store.PutJSON(ctx, kv, store.KeyQuotaCache, c); err != nil {
		return fmt.Errorf("refresh: save cache: %w", err)
	}
	return nil
}

// Regroup reapplies the current overrides to the cached snapshot without
// fetching, so pin and rename changes show up immediately.
func Regroup(ctx context.Context, kv store.KV, grouper *grouping.Grouper) (Cache, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	c, ok, err := Load(ctx, kv)
	if err != nil || !ok || c.Snapshot == nil {
		return c, err
	}
	c.Groups = grouper.CreateGroups(c.Snapshot.Models)
	return c, Save(ctx, kv, c)
}
