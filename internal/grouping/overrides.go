package grouping

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ppiankov/autoaccept/internal/quota"
	"github.com/ppiankov/autoaccept/internal/store"
)

// Overrides are user customizations keyed by group id. They outlive any one
// grouping pass.
type Overrides struct {
	Pinned  []string          `json:"pinned"`
	Renames map[string]string `json:"renames"`
	Order   []string          `json:"order"`
}

func (o Overrides) clone() Overrides {
	c := Overrides{
		Pinned:  slices.Clone(o.Pinned),
		Order:   slices.Clone(o.Order),
		Renames: make(map[string]string, len(o.Renames)),
	}
	for k, v := range o.Renames {
		c.Renames[k] = v
	}
	return c
}

// Grouper groups models and persists overrides in the KV store.
type Grouper struct {
	kv store.KV

	mu sync.Mutex
	ov Overrides
}

// NewGrouper loads persisted overrides from kv.
func NewGrouper(ctx context.Context, kv store.KV) (*Grouper, error) {
	g := &Grouper{kv: kv, ov: Overrides{Renames: map[string]string{}}}
	if err := g.Reload(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload rereads overrides, picking up writes from other instances.
func (g *Grouper) Reload(ctx context.Context) error {
	var ov Overrides
	if _, err := store.GetJSON(ctx, g.kv, store.KeyGroupOverrides, &ov); err != nil {
		return fmt.Errorf("grouping: load overrides: %w", err)
	}
	if ov.Renames == nil {
		ov.Renames = map[string]string{}
	}
	g.mu.Lock()
	g.ov = ov
	g.mu.Unlock()
	return nil
}

// CreateGroups groups models with the current overrides applied.
func (g *Grouper) CreateGroups(models []quota.ModelQuota) []Group {
	return CreateGroups(models, g.Overrides())
}

// Overrides returns a copy of the current overrides.
func (g *Grouper) Overrides() Overrides {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ov.clone()
}

// Pin marks a group to sort ahead of unpinned groups.
func (g *Grouper) Pin(ctx context.Context, id string) error {
	return g.update(ctx, func(ov *Overrides) {
		if !slices.Contains(ov.Pinned, id) {
			ov.Pinned = append(ov.Pinned, id)
		}
	})
}

// Unpin removes a pin.
func (g *Grouper) Unpin(ctx context.Context, id string) error {
	return g.update(ctx, func(ov *Overrides) {
		ov.Pinned = slices.DeleteFunc(ov.Pinned, func(s string) bool { return s == id })
	})
}

// Rename sets a custom display name. An empty name clears it.
func (g *Grouper) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	return g.update(ctx, func(ov *Overrides) {
		if name == "" {
			delete(ov.Renames, id)
			return
		}
		ov.Renames[id] = name
	})
}

// SetOrder replaces the explicit order. Ids not listed sort after listed ones.
func (g *Grouper) SetOrder(ctx context.Context, ids []string) error {
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(order, id) {
			order = append(order, id)
		}
	}
	return g.update(ctx, func(ov *Overrides) { ov.Order = order })
}

func (g *Grouper) update(ctx context.Context, fn func(*Overrides)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.ov.clone()
	fn(&next)
	if err := store.PutJSON(ctx, g.kv, store.KeyGroupOverrides, next); err != nil {
		return fmt.Errorf("grouping: save overrides: %w", err)
	}
	g.ov = next
	return nil
}
