// Package oplog keeps the bounded, persisted record of every auto-approval decision.
package oplog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/autoaccept/internal/audit"
	"github.com/ppiankov/autoaccept/internal/store"
)

// DefaultCapacity is the ring buffer size; the oldest entry is evicted first.
const DefaultCapacity = 1000

// Category classifies what kind of action an entry records.
type Category string

const (
	FileEdit        Category = "file_edit"
	TerminalCommand Category = "terminal_command"
	Blocked         Category = "blocked"
)

// Outcome is the decision recorded for an entry.
type Outcome string

const (
	Approved       Outcome = "approved"
	OutcomeBlocked Outcome = "blocked"
	Manual         Outcome = "manual"
)

// Entry is one recorded decision. Timestamps serialize as RFC 3339 strings
// and decode back into time.Time.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Category    Category  `json:"category"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail"`
	MatchedRule string    `json:"matched_rule,omitempty"`
}

// Stats counts entries per outcome.
type Stats struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
	Manual   int `json:"manual"`
}

// Options configures a Log.
type Options struct {
	Capacity int
	Audit    *audit.Log // optional hash-chained mirror
	Now      func() time.Time
}

// Log is a capped, persisted operation log.
type Log struct {
	kv       store.KV
	audit    *audit.Log
	capacity int
	now      func() time.Time

	// writeMu orders the in-memory change, the audit mirror and the
	// persisted copy so the store always holds the latest state.
	writeMu sync.Mutex

	mu      sync.Mutex
	entries []Entry
}

// Load creates a Log backed by kv and restores any previously persisted entries.
func Load(ctx context.Context, kv store.KV, opts Options) (*Log, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Log{
		kv:       kv,
		audit:    opts.Audit,
		capacity: opts.Capacity,
		now:      opts.Now,
	}

	var entries []Entry
	if _, err := store.GetJSON(ctx, kv, store.KeyOperationLog, &entries); err != nil {
		return nil, fmt.Errorf("oplog: load: %w", err)
	}
	l.entries = trim(entries, l.capacity)
	return l, nil
}

// Append records e, assigning ID and Timestamp when unset, and persists the log.
// The entry stays in memory even if persisting fails.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.entries = trim(append(l.entries, e), l.capacity)
	snapshot := append([]Entry(nil), l.entries...)
	l.mu.Unlock()

	if l.audit != nil {
		if _, err := l.audit.Append(audit.Record{
			Time:        e.Timestamp.Format(audit.TimeLayout),
			OpID:        e.ID,
			Category:    string(e.Category),
			Outcome:     string(e.Outcome),
			Detail:      e.Detail,
			MatchedRule: e.MatchedRule,
		}); err != nil {
			return e, fmt.Errorf("oplog: audit mirror: %w", err)
		}
	}

	if err := store.PutJSON(ctx, l.kv, store.KeyOperationLog, snapshot); err != nil {
		return e, fmt.Errorf("oplog: persist: %w", err)
	}
	return e, nil
}

// Entries returns a copy of all entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stats counts the stored entries by outcome.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{Total: len(l.entries)}
	for _, e := range l.entries {
		switch e.Outcome {
		case Approved:
			s.Approved++
		case OutcomeBlocked:
			s.Blocked++
		case Manual:
			s.Manual++
		}
	}
	return s
}

// Clear drops every entry and persists the empty log.
func (l *Log) Clear(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()

	if err := store.PutJSON(ctx, l.kv, store.KeyOperationLog, []Entry{}); err != nil {
		return fmt.Errorf("oplog: clear: %w", err)
	}
	return nil
}

// trim keeps the newest max entries in a fresh backing array.
func trim(entries []Entry, max int) []Entry {
	if len(entries) <= max {
		return entries
	}
	out := make([]Entry, max)
	copy(out, entries[len(entries)-max:])
	return out
}
