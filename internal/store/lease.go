package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLeaseHeld is returned when another live owner holds the lease.
var ErrLeaseHeld = errors.New("store: lease held by another owner")

// LeaseInfo describes the current holder of a lease.
type LeaseInfo struct {
	Name      string
	Owner     string
	Heartbeat time.Time
}

// TryAcquireLease claims name for owner if it is free, already owned by owner,
// or its last heartbeat is older than staleAfter. Claiming also renews the heartbeat.
// The check and the write happen in one statement.
func (s *Store) TryAcquireLease(ctx context.Context, name, owner string, now time.Time, staleAfter time.Duration) error {
	nowMS := now.UnixMilli()
	staleBefore := now.Add(-staleAfter).UnixMilli()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (name, owner, heartbeat_ms) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, heartbeat_ms = excluded.heartbeat_ms
		 WHERE leases.owner = excluded.owner OR leases.heartbeat_ms < ?`,
		name, owner, nowMS, staleBefore)
	if err != nil {
		return fmt.Errorf("store: acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: acquire lease %s: %w", name, err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease drops the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner); err != nil {
		return fmt.Errorf("store: release lease %s: %w", name, err)
	}
	return nil
}

// Lease returns the current holder. ok is false when nobody holds it.
func (s *Store) Lease(ctx context.Context, name string) (LeaseInfo, bool, error) {
	var owner string
	var hb int64
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, heartbeat_ms FROM leases WHERE name = ?`, name).Scan(&owner, &hb)
	if errors.Is(err, sql.ErrNoRows) {
		return LeaseInfo{}, false, nil
	}
	if err != nil {
		return LeaseInfo{}, false, fmt.Errorf("store: read lease %s: %w", name, err)
	}
	return LeaseInfo{Name: name, Owner: owner, Heartbeat: time.UnixMilli(hb).UTC()}, true, nil
}
