// Package breaker implements the three-state circuit breaker that guards the poll loop.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's current mode.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultSuccessThreshold = 3
)

// Config holds breaker thresholds. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// Snapshot is a point-in-time copy of breaker state.
type Snapshot struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// Breaker is a failure-isolation state machine.
// Transitions depend only on (state, event, elapsed time).
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// New creates a Closed breaker.
func New(cfg Config) *Breaker {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a Closed breaker that reads time from now.
func NewWithClock(cfg Config, now func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	return &Breaker{cfg: cfg, now: now, state: Closed}
}

// CanExecute reports whether the guarded operation may run.
// An Open breaker whose reset timeout has elapsed moves to HalfOpen here.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a completed operation.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure notes a failed operation.
// A single failure while HalfOpen reopens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

// Reset forces Closed and zeroes all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}

// State returns the current state without triggering the Open->HalfOpen check.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailureTime: b.lastFailure,
	}
}

// Config returns the effective thresholds.
func (b *Breaker) Config() Config {
	return b.cfg
}

func (b *Breaker) trip() {
	b.state = Open
	b.lastFailure = b.now()
	b.successes = 0
}
