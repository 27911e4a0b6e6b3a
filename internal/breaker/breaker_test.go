package breaker

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewWithClock(Config{}, clock.now)
	return b, clock
}

func TestDefaults(t *testing.T) {
	b := New(Config{})
	cfg := b.Config()
	if cfg.FailureThreshold != 5 || cfg.ResetTimeout != 30*time.Second || cfg.SuccessThreshold != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if b.State() != Closed {
		t.Fatalf("expected initial state closed, got %s", b.State())
	}
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.CanExecute() {
			t.Fatalf("expected closed breaker to allow execution after %d failures", i+1)
		}
	}
	b.RecordFailure()

	if b.State() != Open {
		t.Fatalf("expected open after 5 failures, got %s", b.State())
	}
	if b.CanExecute() {
		t.Fatal("expected open breaker to refuse execution")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	if b.State() != Closed {
		t.Fatalf("expected closed when failures are not consecutive, got %s", b.State())
	}
}

func TestOpenToHalfOpenAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	clock.advance(29999 * time.Millisecond)
	if b.CanExecute() {
		t.Fatal("expected refusal before reset timeout")
	}

	clock.advance(time.Millisecond)
	if !b.CanExecute() {
		t.Fatal("expected execution at reset timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(30 * time.Second)
	b.CanExecute()

	b.RecordSuccess()
	b.RecordFailure()

	if b.State() != Open {
		t.Fatalf("expected open after half-open failure, got %s", b.State())
	}
	if b.CanExecute() {
		t.Fatal("expected refusal right after reopening")
	}
}

func TestHalfOpenSuccessesClose(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(30 * time.Second)
	b.CanExecute()

	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Fatalf("expected half_open after 2 successes, got %s", b.State())
	}
	b.RecordSuccess()

	snap := b.Snapshot()
	if snap.State != "closed" || snap.Failures != 0 || snap.Successes != 0 {
		t.Fatalf("expected closed with zero counters, got %+v", snap)
	}
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	b.Reset()

	snap := b.Snapshot()
	if snap.State != "closed" || snap.Failures != 0 || !snap.LastFailureTime.IsZero() {
		t.Fatalf("expected clean closed state after reset, got %+v", snap)
	}
	if !b.CanExecute() {
		t.Fatal("expected execution after reset")
	}
}

func TestCustomThresholds(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewWithClock(Config{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 1}, clock.now)

	b.RecordFailure()
	if b.State() != Open {
		t.Fatal("expected open after single failure")
	}
	clock.advance(time.Second)
	b.CanExecute()
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("expected closed after single half-open success, got %s", b.State())
	}
}
