// Package engine runs the auto-approval loop: scan the IDE for actionable
// prompts, check each against the rules, click or block, and feed the
// outcome to the circuit breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/autoaccept/internal/breaker"
	"github.com/ppiankov/autoaccept/internal/oplog"
	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/ui"
)

// DefaultPollInterval is used when the config leaves the interval unset.
const DefaultPollInterval = time.Second

// minPollInterval keeps a typo in the config from spinning the host.
const minPollInterval = 100 * time.Millisecond

// State is the engine lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config is the hot-updatable part of the engine's configuration.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c Config) interval() time.Duration {
	switch {
	case c.PollInterval <= 0:
		return DefaultPollInterval
	case c.PollInterval < minPollInterval:
		return minPollInterval
	default:
		return c.PollInterval
	}
}

// Deps are the collaborators the engine drives. Notifier may be nil.
type Deps struct {
	Provider ui.Provider
	Notifier ui.Notifier
	Rules    *rules.Matcher
	Breaker  *breaker.Breaker
	Ops      *oplog.Log
}

// Counters are cumulative since the engine was created.
type Counters struct {
	AutoApproved int `json:"auto_approved"`
	Blocked      int `json:"blocked"`
	Ticks        int `json:"ticks"`
	Skipped      int `json:"skipped"`
	Failures     int `json:"failures"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	State    string           `json:"state"`
	Enabled  bool             `json:"enabled"`
	Interval time.Duration    `json:"interval"`
	Counters Counters         `json:"counters"`
	Breaker  breaker.Snapshot `json:"breaker"`
}

// Skip reasons reported in TickResult.
const (
	SkipPaused      = "paused"
	SkipCircuitOpen = "circuit-open"
)

// TickResult describes what one tick did.
type TickResult struct {
	Skipped    string
	Candidates int
	Approved   int
	Blocked    int
	Err        error
}

// Engine is the polling orchestrator.
type Engine struct {
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	cfg      Config
	running  bool
	paused   bool
	cancel   context.CancelFunc
	done     chan struct{}
	interval chan time.Duration
	counters Counters

	// tickMu serializes ticks, including ones driven directly through Tick.
	tickMu sync.Mutex
}

// New creates a stopped engine.
func New(cfg Config, deps Deps, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Notifier == nil {
		deps.Notifier = ui.LogNotifier{Log: log}
	}
	return &Engine{deps: deps, log: log, cfg: cfg}
}

// Start begins ticking. It is a no-op when already running or disabled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked(ctx)
}

func (e *Engine) startLocked(ctx context.Context) {
	if e.running || !e.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.interval = make(chan time.Duration, 1)
	e.running = true
	go e.loop(ctx, e.cfg.interval(), e.interval, e.done)
	e.log.Info("engine started", "interval", e.cfg.interval())
}

// Stop cancels the schedule and waits for the loop to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	done := e.stopLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) stopLocked() chan struct{} {
	if !e.running {
		return nil
	}
	e.cancel()
	e.running = false
	e.log.Info("engine stopped")
	return e.done
}

// Pause makes ticks return immediately without stopping the schedule.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume clears a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	switch {
	case !e.running:
		return Stopped
	case e.paused:
		return Paused
	default:
		return Running
	}
}

// SetInterval changes the tick interval of a running loop in place.
func (e *Engine) SetInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.PollInterval = d
	e.pushIntervalLocked()
}

func (e *Engine) pushIntervalLocked() {
	if !e.running {
		return
	}
	d := e.cfg.interval()
	select {
	case <-e.interval:
	default:
	}
	e.interval <- d
}

// ApplyConfig applies a reloaded config: the interval changes in place,
// enabling a stopped engine starts it and disabling a running one stops it.
func (e *Engine) ApplyConfig(ctx context.Context, cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	var done chan struct{}
	switch {
	case cfg.Enabled && !e.running:
		e.startLocked(ctx)
	case !cfg.Enabled && e.running:
		done = e.stopLocked()
	default:
		e.pushIntervalLocked()
	}
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns counters and state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:    e.stateLocked().String(),
		Enabled:  e.cfg.Enabled,
		Interval: e.cfg.interval(),
		Counters: e.counters,
		Breaker:  e.deps.Breaker.Snapshot(),
	}
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, reset <-chan time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-reset:
			ticker.Reset(d)
			e.log.Debug("poll interval changed", "interval", d)
		case <-ticker.C:
			if res := e.Tick(ctx); res.Err != nil && ctx.Err() == nil {
				e.log.Warn("poll tick failed", "err", res.Err)
			}
		}
	}
}

// Tick runs one poll cycle. Failures are returned for inspection and
// recorded on the breaker, never propagated to the schedule.
func (e *Engine) Tick(ctx context.Context) TickResult {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	e.counters.Ticks++
	paused := e.paused
	e.mu.Unlock()

	if paused {
		e.skip()
		return TickResult{Skipped: SkipPaused}
	}
	if !e.deps.Breaker.CanExecute() {
		e.skip()
		return TickResult{Skipped: SkipCircuitOpen}
	}

	res, err := e.process(ctx)
	if err != nil {
		// A stopped engine abandons its last tick; that is not a UI failure.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			res.Err = err
			return res
		}
		e.deps.Breaker.RecordFailure()
		e.mu.Lock()
		e.counters.Failures++
		e.mu.Unlock()
		res.Err = err
		return res
	}
	e.deps.Breaker.RecordSuccess()
	return res
}

func (e *Engine) skip() {
	e.mu.Lock()
	e.counters.Skipped++
	e.mu.Unlock()
}

func (e *Engine) process(ctx context.Context) (TickResult, error) {
	var res TickResult
	cands, err := e.deps.Provider.Scan(ctx)
	if err != nil {
		return res, fmt.Errorf("engine: scan: %w", err)
	}
	res.Candidates = len(cands)

	for _, c := range cands {
		verdict := e.Evaluate(c)
		if verdict.Approved {
			if err := e.deps.Provider.Click(ctx, c); err != nil {
				return res, fmt.Errorf("engine: click %q: %w", c.Text, err)
			}
			e.record(ctx, oplog.Entry{
				Category:    categoryFor(c),
				Outcome:     oplog.Approved,
				Detail:      c.Content(),
				MatchedRule: verdict.Rule,
			})
			e.mu.Lock()
			e.counters.AutoApproved++
			e.mu.Unlock()
			res.Approved++
			continue
		}

		e.record(ctx, oplog.Entry{
			Category:    oplog.Blocked,
			Outcome:     oplog.OutcomeBlocked,
			Detail:      c.Content(),
			MatchedRule: verdict.Rule,
		})
		e.mu.Lock()
		e.counters.Blocked++
		e.mu.Unlock()
		res.Blocked++
		e.log.Info("blocked", "text", c.Content(), "rule", verdict.Rule, "pattern", verdict.Pattern)

		if err := e.deps.Notifier.Warn(ctx, "Blocked: "+c.Content()); err != nil {
			return res, fmt.Errorf("engine: warn: %w", err)
		}
	}
	return res, nil
}

// Evaluate decides a candidate. Only Run candidates go through the rules;
// other kinds are approved by default.
func (e *Engine) Evaluate(c ui.Candidate) rules.Result {
	if c.Kind != ui.Run {
		return rules.Result{Approved: true, Rule: rules.TagDefaultAllow, Reason: "non-terminal action"}
	}
	return e.deps.Rules.Evaluate(c.Content(), rules.Context{Type: rules.Terminal})
}

// ResetBreaker forces the circuit breaker closed after a manual fix.
func (e *Engine) ResetBreaker() {
	e.deps.Breaker.Reset()
	e.log.Info("circuit breaker reset")
}

// RecordManual logs an action the user approved by hand.
func (e *Engine) RecordManual(ctx context.Context, category oplog.Category, detail string) error {
	if e.deps.Ops == nil {
		return nil
	}
	_, err := e.deps.Ops.Append(ctx, oplog.Entry{Category: category, Outcome: oplog.Manual, Detail: detail})
	return err
}

// record appends to the operation log. Persistence errors are logged only;
// the entry is kept in memory either way.
func (e *Engine) record(ctx context.Context, entry oplog.Entry) {
	if e.deps.Ops == nil {
		return
	}
	if _, err := e.deps.Ops.Append(ctx, entry); err != nil {
		e.log.Warn("operation log write failed", "err", err)
	}
}

func categoryFor(c ui.Candidate) oplog.Category {
	if c.Kind == ui.Run {
		return oplog.TerminalCommand
	}
	return oplog.FileEdit
}
