// Package generator owns the scenario run state and drives journey executors
// at a phase-dependent rate. One long-lived supervising goroutine computes the
// instantaneous rate from the shared phase clock and dispatches short-lived
// journey goroutines through a bounded semaphore.
package generator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/surgelabs/cascade/internal/journey"
	"github.com/surgelabs/cascade/internal/model"
	"github.com/surgelabs/cascade/internal/phase"
	"github.com/surgelabs/cascade/internal/tracecodec"
)

// ErrAlreadyRunning is returned by Start while a scenario is running or
// still draining.
var ErrAlreadyRunning = errors.New("generator: scenario already running")

// State is the generator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Archiver records completed runs. Implemented by the history store.
type Archiver interface {
	Archive(ctx context.Context, rec model.RunRecord) error
}

// runState is the mutable shared state of one scenario run. Counters are
// atomic; perJourney has its own lock. Journey goroutines write to the run
// they were dispatched for, never to a newer run's state.
type runState struct {
	scenario  model.ScenarioConfig
	startedAt time.Time

	sent       atomic.Int64
	failed     atomic.Int64
	dispatched atomic.Int64

	mu         sync.Mutex
	perJourney map[string]int64

	// discard is set when the stop grace period expires: journeys still in
	// flight are abandoned and must not apply their partial counters.
	discard atomic.Bool

	done chan struct{}
}

func (rs *runState) apply(res journey.Result) {
	// Sent strictly before failed, so a reader loading failed first can
	// never observe failed > sent.
	rs.sent.Add(int64(res.Attempted()))
	rs.failed.Add(int64(res.StepsFailed))

	rs.mu.Lock()
	rs.perJourney[res.Journey]++
	rs.mu.Unlock()
}

func (rs *runState) perJourneySnapshot() map[string]int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]int64, len(rs.perJourney))
	for k, v := range rs.perJourney {
		out[k] = v
	}
	return out
}

// Generator drives load against the storefront. Safe for concurrent use.
type Generator struct {
	journeys      []journey.Definition
	exec          *journey.Executor
	logger        *slog.Logger
	maxConcurrent int64
	grace         time.Duration
	archiver      Archiver // nil disables history
	now           func() time.Time

	mu     sync.Mutex
	state  State
	run    *runState
	cancel context.CancelFunc
}

// Options configures a Generator.
type Options struct {
	Journeys      []journey.Definition
	Executor      *journey.Executor
	Logger        *slog.Logger
	MaxConcurrent int64         // bounded journey concurrency
	StopGrace     time.Duration // drain budget before in-flight journeys are abandoned
	Archiver      Archiver      // optional run history
	Now           func() time.Time
}

// New creates an idle generator.
func New(opts Options) *Generator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{
		journeys:      opts.Journeys,
		exec:          opts.Executor,
		logger:        opts.Logger,
		maxConcurrent: opts.MaxConcurrent,
		grace:         opts.StopGrace,
		archiver:      opts.Archiver,
		now:           opts.Now,
	}
}

// Start launches a scenario run. Rejected with ErrAlreadyRunning while a run
// is active or draining; the rejection does not touch the existing run state.
func (g *Generator) Start(ctx context.Context, cfg model.ScenarioConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateIdle {
		return ErrAlreadyRunning
	}

	rs := &runState{
		scenario:   cfg,
		startedAt:  g.now(),
		perJourney: make(map[string]int64),
		done:       make(chan struct{}),
	}

	// The run outlives the caller (an HTTP request, typically); only Stop or
	// scenario completion ends it.
	base := context.WithoutCancel(ctx)
	supCtx, cancel := context.WithCancel(base)
	g.state = StateRunning
	g.run = rs
	g.cancel = cancel

	g.logger.Info("scenario started",
		"epoch", cfg.StartEpochSeconds,
		"duration_minutes", cfg.DurationMinutes,
		"baseline_rate", cfg.BaselineRatePerMinute,
		"peak_rate", cfg.PeakRatePerMinute,
	)

	go g.supervise(base, supCtx, rs)
	return nil
}

// Stop cancels the supervising loop and waits for in-flight journeys to drain
// within the grace period. A no-op when already idle. The ctx bounds how long
// the caller is willing to wait for the drain to finish.
func (g *Generator) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.state == StateIdle {
		g.mu.Unlock()
		return nil
	}
	g.state = StateStopping
	cancel := g.cancel
	rs := g.run
	g.mu.Unlock()

	cancel()

	select {
	case <-rs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Status returns a consistent snapshot of the current (or most recent) run.
func (g *Generator) Status() model.StatusSnapshot {
	g.mu.Lock()
	state := g.state
	rs := g.run
	g.mu.Unlock()

	if rs == nil {
		return model.StatusSnapshot{Phase: phase.PreScenario, PerJourney: map[string]int64{}}
	}

	cfg := rs.scenario
	elapsed := phase.ElapsedMinutes(cfg.StartEpochSeconds, g.now())

	// Failed loaded before sent: writers increment sent first, so this order
	// guarantees failed <= sent in every snapshot.
	failed := rs.failed.Load()
	sent := rs.sent.Load()

	startedAt := rs.startedAt
	return model.StatusSnapshot{
		Running:              state != StateIdle,
		ElapsedMinutes:       elapsed,
		CurrentRatePerMinute: phase.RateFor(elapsed, cfg.BaselineRatePerMinute, cfg.PeakRatePerMinute, cfg.DurationMinutes),
		Phase:                phase.For(elapsed, cfg.PhaseBoundaries),
		RequestsSent:         sent,
		RequestsFailed:       failed,
		JourneysDispatched:   rs.dispatched.Load(),
		PerJourney:           rs.perJourneySnapshot(),
		StartedAt:            &startedAt,
		StartEpochSeconds:    cfg.StartEpochSeconds,
	}
}

// supervise is the long-lived loop for one run. parent carries process
// lifetime; supCtx is cancelled by Stop.
func (g *Generator) supervise(parent, supCtx context.Context, rs *runState) {
	defer close(rs.done)

	// Journeys outlive the supervisor by up to the grace period, so their
	// context is decoupled from supCtx and force-cancelled only on timeout.
	jctx, jcancel := context.WithCancel(context.WithoutCancel(parent))
	defer jcancel()

	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(g.maxConcurrent)
	rng := rand.New(rand.NewSource(g.now().UnixNano()))
	cfg := rs.scenario

	reason := model.StopReasonCompleted

loop:
	for {
		elapsed := phase.ElapsedMinutes(cfg.StartEpochSeconds, g.now())
		if elapsed >= cfg.DurationMinutes {
			break
		}

		rate := phase.RateFor(elapsed, cfg.BaselineRatePerMinute, cfg.PeakRatePerMinute, cfg.DurationMinutes)
		interval := time.Duration(float64(time.Minute) / rate)

		select {
		case <-supCtx.Done():
			reason = model.StopReasonOperator
			break loop
		case <-time.After(interval):
		}

		phaseName := phase.For(elapsed, cfg.PhaseBoundaries)
		def, err := journey.PickWeighted(g.journeys, phaseName, cfg.PhaseBoundaries, rng)
		if err != nil {
			g.logger.Warn("journey selection failed", "phase", phaseName, "error", err)
			continue
		}

		// Fire and forget, bounded: a saturated pool drops the tick instead
		// of letting slow downstreams grow unbounded goroutines.
		if !sem.TryAcquire(1) {
			g.logger.Debug("journey pool saturated, tick dropped", "phase", phaseName)
			continue
		}

		rs.dispatched.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			res := g.exec.Execute(jctx, def, tracecodec.NewRoot())
			if rs.discard.Load() {
				// Grace period expired while this journey was in flight; its
				// partial counters are discarded, not double-counted.
				return
			}
			rs.apply(res)
		}()
	}

	g.drain(rs, &wg, jcancel)
	g.finalize(parent, rs, reason)
}

func (g *Generator) drain(rs *runState, wg *sync.WaitGroup, jcancel context.CancelFunc) {
	g.mu.Lock()
	g.state = StateStopping
	g.mu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(g.grace):
		rs.discard.Store(true)
		jcancel()
		g.logger.Warn("stop grace period expired, abandoning in-flight journeys")
		<-waitCh
	}
}

func (g *Generator) finalize(ctx context.Context, rs *runState, reason string) {
	failed := rs.failed.Load()
	sent := rs.sent.Load()

	g.logger.Info("scenario stopped",
		"reason", reason,
		"requests_sent", sent,
		"requests_failed", failed,
		"journeys_dispatched", rs.dispatched.Load(),
	)

	if g.archiver != nil {
		rec := model.RunRecord{
			ID:                uuid.New().String(),
			StartEpochSeconds: rs.scenario.StartEpochSeconds,
			DurationMinutes:   rs.scenario.DurationMinutes,
			PeakRatePerMinute: rs.scenario.PeakRatePerMinute,
			RequestsSent:      sent,
			RequestsFailed:    failed,
			PerJourney:        rs.perJourneySnapshot(),
			StoppedReason:     reason,
			StoppedAt:         g.now().UTC(),
		}
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := g.archiver.Archive(archiveCtx, rec); err != nil {
			g.logger.Warn("run archive failed", "error", err)
		}
		cancel()
	}

	g.mu.Lock()
	g.state = StateIdle
	g.mu.Unlock()
}
