package generator

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgelabs/cascade/internal/journey"
	"github.com/surgelabs/cascade/internal/model"
	"github.com/surgelabs/cascade/internal/phase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testScenario(epoch int64) model.ScenarioConfig {
	return model.ScenarioConfig{
		StartEpochSeconds:     epoch,
		DurationMinutes:       10,
		BaselineRatePerMinute: 3000, // 20ms inter-arrival so tests dispatch quickly
		PeakRatePerMinute:     6000,
		PhaseBoundaries: []phase.Boundary{
			{MinuteOffset: 0, Name: "ramp"},
			{MinuteOffset: 5, Name: "peak"},
		},
	}
}

func singleStepJourneys() []journey.Definition {
	return []journey.Definition{{
		Name:          "browse",
		Steps:         []journey.Step{{Method: "GET", PathTemplate: "/api/products"}},
		WeightByPhase: map[string]float64{"ramp": 1},
	}}
}

func newTestGenerator(t *testing.T, handler http.HandlerFunc, arch Archiver) (*Generator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	exec := journey.NewExecutor(srv.URL, 2*time.Second, testLogger())
	gen := New(Options{
		Journeys:      singleStepJourneys(),
		Executor:      exec,
		Logger:        testLogger(),
		MaxConcurrent: 8,
		StopGrace:     2 * time.Second,
		Archiver:      arch,
	})
	return gen, srv
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestStartRejectsDoubleStart(t *testing.T) {
	gen, _ := newTestGenerator(t, okHandler, nil)
	ctx := context.Background()
	cfg := testScenario(time.Now().Unix())

	require.NoError(t, gen.Start(ctx, cfg))
	before := gen.Status()

	err := gen.Start(ctx, cfg)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// The rejection must not have mutated the existing run state.
	after := gen.Status()
	assert.Equal(t, before.StartEpochSeconds, after.StartEpochSeconds)
	assert.True(t, after.Running)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, gen.Stop(stopCtx))
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	gen, _ := newTestGenerator(t, okHandler, nil)
	assert.NoError(t, gen.Stop(context.Background()))
	assert.Equal(t, StateIdle, gen.State())
}

func TestStopImmediatelyAfterStart(t *testing.T) {
	gen, _ := newTestGenerator(t, okHandler, nil)
	ctx := context.Background()

	// Low rate: the first tick is a minute away, so nothing dispatches.
	cfg := testScenario(time.Now().Unix())
	cfg.BaselineRatePerMinute = 1
	cfg.PeakRatePerMinute = 1

	require.NoError(t, gen.Start(ctx, cfg))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, gen.Stop(stopCtx))

	assert.Equal(t, StateIdle, gen.State())
	st := gen.Status()
	assert.False(t, st.Running)
	assert.Zero(t, st.RequestsSent)
	assert.Zero(t, st.RequestsFailed)
}

func TestGeneratorDispatchesAndCounts(t *testing.T) {
	gen, _ := newTestGenerator(t, okHandler, nil)
	ctx := context.Background()

	require.NoError(t, gen.Start(ctx, testScenario(time.Now().Unix())))

	require.Eventually(t, func() bool {
		return gen.Status().RequestsSent >= 5
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, gen.Stop(stopCtx))

	st := gen.Status()
	assert.False(t, st.Running)
	assert.GreaterOrEqual(t, st.RequestsSent, int64(5))
	assert.Zero(t, st.RequestsFailed)
	assert.Equal(t, st.JourneysDispatched, st.PerJourney["browse"])
}

func TestCounterConservationUnderConcurrency(t *testing.T) {
	// Half the downstream calls fail; failed must never exceed sent in any
	// snapshot taken while journeys run concurrently.
	var n int64
	var mu sync.Mutex
	handler := func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		n++
		fail := n%2 == 0
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}

	gen, _ := newTestGenerator(t, handler, nil)
	ctx := context.Background()
	require.NoError(t, gen.Start(ctx, testScenario(time.Now().Unix())))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := gen.Status()
		require.LessOrEqual(t, st.RequestsFailed, st.RequestsSent)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, gen.Stop(stopCtx))

	st := gen.Status()
	assert.LessOrEqual(t, st.RequestsFailed, st.RequestsSent)
	assert.Greater(t, st.RequestsFailed, int64(0))
}

func TestRunCompletesAtDuration(t *testing.T) {
	gen, _ := newTestGenerator(t, okHandler, nil)
	ctx := context.Background()

	// Epoch far enough back that the scenario is already past its duration:
	// the supervisor exits on its first iteration.
	cfg := testScenario(time.Now().Add(-11 * time.Minute).Unix())
	require.NoError(t, gen.Start(ctx, cfg))

	require.Eventually(t, func() bool {
		return gen.State() == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, gen.Status().Running)
}

type captureArchiver struct {
	mu   sync.Mutex
	recs []model.RunRecord
}

func (c *captureArchiver) Archive(_ context.Context, rec model.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func TestStopArchivesRunRecord(t *testing.T) {
	arch := &captureArchiver{}
	gen, _ := newTestGenerator(t, okHandler, arch)
	ctx := context.Background()

	require.NoError(t, gen.Start(ctx, testScenario(time.Now().Unix())))
	require.Eventually(t, func() bool {
		return gen.Status().RequestsSent >= 1
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, gen.Stop(stopCtx))

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.recs, 1)
	rec := arch.recs[0]
	assert.Equal(t, model.StopReasonOperator, rec.StoppedReason)
	assert.NotEmpty(t, rec.ID)
	assert.GreaterOrEqual(t, rec.RequestsSent, int64(1))
}

func TestRestartAfterStop(t *testing.T) {
	gen, _ := newTestGenerator(t, okHandler, nil)
	ctx := context.Background()

	require.NoError(t, gen.Start(ctx, testScenario(time.Now().Unix())))
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, gen.Stop(stopCtx))

	// A fresh run starts from zeroed counters.
	cfg := testScenario(time.Now().Unix())
	cfg.BaselineRatePerMinute = 1
	cfg.PeakRatePerMinute = 1
	require.NoError(t, gen.Start(ctx, cfg))
	st := gen.Status()
	assert.True(t, st.Running)
	assert.Zero(t, st.RequestsSent)

	stopCtx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	require.NoError(t, gen.Stop(stopCtx2))
}
