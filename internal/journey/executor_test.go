package journey

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

	"github.com/surgelabs/cascade/internal/tracecodec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fourStepJourney() Definition {
	return Definition{
		Name: "test-journey",
		Steps: []Step{
			{Method: "GET", PathTemplate: "/step1"},
			{Method: "GET", PathTemplate: "/step2"},
			{Method: "GET", PathTemplate: "/step3"},
			{Method: "GET", PathTemplate: "/step4"},
		},
	}
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var headers []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		headers = append(headers, r.Header.Get(tracecodec.Header))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewExecutor(srv.URL, 2*time.Second, testLogger())
	root := tracecodec.NewRoot()
	res := exec.Execute(context.Background(), fourStepJourney(), root)

	assert.Equal(t, 4, res.StepsCompleted)
	assert.Equal(t, 0, res.StepsFailed)
	require.Equal(t, []string{"/step1", "/step2", "/step3", "/step4"}, paths)

	// Trace-id continuity: every step carries the root's trace id, with a
	// fresh span id per hop.
	seenSpans := map[string]bool{}
	for i, raw := range headers {
		tc, isRoot := tracecodec.Parse(raw)
		require.False(t, isRoot, "step %d header %q", i, raw)
		assert.Equal(t, root.TraceID, tc.TraceID, "step %d", i)
		assert.True(t, tc.Sampled)
		assert.False(t, seenSpans[tc.ParentSpanID], "span id reused at step %d", i)
		seenSpans[tc.ParentSpanID] = true
	}
}

func TestExecuteAbortsOnStepFailure(t *testing.T) {
	var mu sync.Mutex
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/step2" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewExecutor(srv.URL, 2*time.Second, testLogger())
	res := exec.Execute(context.Background(), fourStepJourney(), tracecodec.NewRoot())

	// Step 2 fails: one completed, one failed, steps 3-4 never issued.
	assert.Equal(t, 1, res.StepsCompleted)
	assert.Equal(t, 1, res.StepsFailed)
	assert.Equal(t, []string{"/step1", "/step2"}, paths)
}

func TestExecuteTransportErrorCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	exec := NewExecutor(srv.URL, time.Second, testLogger())
	res := exec.Execute(context.Background(), fourStepJourney(), tracecodec.NewRoot())

	assert.Equal(t, 0, res.StepsCompleted)
	assert.Equal(t, 1, res.StepsFailed)
}

func TestExecuteCancelledContextAbandonsRemainingSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel() // cancel after the first request lands
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewExecutor(srv.URL, 2*time.Second, testLogger())
	res := exec.Execute(ctx, fourStepJourney(), tracecodec.NewRoot())

	// Abandoned steps are discarded, not counted as failures.
	assert.LessOrEqual(t, res.StepsCompleted, 2)
	assert.Equal(t, 0, res.StepsFailed)
}

func TestExecuteCancelMidRequestNotCountedAsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	// The handler cancels the journey and then blocks, so the cancellation
	// surfaces inside client.Do rather than between steps.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	exec := NewExecutor(srv.URL, 5*time.Second, testLogger())
	res := exec.Execute(ctx, fourStepJourney(), tracecodec.NewRoot())

	assert.Equal(t, 0, res.StepsCompleted)
	assert.Equal(t, 0, res.StepsFailed)
}

func TestExecuteRendersBodyTemplates(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	def := Definition{
		Name:  "cart",
		Steps: []Step{{Method: "POST", PathTemplate: "/api/cart", BodyTemplate: `{"session_id":"{session_id}"}`}},
	}
	exec := NewExecutor(srv.URL, time.Second, testLogger())
	res := exec.Execute(context.Background(), def, tracecodec.NewRoot())

	require.Equal(t, 1, res.StepsCompleted)
	assert.Contains(t, gotBody, `"session_id":"`)
	assert.NotContains(t, gotBody, "{session_id}")
}
