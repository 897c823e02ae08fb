package journey

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/surgelabs/cascade/internal/tracecodec"
)

var tracer = otel.Tracer("cascade/journey")

// Result is the outcome of one journey execution.
type Result struct {
	Journey         string `json:"journey"`
	StepsCompleted  int    `json:"steps_completed"`
	StepsFailed     int    `json:"steps_failed"`
	TotalDurationMs int64  `json:"total_duration_ms"`
}

// Attempted returns how many steps issued a request.
func (r Result) Attempted() int { return r.StepsCompleted + r.StepsFailed }

// stepOutcome classifies one step attempt. Abandonment (the journey's context
// was cancelled) is distinct from failure: abandoned steps carry no signal
// about the downstream and are never counted.
type stepOutcome int

const (
	stepOK stepOutcome = iota
	stepFailed
	stepAbandoned
)

// Executor runs journeys against one downstream base URL.
type Executor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewExecutor creates an executor. stepTimeout bounds each outbound call.
func NewExecutor(baseURL string, stepTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: stepTimeout},
		logger:  logger,
	}
}

// Execute runs the journey's steps strictly in order, chaining the trace
// context so the span chain root → step1 → step2 → … is reconstructable.
// A step failure (non-2xx or transport error) aborts the remaining steps:
// journeys model real user abandonment on error. The failure never propagates
// to the caller as an error — it is recorded in the result.
func (e *Executor) Execute(ctx context.Context, def Definition, root tracecodec.Context) Result {
	start := time.Now()
	res := Result{Journey: def.Name}

	ctx, span := tracer.Start(ctx, "journey."+def.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("journey.name", def.Name),
			attribute.String("journey.trace_id", root.TraceID),
			attribute.Int("journey.step_count", len(def.Steps)),
		))
	defer span.End()

	sessionID := uuid.New().String()
	orderID := uuid.New().String()

	cur := root
	for i, step := range def.Steps {
		select {
		case <-ctx.Done():
			// Cancelled mid-journey (generator force-stop). Remaining steps
			// are abandoned without being counted as failures.
			span.SetAttributes(attribute.Bool("journey.abandoned", true))
			res.TotalDurationMs = time.Since(start).Milliseconds()
			return res
		default:
		}

		// Each hop derives its context from the previous step's span.
		cur = cur.Child()

		out := e.doStep(ctx, step, cur, sessionID, orderID, i)
		if out == stepAbandoned {
			// Cancellation landed mid-request. The partial step is discarded,
			// not a failure.
			span.SetAttributes(attribute.Bool("journey.abandoned", true))
			res.TotalDurationMs = time.Since(start).Milliseconds()
			return res
		}
		if out == stepFailed {
			res.StepsFailed++
			span.SetStatus(codes.Error, "journey aborted at step "+step.PathTemplate)
			span.SetAttributes(attribute.Int("journey.failed_step", i))
			break
		}
		res.StepsCompleted++
	}

	res.TotalDurationMs = time.Since(start).Milliseconds()
	return res
}

func (e *Executor) doStep(ctx context.Context, step Step, tc tracecodec.Context, sessionID, orderID string, idx int) stepOutcome {
	path := renderTemplate(step.PathTemplate, sessionID, orderID)
	body := renderTemplate(step.BodyTemplate, sessionID, orderID)

	ctx, span := tracer.Start(ctx, step.Method+" "+step.PathTemplate,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", step.Method),
			attribute.String("http.url", path),
			attribute.Int("journey.step", idx),
			attribute.String("journey.span_id", tc.ParentSpanID),
		))
	defer span.End()

	var bodyReader io.Reader = http.NoBody
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, step.Method, e.baseURL+path, bodyReader)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stepFailed
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	tracecodec.Inject(req.Header, tc)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled in flight: says nothing about the downstream.
			return stepAbandoned
		}
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("journey step transport error", "path", path, "error", err)
		return stepFailed
	}
	defer func() {
		// Drain so the keep-alive connection is reusable.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		e.logger.Debug("journey step failed", "path", path, "status", resp.StatusCode)
		return stepFailed
	}
	return stepOK
}

func renderTemplate(t, sessionID, orderID string) string {
	if t == "" {
		return ""
	}
	t = strings.ReplaceAll(t, "{session_id}", sessionID)
	t = strings.ReplaceAll(t, "{order_id}", orderID)
	return t
}
