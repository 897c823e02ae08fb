// Package downstream implements the demo storefront service the load
// generator drives. Handlers continue the inbound trace context, consult the
// fault injector for the current scenario minute, and degrade accordingly:
// an injected delay, then possibly a structured 503.
package downstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/surgelabs/cascade/internal/faultinject"
	"github.com/surgelabs/cascade/internal/model"
	"github.com/surgelabs/cascade/internal/tracecodec"
)

var (
	tracer = otel.Tracer("cascade/storefront")
	meter  = otel.Meter("cascade/storefront")
)

// Service hosts the storefront endpoints.
type Service struct {
	injector *faultinject.Injector
	logger   *slog.Logger

	requestCount  metric.Int64Counter
	faultCount    metric.Int64Counter
	delayDuration metric.Int64Histogram
}

// NewService creates the storefront around a fault injector.
func NewService(injector *faultinject.Injector, logger *slog.Logger) *Service {
	requestCount, _ := meter.Int64Counter("storefront.request_count",
		metric.WithDescription("Requests handled by the storefront"))
	faultCount, _ := meter.Int64Counter("storefront.fault_count",
		metric.WithDescription("Requests failed by fault injection"))
	delayDuration, _ := meter.Int64Histogram("storefront.injected_delay_ms",
		metric.WithDescription("Injected delay per request"),
		metric.WithUnit("ms"))

	return &Service{
		injector:      injector,
		logger:        logger,
		requestCount:  requestCount,
		faultCount:    faultCount,
		delayDuration: delayDuration,
	}
}

// Routes returns the storefront ServeMux.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products", s.withFaults("/api/products", s.handleProducts))
	mux.HandleFunc("POST /api/cart", s.withFaults("/api/cart", s.handleCart))
	mux.HandleFunc("POST /api/checkout", s.withFaults("/api/checkout", s.handleCheckout))
	mux.HandleFunc("GET /api/orders/{order_id}", s.withFaults("/api/orders", s.handleOrder))
	mux.HandleFunc("POST /admin/reset-faults", s.handleResetFaults)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// withFaults wraps an endpoint handler with trace continuation and fault
// application. endpoint is the policy key, which for parameterized paths
// differs from the route pattern.
func (s *Service) withFaults(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, isRoot := tracecodec.Extract(r.Header)
		ctx := withRemoteParent(r.Context(), tc)

		ctx, span := tracer.Start(ctx, r.Method+" "+endpoint,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", endpoint),
				attribute.Bool("trace.fabricated_root", isRoot),
			))
		defer span.End()

		d := s.injector.Decide(endpoint, time.Now())
		span.SetAttributes(
			attribute.String("scenario.phase", d.Phase),
			attribute.Int("scenario.elapsed_minutes", d.Elapsed),
			attribute.Int("fault.delay_ms", d.DelayMs),
		)
		attrs := metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("phase", d.Phase),
		)
		s.requestCount.Add(ctx, 1, attrs)
		s.delayDuration.Record(ctx, int64(d.DelayMs), attrs)

		if d.DelayMs > 0 {
			select {
			case <-time.After(time.Duration(d.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				// Client gave up during the injected delay.
				return
			}
		}

		if d.ShouldFail {
			span.SetAttributes(attribute.String("fault.reason_code", d.ReasonCode))
			span.SetStatus(codes.Error, d.ReasonCode)
			s.faultCount.Add(ctx, 1, attrs)
			s.logger.Debug("fault injected",
				"endpoint", endpoint, "phase", d.Phase, "reason", d.ReasonCode, "delay_ms", d.DelayMs)
			writeError(w, http.StatusServiceUnavailable, model.ErrCodeFaultInjected, d.ReasonCode)
			return
		}

		next(w, r.WithContext(ctx))
	}
}

// withRemoteParent converts the wire trace context into a remote span parent
// so storefront spans join the journey's trace in the collector.
func withRemoteParent(ctx context.Context, tc tracecodec.Context) context.Context {
	traceID, err := trace.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(tc.ParentSpanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

type product struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	PriceCt int64   `json:"price_cents"`
	Rating  float64 `json:"rating"`
}

func (s *Service) handleProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []product{
		{ID: "sku-1001", Name: "trail runner", PriceCt: 12900, Rating: 4.6},
		{ID: "sku-1002", Name: "rain shell", PriceCt: 18900, Rating: 4.2},
		{ID: "sku-1003", Name: "wool base layer", PriceCt: 7400, Rating: 4.8},
	})
}

func (s *Service) handleCart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		SKU       string `json:"sku"`
		Quantity  int    `json:"quantity"`
	}
	// Body is best-effort demo input; an empty body still gets a cart.
	_ = json.NewDecoder(r.Body).Decode(&body)

	writeJSON(w, http.StatusOK, map[string]any{
		"cart_id":    uuid.New().String(),
		"session_id": body.SessionID,
		"items":      1,
	})
}

func (s *Service) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":   uuid.New().String(),
		"session_id": body.SessionID,
		"status":     "confirmed",
	})
}

func (s *Service) handleOrder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": r.PathValue("order_id"),
		"status":   "processing",
	})
}

// POST /admin/reset-faults rebases the injector onto a new epoch so the next
// scenario starts from phase zero. Only valid between runs; the generator is
// a separate process, so that ordering is the operator's responsibility.
func (s *Service) handleResetFaults(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartEpochSeconds int64 `json:"startEpochSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	epoch := body.StartEpochSeconds
	if epoch == 0 {
		epoch = time.Now().Unix()
	}
	s.injector.Reset(epoch)
	s.logger.Info("fault policies reset", "start_epoch_seconds", epoch)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "reset",
		"startEpochSeconds": epoch,
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta:  model.ResponseMeta{Timestamp: time.Now().UTC()},
	})
}
