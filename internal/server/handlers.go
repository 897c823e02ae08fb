package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/surgelabs/cascade/internal/generator"
	"github.com/surgelabs/cascade/internal/model"
)

// HistoryReader lists archived runs. Implemented by the history store.
type HistoryReader interface {
	RecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
}

// Handlers holds the dependencies for all admin HTTP handlers.
type Handlers struct {
	gen       *generator.Generator
	defaults  model.ScenarioConfig
	history   HistoryReader // nil disables /admin/scenario-history
	logger    *slog.Logger
	version   string
	stopGrace time.Duration
	now       func() time.Time
}

// HandlersDeps holds dependencies for creating Handlers.
type HandlersDeps struct {
	Generator *generator.Generator
	Defaults  model.ScenarioConfig
	History   HistoryReader
	Logger    *slog.Logger
	Version   string
	StopGrace time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	grace := deps.StopGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Handlers{
		gen:       deps.Generator,
		defaults:  deps.Defaults,
		history:   deps.History,
		logger:    deps.Logger,
		version:   deps.Version,
		stopGrace: grace,
		now:       time.Now,
	}
}

type startScenarioRequest struct {
	DurationMinutes   int     `json:"durationMinutes"`
	PeakRatePerMinute float64 `json:"peakRatePerMinute"`

	// Optional overrides; defaults come from configuration.
	BaselineRatePerMinute float64 `json:"baselineRatePerMinute,omitempty"`
	StartEpochSeconds     int64   `json:"startEpochSeconds,omitempty"`
}

type startScenarioResponse struct {
	Status            string `json:"status"`
	StartEpochSeconds int64  `json:"startEpochSeconds"`
}

// HandleStartScenario launches a scenario run.
// POST /admin/start-scenario
func (h *Handlers) HandleStartScenario(w http.ResponseWriter, r *http.Request) {
	var req startScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}

	cfg := h.defaults
	if req.DurationMinutes > 0 {
		cfg.DurationMinutes = req.DurationMinutes
	}
	if req.PeakRatePerMinute > 0 {
		cfg.PeakRatePerMinute = req.PeakRatePerMinute
	}
	if req.BaselineRatePerMinute > 0 {
		cfg.BaselineRatePerMinute = req.BaselineRatePerMinute
	}
	if req.StartEpochSeconds > 0 {
		cfg.StartEpochSeconds = req.StartEpochSeconds
	}
	if cfg.StartEpochSeconds == 0 {
		// The epoch is the sole synchronization input: every participating
		// service computes its scenario position from it independently.
		cfg.StartEpochSeconds = h.now().Unix()
	}

	if err := h.gen.Start(r.Context(), cfg); err != nil {
		if errors.Is(err, generator.ErrAlreadyRunning) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "scenario already running")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	writeJSON(w, r, http.StatusAccepted, startScenarioResponse{
		Status:            "started",
		StartEpochSeconds: cfg.StartEpochSeconds,
	})
}

// HandleScenarioStatus returns a consistent snapshot of the run state.
// GET /admin/scenario-status
func (h *Handlers) HandleScenarioStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.gen.Status())
}

// HandleStopScenario stops the run and waits for the drain to finish before
// responding, so a 200 means no journey is still writing to counters.
// POST /admin/stop-scenario
func (h *Handlers) HandleStopScenario(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.stopGrace+5*time.Second)
	defer cancel()

	if err := h.gen.Stop(ctx); err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "stop did not drain in time: "+err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, h.gen.Status())
}

// HandleScenarioHistory lists recently archived runs.
// GET /admin/scenario-history
func (h *Handlers) HandleScenarioHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	recs, err := h.history.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("history query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "history query failed")
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleHealth reports process liveness.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
		"state":   h.gen.State().String(),
	})
}
