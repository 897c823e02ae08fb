// Package model holds the value types shared by the admin API, the load
// generator, and the storefront handlers.
package model

import (
	"fmt"
	"time"

	"github.com/surgelabs/cascade/internal/phase"
)

// ScenarioConfig describes one scenario run. Immutable once the run starts.
type ScenarioConfig struct {
	StartEpochSeconds     int64            `json:"start_epoch_seconds"`
	DurationMinutes       int              `json:"duration_minutes"`
	BaselineRatePerMinute float64          `json:"baseline_rate_per_minute"`
	PeakRatePerMinute     float64          `json:"peak_rate_per_minute"`
	PhaseBoundaries       []phase.Boundary `json:"phase_boundaries"`
}

// Validate checks the scenario parameters before a run is accepted.
func (c ScenarioConfig) Validate() error {
	if c.DurationMinutes <= 0 {
		return fmt.Errorf("model: duration_minutes must be positive")
	}
	if c.BaselineRatePerMinute <= 0 {
		return fmt.Errorf("model: baseline_rate_per_minute must be positive")
	}
	if c.PeakRatePerMinute < c.BaselineRatePerMinute {
		return fmt.Errorf("model: peak_rate_per_minute must be at least the baseline")
	}
	if len(c.PhaseBoundaries) == 0 {
		return fmt.Errorf("model: at least one phase boundary is required")
	}
	prev := -1
	for _, b := range c.PhaseBoundaries {
		if b.Name == "" {
			return fmt.Errorf("model: phase boundary at minute %d has no name", b.MinuteOffset)
		}
		if b.MinuteOffset <= prev {
			return fmt.Errorf("model: phase boundaries must be strictly increasing")
		}
		prev = b.MinuteOffset
	}
	return nil
}

// StatusSnapshot is a consistent point-in-time view of the generator's run
// state. RequestsFailed never exceeds RequestsSent in any snapshot.
type StatusSnapshot struct {
	Running              bool             `json:"running"`
	ElapsedMinutes       int              `json:"elapsedMinutes"`
	CurrentRatePerMinute float64          `json:"currentRatePerMinute"`
	Phase                string           `json:"phase"`
	RequestsSent         int64            `json:"requestsSent"`
	RequestsFailed       int64            `json:"requestsFailed"`
	JourneysDispatched   int64            `json:"journeysDispatched"`
	PerJourney           map[string]int64 `json:"perJourney"`
	StartedAt            *time.Time       `json:"startedAt,omitempty"`
	StartEpochSeconds    int64            `json:"startEpochSeconds,omitempty"`
}

// RunRecord summarizes one completed scenario for the history archive.
type RunRecord struct {
	ID                string           `json:"id"`
	StartEpochSeconds int64            `json:"startEpochSeconds"`
	DurationMinutes   int              `json:"durationMinutes"`
	PeakRatePerMinute float64          `json:"peakRatePerMinute"`
	RequestsSent      int64            `json:"requestsSent"`
	RequestsFailed    int64            `json:"requestsFailed"`
	PerJourney        map[string]int64 `json:"perJourney"`
	StoppedReason     string           `json:"stoppedReason"`
	StoppedAt         time.Time        `json:"stoppedAt"`
}

// Reasons a run ended, recorded in the history archive.
const (
	StopReasonCompleted = "completed"
	StopReasonOperator  = "operator-stop"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in API error responses.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeFaultInjected = "FAULT_INJECTED"
)
