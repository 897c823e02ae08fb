// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/surgelabs/cascade/internal/faultinject"
	"github.com/surgelabs/cascade/internal/phase"
)

// Config holds all application configuration for both binaries.
type Config struct {
	// Server settings.
	Port           int
	StorefrontPort int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Scenario defaults. StartEpochSeconds is the sole synchronization
	// primitive shared across participating services; zero means "set at
	// scenario start".
	StartEpochSeconds     int64
	DurationMinutes       int
	BaselineRatePerMinute float64
	PeakRatePerMinute     float64
	PhaseBoundaries       []phase.Boundary

	// Load generation settings.
	TargetBaseURL  string
	MaxConcurrent  int64
	StepTimeout    time.Duration
	StopGrace      time.Duration
	HistoryDBPath  string // empty disables the run archive

	// Storefront fault schedule. Nil means the built-in schedule.
	FaultPolicies map[string]faultinject.Policy

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	boundaries, err := ParseBoundaries(envStr("CASCADE_PHASE_BOUNDARIES", "0:ramp,10:peak,18:degradation,25:critical"))
	if err != nil {
		return Config{}, err
	}

	policies, err := ParsePolicies(envStr("CASCADE_FAULT_POLICIES", ""))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                  envInt("CASCADE_PORT", 8080),
		StorefrontPort:        envInt("CASCADE_STOREFRONT_PORT", 8081),
		ReadTimeout:           envDuration("CASCADE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          envDuration("CASCADE_WRITE_TIMEOUT", 60*time.Second),
		StartEpochSeconds:     envInt64("CASCADE_START_EPOCH", 0),
		DurationMinutes:       envInt("CASCADE_DURATION_MINUTES", 30),
		BaselineRatePerMinute: envFloat("CASCADE_BASELINE_RATE_PER_MINUTE", 30),
		PeakRatePerMinute:     envFloat("CASCADE_PEAK_RATE_PER_MINUTE", 120),
		PhaseBoundaries:       boundaries,
		TargetBaseURL:         envStr("CASCADE_TARGET_BASE_URL", "http://localhost:8081"),
		MaxConcurrent:         int64(envInt("CASCADE_MAX_CONCURRENT_JOURNEYS", 32)),
		StepTimeout:           envDuration("CASCADE_STEP_TIMEOUT", 5*time.Second),
		StopGrace:             envDuration("CASCADE_STOP_GRACE", 5*time.Second),
		HistoryDBPath:         envStr("CASCADE_HISTORY_DB_PATH", "cascade-history.db"),
		FaultPolicies:         policies,
		OTELEndpoint:          envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:          envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceName:           envStr("OTEL_SERVICE_NAME", "cascade"),
		LogLevel:              envStr("CASCADE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.DurationMinutes <= 0 {
		return fmt.Errorf("config: CASCADE_DURATION_MINUTES must be positive")
	}
	if c.BaselineRatePerMinute <= 0 {
		return fmt.Errorf("config: CASCADE_BASELINE_RATE_PER_MINUTE must be positive")
	}
	if c.PeakRatePerMinute < c.BaselineRatePerMinute {
		return fmt.Errorf("config: CASCADE_PEAK_RATE_PER_MINUTE must be at least the baseline")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("config: CASCADE_MAX_CONCURRENT_JOURNEYS must be positive")
	}
	if c.TargetBaseURL == "" {
		return fmt.Errorf("config: CASCADE_TARGET_BASE_URL is required")
	}
	if len(c.PhaseBoundaries) == 0 {
		return fmt.Errorf("config: CASCADE_PHASE_BOUNDARIES must define at least one phase")
	}
	return nil
}

// ParseBoundaries parses the compact "offset:name,offset:name" phase list.
// Offsets must be non-negative and strictly increasing.
func ParseBoundaries(s string) ([]phase.Boundary, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("config: empty phase boundary list")
	}
	parts := strings.Split(s, ",")
	out := make([]phase.Boundary, 0, len(parts))
	prev := -1
	for _, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 || kv[1] == "" {
			return nil, fmt.Errorf("config: malformed phase boundary %q (want offset:name)", part)
		}
		offset, err := strconv.Atoi(kv[0])
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("config: bad minute offset in phase boundary %q", part)
		}
		if offset <= prev {
			return nil, fmt.Errorf("config: phase boundary offsets must be strictly increasing at %q", part)
		}
		prev = offset
		out = append(out, phase.Boundary{MinuteOffset: offset, Name: kv[1]})
	}
	return out, nil
}

// ParsePolicies parses the compact per-endpoint fault schedule
// "endpoint=minute:min-max:probability:reason,..." with endpoints separated
// by ';', e.g.
//
//	/api/cart=0:0-10:0:lock-contention,10:10-80:0.02:lock-contention
//
// An empty string yields nil, which callers treat as "use the built-in
// schedule". Every parsed policy is validated against the degradation
// monotonicity invariant.
func ParsePolicies(s string) (map[string]faultinject.Policy, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[string]faultinject.Policy)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		endpoint, rest, found := strings.Cut(entry, "=")
		if !found || endpoint == "" || rest == "" {
			return nil, fmt.Errorf("config: malformed fault policy %q (want endpoint=thresholds)", entry)
		}
		var pol faultinject.Policy
		for _, raw := range strings.Split(rest, ",") {
			th, err := parseThreshold(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("config: endpoint %s: %w", endpoint, err)
			}
			pol.Thresholds = append(pol.Thresholds, th)
		}
		if err := pol.Validate(); err != nil {
			return nil, fmt.Errorf("config: endpoint %s: %w", endpoint, err)
		}
		out[endpoint] = pol
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: fault policy list has no endpoints")
	}
	return out, nil
}

func parseThreshold(raw string) (faultinject.Threshold, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 || parts[3] == "" {
		return faultinject.Threshold{}, fmt.Errorf("malformed threshold %q (want minute:min-max:probability:reason)", raw)
	}
	minute, err := strconv.Atoi(parts[0])
	if err != nil || minute < 0 {
		return faultinject.Threshold{}, fmt.Errorf("bad minute offset in threshold %q", raw)
	}
	lo, hi, found := strings.Cut(parts[1], "-")
	if !found {
		return faultinject.Threshold{}, fmt.Errorf("bad delay range in threshold %q (want min-max)", raw)
	}
	delayMin, err := strconv.Atoi(lo)
	if err != nil {
		return faultinject.Threshold{}, fmt.Errorf("bad delay minimum in threshold %q", raw)
	}
	delayMax, err := strconv.Atoi(hi)
	if err != nil {
		return faultinject.Threshold{}, fmt.Errorf("bad delay maximum in threshold %q", raw)
	}
	prob, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return faultinject.Threshold{}, fmt.Errorf("bad failure probability in threshold %q", raw)
	}
	return faultinject.Threshold{
		MinuteOffset:       minute,
		DelayMinMs:         delayMin,
		DelayMaxMs:         delayMax,
		FailureProbability: prob,
		ReasonCode:         parts[3],
	}, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
