// Package faultinject degrades downstream endpoints on a schedule derived
// from the shared scenario epoch. Each endpoint carries an immutable policy of
// phase thresholds; as scenario minutes pass, delays grow and failure
// probability rises. Past the last threshold the worst parameters apply
// indefinitely until an explicit reset.
package faultinject

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/surgelabs/cascade/internal/phase"
)

// Reason codes attached to injected failures and span annotations.
const (
	ReasonMissingIndexScan  = "missing-index-full-scan"
	ReasonConnPoolExhausted = "connection-pool-exhausted"
	ReasonLockContention    = "lock-contention"
	ReasonUpstreamSaturated = "upstream-saturated"
)

// Threshold is one step of an endpoint's degradation schedule, active from
// MinuteOffset until the next threshold takes over.
type Threshold struct {
	MinuteOffset       int     `json:"minute_offset"`
	Phase              string  `json:"phase"`
	DelayMinMs         int     `json:"delay_min_ms"`
	DelayMaxMs         int     `json:"delay_max_ms"`
	FailureProbability float64 `json:"failure_probability"`
	ReasonCode         string  `json:"reason_code"`
}

// Policy is the full schedule for one endpoint, ordered by MinuteOffset.
type Policy struct {
	Thresholds []Threshold `json:"thresholds"`
}

// Validate checks the degradation monotonicity invariant: offsets strictly
// increase, and delay ranges and failure probabilities never decrease across
// thresholds. Degradation must not quietly improve as the scenario ages.
func (p Policy) Validate() error {
	for i, th := range p.Thresholds {
		if th.DelayMinMs < 0 || th.DelayMaxMs < th.DelayMinMs {
			return fmt.Errorf("faultinject: threshold %d: invalid delay range [%d, %d]", i, th.DelayMinMs, th.DelayMaxMs)
		}
		if th.FailureProbability < 0 || th.FailureProbability > 1 {
			return fmt.Errorf("faultinject: threshold %d: failure probability %v out of [0,1]", i, th.FailureProbability)
		}
		if i == 0 {
			continue
		}
		prev := p.Thresholds[i-1]
		if th.MinuteOffset <= prev.MinuteOffset {
			return fmt.Errorf("faultinject: threshold %d: offset %d not after %d", i, th.MinuteOffset, prev.MinuteOffset)
		}
		if th.DelayMinMs < prev.DelayMinMs || th.DelayMaxMs < prev.DelayMaxMs {
			return fmt.Errorf("faultinject: threshold %d: delay range shrinks", i)
		}
		if th.FailureProbability < prev.FailureProbability {
			return fmt.Errorf("faultinject: threshold %d: failure probability decreases", i)
		}
	}
	return nil
}

// active returns the last threshold at or before elapsed, or nil before the
// first threshold. Past the last threshold the last one stays active.
func (p Policy) active(elapsed int) *Threshold {
	var cur *Threshold
	for i := range p.Thresholds {
		if p.Thresholds[i].MinuteOffset > elapsed {
			break
		}
		cur = &p.Thresholds[i]
	}
	return cur
}

// Decision is the outcome of one fault evaluation for one request.
type Decision struct {
	DelayMs    int
	ShouldFail bool
	ReasonCode string
	Phase      string
	Elapsed    int
}

// Injector evaluates fault policies against the scenario clock. Safe for
// concurrent use.
type Injector struct {
	policies   map[string]Policy
	boundaries []phase.Boundary

	mu    sync.Mutex
	epoch int64
	rng   *rand.Rand
}

// New creates an injector anchored at the given scenario epoch.
func New(epochSeconds int64, policies map[string]Policy, boundaries []phase.Boundary) *Injector {
	return &Injector{
		policies:   policies,
		boundaries: boundaries,
		epoch:      epochSeconds,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Decide evaluates the policy for endpoint at the current scenario minute.
// Unknown endpoints and minutes before the first threshold yield a zero
// decision (no delay, no failure).
func (inj *Injector) Decide(endpoint string, now time.Time) Decision {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	elapsed := phase.ElapsedMinutes(inj.epoch, now)
	return inj.decideAt(endpoint, elapsed)
}

// decideAt must be called with inj.mu held (it uses inj.rng).
func (inj *Injector) decideAt(endpoint string, elapsed int) Decision {
	d := Decision{
		Phase:   phase.For(elapsed, inj.boundaries),
		Elapsed: elapsed,
	}
	pol, ok := inj.policies[endpoint]
	if !ok {
		return d
	}
	th := pol.active(elapsed)
	if th == nil {
		return d
	}

	if th.DelayMaxMs > th.DelayMinMs {
		d.DelayMs = th.DelayMinMs + inj.rng.Intn(th.DelayMaxMs-th.DelayMinMs+1)
	} else {
		d.DelayMs = th.DelayMinMs
	}
	if th.FailureProbability > 0 && inj.rng.Float64() < th.FailureProbability {
		d.ShouldFail = true
		d.ReasonCode = th.ReasonCode
	}
	return d
}

// Reset rebases the injector onto a new scenario epoch, returning every
// policy to phase zero. Callers must only invoke this between scenario runs.
func (inj *Injector) Reset(epochSeconds int64) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.epoch = epochSeconds
}

// Epoch returns the current scenario epoch.
func (inj *Injector) Epoch() int64 {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.epoch
}

// DefaultPolicies is the built-in storefront degradation schedule. The cart
// and checkout endpoints degrade hardest; the product catalog mostly slows.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"/api/products": {Thresholds: []Threshold{
			{MinuteOffset: 0, Phase: "ramp", DelayMinMs: 0, DelayMaxMs: 20, FailureProbability: 0, ReasonCode: ReasonMissingIndexScan},
			{MinuteOffset: 10, Phase: "peak", DelayMinMs: 20, DelayMaxMs: 120, FailureProbability: 0.01, ReasonCode: ReasonMissingIndexScan},
			{MinuteOffset: 18, Phase: "degradation", DelayMinMs: 120, DelayMaxMs: 600, FailureProbability: 0.05, ReasonCode: ReasonMissingIndexScan},
			{MinuteOffset: 25, Phase: "critical", DelayMinMs: 600, DelayMaxMs: 2000, FailureProbability: 0.15, ReasonCode: ReasonMissingIndexScan},
		}},
		"/api/cart": {Thresholds: []Threshold{
			{MinuteOffset: 0, Phase: "ramp", DelayMinMs: 0, DelayMaxMs: 10, FailureProbability: 0, ReasonCode: ReasonLockContention},
			{MinuteOffset: 10, Phase: "peak", DelayMinMs: 10, DelayMaxMs: 80, FailureProbability: 0.02, ReasonCode: ReasonLockContention},
			{MinuteOffset: 18, Phase: "degradation", DelayMinMs: 80, DelayMaxMs: 400, FailureProbability: 0.10, ReasonCode: ReasonLockContention},
			{MinuteOffset: 25, Phase: "critical", DelayMinMs: 400, DelayMaxMs: 1500, FailureProbability: 0.30, ReasonCode: ReasonLockContention},
		}},
		"/api/checkout": {Thresholds: []Threshold{
			{MinuteOffset: 0, Phase: "ramp", DelayMinMs: 5, DelayMaxMs: 30, FailureProbability: 0, ReasonCode: ReasonConnPoolExhausted},
			{MinuteOffset: 10, Phase: "peak", DelayMinMs: 30, DelayMaxMs: 150, FailureProbability: 0.03, ReasonCode: ReasonConnPoolExhausted},
			{MinuteOffset: 18, Phase: "degradation", DelayMinMs: 150, DelayMaxMs: 800, FailureProbability: 0.15, ReasonCode: ReasonConnPoolExhausted},
			{MinuteOffset: 25, Phase: "critical", DelayMinMs: 800, DelayMaxMs: 3000, FailureProbability: 0.40, ReasonCode: ReasonConnPoolExhausted},
		}},
		"/api/orders": {Thresholds: []Threshold{
			{MinuteOffset: 0, Phase: "ramp", DelayMinMs: 0, DelayMaxMs: 15, FailureProbability: 0, ReasonCode: ReasonUpstreamSaturated},
			{MinuteOffset: 10, Phase: "peak", DelayMinMs: 15, DelayMaxMs: 100, FailureProbability: 0.01, ReasonCode: ReasonUpstreamSaturated},
			{MinuteOffset: 18, Phase: "degradation", DelayMinMs: 100, DelayMaxMs: 500, FailureProbability: 0.08, ReasonCode: ReasonUpstreamSaturated},
			{MinuteOffset: 25, Phase: "critical", DelayMinMs: 500, DelayMaxMs: 1800, FailureProbability: 0.25, ReasonCode: ReasonUpstreamSaturated},
		}},
	}
}
