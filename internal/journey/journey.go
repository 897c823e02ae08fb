// Package journey defines weighted multi-step user workflows and executes
// them against downstream endpoints with manual trace-context propagation.
package journey

import (
	"fmt"
	"math/rand"

	"github.com/surgelabs/cascade/internal/phase"
)

// Step is one outbound call in a journey. Templates may contain {order_id}
// and {session_id} placeholders, rendered per execution.
type Step struct {
	Method       string `json:"method"`
	PathTemplate string `json:"path_template"`
	BodyTemplate string `json:"body_template,omitempty"`
}

// Definition is an immutable journey loaded once at startup. WeightByPhase
// tunes how often the journey is chosen as the scenario progresses; a phase
// with no entry falls back to the nearest earlier phase that has one.
type Definition struct {
	Name          string             `json:"name"`
	Steps         []Step             `json:"steps"`
	WeightByPhase map[string]float64 `json:"weight_by_phase"`
}

// weightFor resolves the journey's weight for the given phase, walking back
// through earlier phases when the phase has no explicit entry.
func (d Definition) weightFor(phaseName string, boundaries []phase.Boundary) float64 {
	if w, ok := d.WeightByPhase[phaseName]; ok {
		return w
	}
	ord := phase.Ordinal(phaseName, boundaries)
	for i := ord - 1; i >= 0; i-- {
		if w, ok := d.WeightByPhase[boundaries[i].Name]; ok {
			return w
		}
	}
	return 0
}

// PickWeighted selects a journey by weighted random choice using the current
// phase's weight table. The weights across all journeys for a phase must sum
// to a positive number.
func PickWeighted(defs []Definition, phaseName string, boundaries []phase.Boundary, rng *rand.Rand) (Definition, error) {
	if len(defs) == 0 {
		return Definition{}, fmt.Errorf("journey: no journeys defined")
	}

	weights := make([]float64, len(defs))
	total := 0.0
	for i, d := range defs {
		w := d.weightFor(phaseName, boundaries)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return Definition{}, fmt.Errorf("journey: weights for phase %q sum to zero", phaseName)
	}

	pick := rng.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			return defs[i], nil
		}
	}
	return defs[len(defs)-1], nil
}

// Defaults returns the built-in storefront journeys. Browsing dominates early
// phases; checkout traffic grows through peak so the degraded endpoints see
// proportionally more of the surge.
func Defaults() []Definition {
	return []Definition{
		{
			Name: "browse",
			Steps: []Step{
				{Method: "GET", PathTemplate: "/api/products"},
			},
			WeightByPhase: map[string]float64{
				"ramp": 0.6, "peak": 0.5, "degradation": 0.5, "critical": 0.5,
			},
		},
		{
			Name: "browse-and-cart",
			Steps: []Step{
				{Method: "GET", PathTemplate: "/api/products"},
				{Method: "POST", PathTemplate: "/api/cart", BodyTemplate: `{"session_id":"{session_id}","sku":"sku-1042","qty":1}`},
			},
			WeightByPhase: map[string]float64{
				"ramp": 0.25, "peak": 0.25,
			},
		},
		{
			Name: "full-checkout",
			Steps: []Step{
				{Method: "GET", PathTemplate: "/api/products"},
				{Method: "POST", PathTemplate: "/api/cart", BodyTemplate: `{"session_id":"{session_id}","sku":"sku-1042","qty":1}`},
				{Method: "POST", PathTemplate: "/api/checkout", BodyTemplate: `{"session_id":"{session_id}","payment":"card"}`},
				{Method: "GET", PathTemplate: "/api/orders/{order_id}"},
			},
			WeightByPhase: map[string]float64{
				"ramp": 0.15, "peak": 0.25,
			},
		},
	}
}
