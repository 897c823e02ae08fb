// Package phase maps the shared scenario epoch onto named load phases.
// Every participating service derives the same phase from (epoch, wall clock)
// without talking to any other service. Minute granularity makes ordinary
// clock skew between hosts irrelevant to phase selection.
package phase

import "time"

// PreScenario is the phase reported before the first boundary is reached,
// or when no boundaries are configured.
const PreScenario = "pre-scenario"

// Boundary names the phase that begins at a given minute offset from the
// scenario epoch. Boundaries are kept sorted by MinuteOffset ascending.
type Boundary struct {
	MinuteOffset int    `json:"minute_offset"`
	Name         string `json:"name"`
}

// ElapsedMinutes returns whole minutes since epochSeconds, clamped to zero.
// A clock behind the epoch is treated as minute zero rather than an error.
func ElapsedMinutes(epochSeconds int64, now time.Time) int {
	d := now.Unix() - epochSeconds
	if d < 0 {
		return 0
	}
	return int(d / 60)
}

// For returns the name of the last boundary whose offset is at or before
// elapsed, or PreScenario when no boundary has been reached yet.
func For(elapsed int, boundaries []Boundary) string {
	name := PreScenario
	for _, b := range boundaries {
		if b.MinuteOffset > elapsed {
			break
		}
		name = b.Name
	}
	return name
}

// Ordinal returns the index of the named phase within boundaries, or -1 for
// PreScenario and unknown names. Used for "fall back to an earlier phase"
// lookups where a weight table has no entry for the current phase.
func Ordinal(name string, boundaries []Boundary) int {
	for i, b := range boundaries {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// RateFor returns the target dispatch rate (journeys per minute) at the given
// elapsed minute. The rate ramps linearly from baseline to peak over the first
// third of the scenario, then holds at peak until the end.
func RateFor(elapsed int, baseline, peak float64, durationMinutes int) float64 {
	if durationMinutes <= 0 {
		return baseline
	}
	rampEnd := float64(durationMinutes) / 3.0
	e := float64(elapsed)
	if e >= rampEnd {
		return peak
	}
	return baseline + (peak-baseline)*(e/rampEnd)
}
