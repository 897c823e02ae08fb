package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surgelabs/cascade/internal/phase"
)

func validScenario() ScenarioConfig {
	return ScenarioConfig{
		StartEpochSeconds:     1_770_000_000,
		DurationMinutes:       30,
		BaselineRatePerMinute: 30,
		PeakRatePerMinute:     120,
		PhaseBoundaries: []phase.Boundary{
			{MinuteOffset: 0, Name: "ramp"},
			{MinuteOffset: 10, Name: "peak"},
			{MinuteOffset: 18, Name: "degradation"},
		},
	}
}

func TestScenarioConfigValidate(t *testing.T) {
	assert.NoError(t, validScenario().Validate())

	tests := []struct {
		name   string
		mutate func(*ScenarioConfig)
	}{
		{"zero duration", func(c *ScenarioConfig) { c.DurationMinutes = 0 }},
		{"zero baseline", func(c *ScenarioConfig) { c.BaselineRatePerMinute = 0 }},
		{"peak below baseline", func(c *ScenarioConfig) { c.PeakRatePerMinute = 10 }},
		{"no boundaries", func(c *ScenarioConfig) { c.PhaseBoundaries = nil }},
		{"unnamed boundary", func(c *ScenarioConfig) { c.PhaseBoundaries[1].Name = "" }},
		{"non-increasing offsets", func(c *ScenarioConfig) { c.PhaseBoundaries[2].MinuteOffset = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validScenario()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
