package pmtimer

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsccal/internal/platform"
)

func TestTickDelta(t *testing.T) {
	tests := []struct {
		name           string
		start, current uint32
		width          Width
		want           uint32
	}{
		{"no wrap", 100, 500, Width24, 400},
		{"no wrap 32-bit", 100, 500, Width32, 400},
		{"no wrap unknown width", 100, 500, WidthUnknown, 400},
		{"equal", 0x1234, 0x1234, Width24, 0},
		{"24-bit wrap", 0x00FFFFF0, 0x00000010, Width24, 0x20},
		{"32-bit wrap", 0xFFFFFFF0, 0x00000010, Width32, 0x20},
		{"24-bit wrap, unknown width", 0x00FFFFF0, 0x00000010, WidthUnknown, 0x20},
		{"32-bit wrap, unknown width", 0xFFFFFFF0, 0x00000010, WidthUnknown, 0x20},
		{"24-bit wrap to same value minus one", 0x00800000, 0x007FFFFF, Width24, 0x00FFFFFF},
		{"32-bit wrap of less than 2^24", 0x00FFFFF0, 0x00000010, Width32, 0xFF000020},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TickDelta(tt.start, tt.current, tt.width))
		})
	}
}

func TestCalibrate(t *testing.T) {
	tests := []struct {
		profile string
		wantHz  float64
	}{
		{"skylake-desktop", 3600000000},
		{"alderlake-client", 2496000000},
		{"cometlake-pmc-bar", 2400000000}, // 24-bit counter wraps inside the window
		{"goldmont-atom", 1094400000},
		{"amd-zen3", 3400000000}, // 32-bit counter wraps, width unknown
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			c := NewCalibrator(loadSim(t, tt.profile))
			hz := c.Calibrate(false)
			assert.InEpsilon(t, tt.wantHz, float64(hz), 1e-4)
			m, ok := c.Last()
			require.True(t, ok)
			assert.NoError(t, m.Err)
			assert.Equal(t, hz, m.Hz)
			assert.GreaterOrEqual(t, m.Ticks, uint32(TargetTicks))
			assert.InDelta(t, float64(100*time.Millisecond), float64(m.Elapsed()), float64(time.Millisecond))
		})
	}
}

func TestCalibrateCached(t *testing.T) {
	sim := loadSim(t, "skylake-desktop")
	c := NewCalibrator(sim)
	first := c.Calibrate(false)
	require.NotZero(t, first)
	reads := sim.TimerReads
	elapsed := sim.Elapsed()

	assert.Equal(t, first, c.Calibrate(false))
	assert.Equal(t, reads, sim.TimerReads, "cached result must not touch the timer")
	assert.Equal(t, elapsed, sim.Elapsed())
}

func TestCalibrateRecalculate(t *testing.T) {
	sim := loadSim(t, "skylake-desktop")
	c := NewCalibrator(sim)
	first := c.Calibrate(false)
	reads := sim.TimerReads

	second := c.Calibrate(true)
	assert.Greater(t, sim.TimerReads, reads)
	assert.InEpsilon(t, float64(first), float64(second), 1e-4)
	assert.Equal(t, second, c.Calibrate(false))
}

func TestCalibrateReset(t *testing.T) {
	sim := loadSim(t, "skylake-desktop")
	c := NewCalibrator(sim)
	require.NotZero(t, c.Calibrate(false))
	c.Reset()
	_, ok := c.Last()
	assert.False(t, ok)
	reads := sim.TimerReads
	assert.NotZero(t, c.Calibrate(false))
	assert.Greater(t, sim.TimerReads, reads)
}

func TestCalibrateRaisesPriority(t *testing.T) {
	sim := loadSim(t, "skylake-desktop")
	var interrupted int
	sim.Interrupt = func() time.Duration {
		interrupted++
		return 5 * time.Millisecond
	}
	c := NewCalibrator(sim)
	hz := c.Calibrate(false)

	assert.InEpsilon(t, 3600000000.0, float64(hz), 1e-4)
	assert.Equal(t, []platform.TPL{platform.TPLHighLevel, platform.TPLApplication}, sim.TPLHistory)
	assert.Equal(t, platform.TPLApplication, sim.TPL())
	assert.Equal(t, 2, interrupted, "only the sanity reads run below high priority")
	assert.Equal(t, sim.TimerReads-2, sim.TimerReadsAtHighTPL)
}

func TestCalibrateStuckTimer(t *testing.T) {
	sim := loadSim(t, "vm-stuck-timer")
	c := NewCalibrator(sim)
	assert.Zero(t, c.Calibrate(false))
	m, ok := c.Last()
	require.True(t, ok)
	assert.ErrorIs(t, m.Err, ErrTimerNotAdvancing)
	assert.True(t, m.Timer.Found())
	assert.Empty(t, sim.TPLHistory)
	assert.Equal(t, 2, sim.TimerReads)
	assert.GreaterOrEqual(t, sim.Elapsed(), SanityStall)

	// a zero result is not cached
	assert.Zero(t, c.Calibrate(false))
	assert.Equal(t, 4, sim.TimerReads)
}

func TestCalibrateNoTimer(t *testing.T) {
	sim := loadSim(t, "coffeelake-z390")
	c := NewCalibrator(sim)
	assert.Zero(t, c.Calibrate(false))
	m, ok := c.Last()
	require.True(t, ok)
	assert.ErrorIs(t, m.Err, ErrTimerNotFound)
	assert.Equal(t, SourceUnknownChipset, m.Timer.Source)
	assert.Zero(t, sim.TimerReads)
}

func TestCalibrateCustomTimerRate(t *testing.T) {
	profile, err := platform.LoadProfile("skylake-desktop")
	require.NoError(t, err)
	// a timer running 1% fast makes the counter look 1% slow
	profile.PMTimer.Hz = NominalHz * 101 / 100
	hz := NewCalibrator(platform.NewSim(profile)).Calibrate(false)
	assert.InEpsilon(t, 3600000000.0/1.01, float64(hz), 1e-4)
}
