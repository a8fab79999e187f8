package tscfreq

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsccal/internal/art"
	"tsccal/internal/cpus"
	"tsccal/internal/platform"
	"tsccal/internal/pmtimer"
)

func loadSim(t *testing.T, name string) *platform.Sim {
	t.Helper()
	profile, err := platform.LoadProfile(name)
	require.NoError(t, err)
	return platform.NewSim(profile)
}

func TestFrequencyBuiltinProfiles(t *testing.T) {
	tests := []struct {
		profile string
		wantHz  uint64
		source  Source
		exact   bool
	}{
		{"skylake-desktop", 3600000000, SourceART, true},
		{"coffeelake-z390", 3696000000, SourceART, true},
		{"alderlake-client", 2496000000, SourceART, true},
		{"goldmont-atom", 1094400000, SourceART, true},
		{"cometlake-pmc-bar", 2400000000, SourceART, true},
		{"amd-zen3", 3400000000, SourcePMTimer, false},
		{"vm-stuck-timer", 0, SourceNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			e := New(loadSim(t, tt.profile))
			summary := e.Inspect(false)
			assert.Equal(t, tt.source, summary.Source)
			if tt.exact {
				assert.Equal(t, tt.wantHz, summary.FrequencyHz)
			} else {
				assert.InEpsilon(t, float64(tt.wantHz), float64(summary.FrequencyHz), 1e-4)
			}
			assert.Equal(t, summary.FrequencyHz, e.Frequency())
		})
	}
}

func TestFrequencyPrefersART(t *testing.T) {
	sim := loadSim(t, "skylake-desktop")
	e := New(sim)
	assert.Equal(t, uint64(3600000000), e.Frequency())
	assert.Zero(t, sim.TimerReads, "PM timer must not be used when the crystal path resolves")

	// the PM timer would also have worked
	assert.InEpsilon(t, 3600000000.0, float64(e.calibrator.Calibrate(false)), 1e-4)
}

func TestFrequencyBothPathsFail(t *testing.T) {
	sim := loadSim(t, "vm-stuck-timer")
	e := New(sim)
	assert.Zero(t, e.Frequency())
	summary := e.Inspect(false)
	require.NotNil(t, summary.Measurement)
	require.NotNil(t, summary.Resolution)
	assert.ErrorIs(t, summary.Measurement.Err, pmtimer.ErrTimerNotAdvancing)
	assert.ErrorIs(t, summary.Resolution.Err, art.ErrLeafUnsupported)
	assert.Equal(t, SourceNone, summary.Source)
}

func TestFrequencyNoTimerNoLeaf(t *testing.T) {
	profile, err := platform.LoadProfile("coffeelake-z390")
	require.NoError(t, err)
	profile.CPU.MaxLeaf = 0x0D
	e := New(platform.NewSim(profile))
	assert.Zero(t, e.Frequency())
	summary := e.Inspect(false)
	require.NotNil(t, summary.Measurement)
	assert.ErrorIs(t, summary.Measurement.Err, pmtimer.ErrTimerNotFound)
	assert.Equal(t, pmtimer.SourceUnknownChipset, summary.Timer.Source)
}

func TestFrequencyCached(t *testing.T) {
	sim := loadSim(t, "amd-zen3")
	e := New(sim)
	first := e.Frequency()
	require.NotZero(t, first)
	reads := sim.TimerReads
	assert.Equal(t, first, e.Frequency())
	assert.Equal(t, reads, sim.TimerReads)

	assert.NotZero(t, e.Recalculate())
	assert.Greater(t, sim.TimerReads, reads)

	e.Reset()
	reads = sim.TimerReads
	assert.NotZero(t, e.Frequency())
	assert.Greater(t, sim.TimerReads, reads)
}

func TestInspect(t *testing.T) {
	e := New(loadSim(t, "skylake-desktop"))
	summary := e.Inspect(false)
	assert.Equal(t, cpus.IntelVendor, summary.Vendor)
	assert.Equal(t, uint32(0x16), summary.MaxLeaf)
	assert.Equal(t, cpus.Signature(0x506E3), summary.Signature)
	assert.Equal(t, cpus.UarchSKL, summary.MicroArchitecture)
	assert.Equal(t, pmtimer.Timer{Port: 0x1808, Width: pmtimer.Width24, Source: pmtimer.SourceLegacy}, summary.Timer)
	assert.Nil(t, summary.Measurement)
	require.NotNil(t, summary.Resolution)
	assert.Equal(t, art.CrystalModelTable, summary.Resolution.CrystalSource)
	assert.Equal(t, uint64(24000000), summary.Resolution.CrystalHz)
}

func TestInspectCalibratedCrystal(t *testing.T) {
	e := New(loadSim(t, "cometlake-pmc-bar"))
	summary := e.Inspect(false)
	assert.Equal(t, cpus.UarchCML, summary.MicroArchitecture)
	require.NotNil(t, summary.Measurement)
	require.NotNil(t, summary.Resolution)
	assert.Equal(t, art.CrystalCalibrated, summary.Resolution.CrystalSource)
	assert.Equal(t, art.BaseFrequencyLeaf, summary.Resolution.BaseSource)
	assert.Equal(t, summary.Measurement.Hz, summary.Resolution.TSCHz)
	assert.InEpsilon(t, 24000000.0, float64(summary.Resolution.CrystalHz), 1e-4)
	assert.Equal(t, pmtimer.SourcePMCBAR, summary.Timer.Source)
}

func TestDefaultEngine(t *testing.T) {
	defaultEngine.Store(nil)
	assert.Zero(t, Frequency())
	Reset()

	Init(loadSim(t, "goldmont-atom"))
	assert.Equal(t, uint64(1094400000), Frequency())
	Reset()
	assert.Equal(t, uint64(1094400000), Frequency())

	Init(loadSim(t, "vm-stuck-timer"))
	assert.Zero(t, Frequency())
	defaultEngine.Store(nil)
}
