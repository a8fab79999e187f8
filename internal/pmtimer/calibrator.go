package pmtimer

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tsccal/internal/platform"
	"tsccal/internal/util"
)

const (
	// NominalHz is the ACPI PM timer rate.
	NominalHz = platform.NominalPMTimerHz
	// TargetTicks is the length of the calibration window, 100 ms of timer ticks.
	TargetTicks = NominalHz / 10
	// SanityStall is how long the timer must advance across before it is trusted.
	SanityStall = 500 * time.Microsecond

	counterMask24 = 0x00FFFFFF
)

var (
	ErrTimerNotFound     = errors.New("PM timer not found")
	ErrTimerNotAdvancing = errors.New("PM timer is not advancing")
)

// TickDelta returns the number of timer ticks between two readings. A
// reading below start means the counter wrapped once. When the width is
// unknown, a backwards step that fits in 24 bits is taken as a 24-bit wrap.
func TickDelta(start, current uint32, width Width) uint32 {
	if current >= start {
		return current - start
	}
	switch width {
	case Width24:
		return (current - start) & counterMask24
	case Width32:
		return current - start
	}
	if start-current <= counterMask24 {
		return (current - start) & counterMask24
	}
	return current - start
}

// Measurement is the outcome of one calibration attempt.
type Measurement struct {
	Timer    Timer
	TSCStart uint64
	TSCEnd   uint64
	Ticks    uint32
	Hz       uint64
	Err      error
}

// Elapsed returns the wall-clock length of the calibration window.
func (m Measurement) Elapsed() time.Duration {
	return time.Duration(util.MulDiv(uint64(m.Ticks), uint64(time.Second), NominalHz)) // #nosec G115
}

// Calibrator measures the time-stamp counter frequency against the PM timer
// and caches the result until it is reset or recalculated.
type Calibrator struct {
	platform platform.Platform
	hz       atomic.Uint64
	last     atomic.Pointer[Measurement]
}

func NewCalibrator(p platform.Platform) *Calibrator {
	return &Calibrator{platform: p}
}

// Calibrate returns the TSC frequency in Hz, or 0 when it cannot be
// measured. A cached non-zero value is returned without touching the
// hardware unless recalculate is set.
func (c *Calibrator) Calibrate(recalculate bool) uint64 {
	if !recalculate {
		if hz := c.hz.Load(); hz != 0 {
			return hz
		}
	}
	m := c.measure()
	c.last.Store(&m)
	c.hz.Store(m.Hz)
	if m.Err != nil {
		slog.Warn("TSC calibration against PM timer failed", slog.String("source", m.Timer.Source.String()), slog.String("error", m.Err.Error()))
	} else {
		slog.Info("TSC calibrated against PM timer", slog.Uint64("hz", m.Hz), slog.Uint64("ticks", uint64(m.Ticks)), slog.Uint64("tsc_delta", m.TSCEnd-m.TSCStart))
	}
	return m.Hz
}

// Last returns the most recent measurement, if any.
func (c *Calibrator) Last() (Measurement, bool) {
	m := c.last.Load()
	if m == nil {
		return Measurement{}, false
	}
	return *m, true
}

// Reset drops the cached frequency and measurement.
func (c *Calibrator) Reset() {
	c.hz.Store(0)
	c.last.Store(nil)
}

func (c *Calibrator) measure() (m Measurement) {
	m.Timer = Locate(c.platform)
	if !m.Timer.Found() {
		m.Err = ErrTimerNotFound
		return
	}
	first := c.read(m.Timer)
	c.platform.Stall(SanityStall)
	if second := c.read(m.Timer); second == first {
		m.Err = fmt.Errorf("%w: port %#x read %#x before and after %s", ErrTimerNotAdvancing, m.Timer.Port, first, SanityStall)
		return
	}
	m.TSCStart, m.TSCEnd, m.Ticks = c.sample(m.Timer)
	m.Hz = util.MulDivRound(m.TSCEnd-m.TSCStart, NominalHz, uint64(m.Ticks))
	return
}

// sample runs the timed window with the platform at high priority.
func (c *Calibrator) sample(timer Timer) (tscStart, tscEnd uint64, ticks uint32) {
	guard := platform.Acquire(c.platform)
	defer guard.Release()
	start := c.read(timer)
	tscStart = c.platform.ReadTSC()
	for ticks < TargetTicks {
		c.platform.CPUPause()
		ticks = TickDelta(start, c.read(timer), timer.Width)
	}
	tscEnd = c.platform.ReadTSC()
	return
}

func (c *Calibrator) read(timer Timer) uint32 {
	value := c.platform.IORead32(timer.Port)
	if timer.Width == Width24 {
		value &= counterMask24
	}
	return value
}
