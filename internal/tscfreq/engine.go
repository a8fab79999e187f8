/*
Package tscfreq reports the processor's time-stamp counter frequency. The
crystal clock path is preferred; the PM timer calibration is the fallback.
*/
package tscfreq

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"sync/atomic"

	"tsccal/internal/art"
	"tsccal/internal/cpus"
	"tsccal/internal/platform"
	"tsccal/internal/pmtimer"
)

// Source names the path that produced a frequency.
type Source string

const (
	SourceNone    Source = "none"
	SourceART     Source = "art"
	SourcePMTimer Source = "pm-timer"
)

// Engine ties the PM timer calibrator and the ART resolver to one platform.
// Results are cached per engine.
type Engine struct {
	platform   platform.Platform
	calibrator *pmtimer.Calibrator
	resolver   *art.Resolver
}

func New(p platform.Platform) *Engine {
	calibrator := pmtimer.NewCalibrator(p)
	return &Engine{
		platform:   p,
		calibrator: calibrator,
		resolver:   art.NewResolver(p, calibrator),
	}
}

// Frequency returns the counter frequency in Hz, 0 when unknown. Cached
// results are reused.
func (e *Engine) Frequency() uint64 {
	hz, _ := e.frequency(false)
	return hz
}

// Recalculate discards cached results along both paths and measures again.
func (e *Engine) Recalculate() uint64 {
	hz, _ := e.frequency(true)
	return hz
}

func (e *Engine) frequency(recalculate bool) (uint64, Source) {
	if frequencies := e.resolver.Resolve(recalculate); frequencies.BaseHz != 0 {
		slog.Debug("frequency from crystal clock", slog.Uint64("hz", frequencies.BaseHz))
		return frequencies.BaseHz, SourceART
	}
	if hz := e.calibrator.Calibrate(recalculate); hz != 0 {
		slog.Debug("frequency from PM timer", slog.Uint64("hz", hz))
		return hz, SourcePMTimer
	}
	slog.Warn("counter frequency unknown, no calibration path succeeded")
	return 0, SourceNone
}

// Reset drops every cached result.
func (e *Engine) Reset() {
	e.resolver.Reset()
	e.calibrator.Reset()
}

// Summary is a diagnostic snapshot of one frequency query.
type Summary struct {
	Vendor            string
	MaxLeaf           uint32
	Signature         cpus.Signature
	MicroArchitecture string
	Timer             pmtimer.Timer
	Measurement       *pmtimer.Measurement
	Resolution        *art.Resolution
	FrequencyHz       uint64
	Source            Source
}

// Inspect runs a frequency query, forcing fresh measurements when
// recalculate is set, and reports how the result was reached.
func (e *Engine) Inspect(recalculate bool) Summary {
	var s Summary
	s.FrequencyHz, s.Source = e.frequency(recalculate)
	s.Vendor, s.MaxLeaf = platform.Vendor(e.platform)
	if s.MaxLeaf >= platform.LeafVersionInfo {
		signature, _, _, _ := e.platform.CPUID(platform.LeafVersionInfo)
		s.Signature = cpus.Signature(signature)
		var err error
		if s.MicroArchitecture, err = cpus.GetMicroArchitecture(s.Signature); err != nil {
			slog.Debug("microarchitecture not identified", slog.String("error", err.Error()))
		}
	}
	if res, ok := e.resolver.Last(); ok {
		s.Resolution = &res
	}
	if m, ok := e.calibrator.Last(); ok {
		s.Measurement = &m
		s.Timer = m.Timer
	} else {
		s.Timer = pmtimer.Locate(e.platform)
	}
	return s
}

var defaultEngine atomic.Pointer[Engine]

// Init binds the process-wide engine to a platform, dropping any results
// cached for a previous one.
func Init(p platform.Platform) {
	defaultEngine.Store(New(p))
}

// Frequency returns the counter frequency from the process-wide engine, or
// 0 when Init has not been called.
func Frequency() uint64 {
	e := defaultEngine.Load()
	if e == nil {
		return 0
	}
	return e.Frequency()
}

// Reset drops the results cached by the process-wide engine.
func Reset() {
	if e := defaultEngine.Load(); e != nil {
		e.Reset()
	}
}
