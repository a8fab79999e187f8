/*
Package art resolves the always-running timer (ART) crystal clock and the
base frequency derived from it, using processor identification leaves.
*/
package art

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tsccal/internal/cpus"
	"tsccal/internal/platform"
	"tsccal/internal/util"
)

var (
	ErrLeafUnsupported   = errors.New("TSC/crystal ratio leaf not supported")
	ErrCrystalUnresolved = errors.New("crystal clock frequency not reported and model not in table")
)

// Frequencies is the resolved crystal clock and the base frequency derived
// from it, in Hz. Zero means unresolved.
type Frequencies struct {
	CrystalHz uint64
	BaseHz    uint64
}

// CrystalSource tells where the crystal frequency came from.
type CrystalSource string

const (
	CrystalNone       CrystalSource = "none"
	CrystalLeaf       CrystalSource = "cpuid-0x15"
	CrystalModelTable CrystalSource = "model-table"
	CrystalCalibrated CrystalSource = "calibrated-tsc"
	CrystalDefault    CrystalSource = "default"
)

// BaseSource tells where the base frequency came from.
type BaseSource string

const (
	BaseNone          BaseSource = "none"
	BaseFrequencyLeaf BaseSource = "cpuid-0x16"
	BaseRatio         BaseSource = "crystal-ratio"
)

// Resolution records how the last Resolve call arrived at its result.
type Resolution struct {
	Frequencies
	Vendor        string
	MaxLeaf       uint32
	Signature     cpus.Signature
	TSCAdjust     uint64
	Denominator   uint32
	Numerator     uint32
	TSCHz         uint64 // calibrated counter frequency, when it was needed
	CrystalSource CrystalSource
	BaseSource    BaseSource
	Err           error
}

// TSCSource supplies a calibrated time-stamp counter frequency.
type TSCSource interface {
	Calibrate(recalculate bool) uint64
}

// Resolver resolves and caches the crystal clock and base frequency pair.
type Resolver struct {
	platform platform.Platform
	tsc      TSCSource
	cached   atomic.Pointer[Frequencies]
	last     atomic.Pointer[Resolution]
}

func NewResolver(p platform.Platform, tsc TSCSource) *Resolver {
	return &Resolver{platform: p, tsc: tsc}
}

// Resolve returns the crystal clock and base frequency. The cached pair is
// returned unless recalculate is set or nothing has been resolved yet.
// recalculate is passed on to the TSC source when it is consulted.
func (r *Resolver) Resolve(recalculate bool) Frequencies {
	if !recalculate {
		if cached := r.cached.Load(); cached != nil {
			return *cached
		}
	}
	res := r.resolve(recalculate)
	r.last.Store(&res)
	if res.CrystalHz != 0 {
		frequencies := res.Frequencies
		r.cached.Store(&frequencies)
	} else {
		r.cached.Store(nil)
	}
	if res.Err != nil {
		slog.Debug("ART frequency not fully resolved", slog.String("error", res.Err.Error()))
	}
	slog.Info("ART frequency resolved",
		slog.Uint64("crystal_hz", res.CrystalHz),
		slog.Uint64("base_hz", res.BaseHz),
		slog.String("crystal_source", string(res.CrystalSource)),
		slog.String("base_source", string(res.BaseSource)))
	return res.Frequencies
}

// Last returns the most recent resolution, if any.
func (r *Resolver) Last() (Resolution, bool) {
	res := r.last.Load()
	if res == nil {
		return Resolution{}, false
	}
	return *res, true
}

// Reset drops the cached pair and resolution.
func (r *Resolver) Reset() {
	r.cached.Store(nil)
	r.last.Store(nil)
}

func (r *Resolver) resolve(recalculate bool) (res Resolution) {
	res.CrystalSource = CrystalNone
	res.BaseSource = BaseNone
	res.Vendor, res.MaxLeaf = platform.Vendor(r.platform)
	if res.Vendor != cpus.IntelVendor || res.MaxLeaf < platform.LeafTimeStampCounter {
		res.Err = fmt.Errorf("%w: vendor %q, max leaf %#x", ErrLeafUnsupported, res.Vendor, res.MaxLeaf)
		return
	}
	res.TSCAdjust = r.platform.ReadMSR(platform.MSRTSCAdjust)
	slog.Debug("TSC adjust", slog.String("msr", fmt.Sprintf("%#x", platform.MSRTSCAdjust)), slog.Uint64("value", res.TSCAdjust))

	var crystal uint32
	res.Denominator, res.Numerator, crystal, _ = r.platform.CPUID(platform.LeafTimeStampCounter)
	signature, _, _, _ := r.platform.CPUID(platform.LeafVersionInfo)
	res.Signature = cpus.Signature(signature)
	slog.Debug("TSC/crystal ratio leaf",
		slog.Uint64("denominator", uint64(res.Denominator)),
		slog.Uint64("numerator", uint64(res.Numerator)),
		slog.Uint64("crystal_hz", uint64(crystal)),
		slog.String("signature", res.Signature.String()))

	if crystal != 0 {
		res.CrystalHz = uint64(crystal)
		res.CrystalSource = CrystalLeaf
	} else if clock, ok := cpus.CrystalClockForModel(res.Signature.Model()); ok {
		res.CrystalHz = clock.Hz
		res.CrystalSource = CrystalModelTable
		slog.Debug("crystal clock from model table", slog.String("model", fmt.Sprintf("%#x", res.Signature.Model())), slog.String("tier", clock.Tier))
	} else {
		res.Err = fmt.Errorf("%w: model %#x", ErrCrystalUnresolved, res.Signature.Model())
	}

	if res.Denominator == 0 || res.Numerator == 0 {
		return
	}
	den, num := uint64(res.Denominator), uint64(res.Numerator)
	if res.CrystalHz == 0 && res.MaxLeaf >= platform.LeafProcessorFrequency {
		res.TSCHz = r.tsc.Calibrate(recalculate)
		res.CrystalHz = util.MulDiv(res.TSCHz, den, num)
		if res.CrystalHz != 0 {
			res.CrystalSource = CrystalCalibrated
			res.Err = nil
			baseMHz, _, _, _ := r.platform.CPUID(platform.LeafProcessorFrequency)
			res.BaseHz = uint64(baseMHz&0xFFFF) * 1000000
			if res.BaseHz != 0 {
				res.BaseSource = BaseFrequencyLeaf
			}
		}
	}
	if res.CrystalHz == 0 {
		res.CrystalHz = cpus.DefaultCrystalHz
		res.CrystalSource = CrystalDefault
	}
	if res.BaseHz == 0 {
		res.BaseHz = util.MulDiv(res.CrystalHz, num, den)
		res.BaseSource = BaseRatio
	}
	return
}
