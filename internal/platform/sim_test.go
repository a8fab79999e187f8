package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSim(t *testing.T, timer *PMTimerProfile) *Sim {
	profile := Profile{
		Name: "test",
		CPU: CPUProfile{
			Vendor:    "GenuineIntel",
			MaxLeaf:   LeafTimeStampCounter,
			Signature: 0x906EA,
			TSCHz:     2000000000,
			TSCAdjust: 0x42,
			TSCRatio:  TSCRatio{Denominator: 2, Numerator: 200, CrystalHz: 24000000},
			Frequency: FrequencyLeaf{BaseMHz: 2000},
		},
		PCI: []PCIFunction{{
			Device:   31,
			Function: 2,
			Bytes:    map[uint16]uint8{0x44: 0x80},
			Words:    map[uint16]uint16{0x00: 0x8086, 0x40: 0x1801},
		}},
		MMIO:    map[uint64]uint32{0xFED80300: 0x1234},
		PMTimer: timer,
	}
	if timer != nil {
		require.NoError(t, profile.validate())
	}
	return NewSim(profile)
}

func TestSimPCI(t *testing.T) {
	s := testSim(t, nil)
	addr := PCIAddress{Device: 31, Function: 2}
	assert.Equal(t, uint16(0x8086), s.PCIRead16(addr, 0x00))
	assert.Equal(t, uint16(0x1801), s.PCIRead16(addr, 0x40))
	assert.Equal(t, uint8(0x01), s.PCIRead8(addr, 0x40))
	assert.Equal(t, uint8(0x18), s.PCIRead8(addr, 0x41))
	assert.Equal(t, uint8(0x80), s.PCIRead8(addr, 0x44))
	assert.Equal(t, uint16(0xFFFF), s.PCIRead16(PCIAddress{Device: 31}, 0x00))
	assert.Equal(t, uint8(0xFF), s.PCIRead8(addr, 0x100))
	assert.Equal(t, "0000:00:1f.2", addr.String())
}

func TestSimCPUID(t *testing.T) {
	s := testSim(t, nil)
	vendor, maxLeaf := Vendor(s)
	assert.Equal(t, "GenuineIntel", vendor)
	assert.Equal(t, LeafTimeStampCounter, maxLeaf)

	eax, _, _, _ := s.CPUID(LeafVersionInfo)
	assert.Equal(t, uint32(0x906EA), eax)
	eax, ebx, ecx, _ := s.CPUID(LeafTimeStampCounter)
	assert.Equal(t, []uint32{2, 200, 24000000}, []uint32{eax, ebx, ecx})
	// above the maximum leaf
	eax, _, _, _ = s.CPUID(LeafProcessorFrequency)
	assert.Zero(t, eax)

	assert.Equal(t, uint64(0x42), s.ReadMSR(MSRTSCAdjust))
	assert.Zero(t, s.ReadMSR(0x10))
	assert.Equal(t, uint32(0x1234), s.MMIORead32(0xFED80300))
	assert.Zero(t, s.MMIORead32(0xFED80000))
}

func TestSimCPUIDOverride(t *testing.T) {
	s := NewSim(Profile{CPUID: map[uint32][]uint32{LeafSignature: {0x16, 0x68747541, 0x444D4163, 0x69746E65}}})
	vendor, maxLeaf := Vendor(s)
	assert.Equal(t, "AuthenticAMD", vendor)
	assert.Equal(t, uint32(0x16), maxLeaf)
}

func TestSimClock(t *testing.T) {
	s := testSim(t, &PMTimerProfile{Port: 0x1808})
	start := s.IORead32(0x1808)
	tscStart := s.ReadTSC()
	s.Stall(time.Millisecond)
	end := s.IORead32(0x1808)
	tscEnd := s.ReadTSC()
	// 1ms of stall plus the cost of the reads
	assert.InDelta(t, 3580, end-start, 10)
	assert.InDelta(t, 2000000, tscEnd-tscStart, 5000)
	assert.Equal(t, 2, s.TimerReads)
	assert.Equal(t, uint32(0xFFFFFFFF), s.IORead32(0x1809))
	assert.Equal(t, 2, s.TimerReads)
	assert.Greater(t, s.Elapsed(), time.Millisecond)
}

func TestSimTimerWraps(t *testing.T) {
	s := testSim(t, &PMTimerProfile{Port: 0x1808, Start: 0xFFFFF0})
	s.Stall(time.Millisecond)
	assert.Less(t, s.IORead32(0x1808), uint32(0x1000))

	s = testSim(t, &PMTimerProfile{Port: 0x1808, Width: 32, Start: 0xFFFFF0})
	s.Stall(time.Millisecond)
	assert.Greater(t, s.IORead32(0x1808), uint32(0xFFFFFF))
}

func TestSimStuckTimer(t *testing.T) {
	s := testSim(t, &PMTimerProfile{Port: 0x1808, Start: 0x1234, Stuck: true})
	s.Stall(time.Second)
	assert.Equal(t, uint32(0x1234), s.IORead32(0x1808))
	assert.Equal(t, uint32(0x1234), s.IORead32(0x1808))
}

func TestSimInterrupt(t *testing.T) {
	s := testSim(t, &PMTimerProfile{Port: 0x1808})
	calls := 0
	s.Interrupt = func() time.Duration {
		calls++
		return time.Millisecond
	}
	s.IORead32(0x1808)
	guard := Acquire(s)
	s.IORead32(0x1808)
	guard.Release()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.TimerReadsAtHighTPL)
	assert.Equal(t, 2, s.TimerReads)
}

func TestGuard(t *testing.T) {
	s := testSim(t, nil)
	s.RaiseTPL(TPLCallback)
	guard := Acquire(s)
	assert.Equal(t, TPLHighLevel, s.TPL())
	assert.Equal(t, TPLCallback, guard.Previous())
	guard.Release()
	guard.Release()
	assert.Equal(t, TPLCallback, s.TPL())
	assert.Equal(t, []TPL{TPLCallback, TPLHighLevel, TPLCallback}, s.TPLHistory)
}

func TestTPLString(t *testing.T) {
	assert.Equal(t, "high", TPLHighLevel.String())
	assert.Equal(t, "application", TPLApplication.String())
	assert.Equal(t, "tpl(5)", TPL(5).String())
}

func TestVendorString(t *testing.T) {
	// "Genu" "ineI" "ntel" in ebx, edx, ecx
	assert.Equal(t, "GenuineIntel", VendorString(0x756E6547, 0x6C65746E, 0x49656E69))
}
