package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"time"

	"tsccal/internal/util"
)

const (
	defaultIOReadNs  = 1000
	defaultTSCReadNs = 20
)

// Sim is a deterministic simulated platform. Every primitive advances a
// virtual clock, so the PM timer and the TSC move together at the rates the
// profile declares.
type Sim struct {
	profile Profile
	config  map[PCIAddress][]byte
	nowNs   uint64
	tpl     TPL

	// TPLHistory records every level passed to RaiseTPL and RestoreTPL.
	TPLHistory []TPL
	// TimerReadsAtHighTPL counts PM timer reads made at TPLHighLevel.
	TimerReadsAtHighTPL int
	// TimerReads counts every PM timer read.
	TimerReads int
	// Interrupt, when set, runs on every PM timer read made below
	// TPLHighLevel and returns extra virtual time to consume.
	Interrupt func() time.Duration
}

// NewSim builds a simulated platform from a profile.
func NewSim(profile Profile) *Sim {
	s := &Sim{
		profile: profile,
		config:  make(map[PCIAddress][]byte),
		tpl:     TPLApplication,
	}
	if s.profile.IOReadNs == 0 {
		s.profile.IOReadNs = defaultIOReadNs
	}
	if s.profile.TSCReadNs == 0 {
		s.profile.TSCReadNs = defaultTSCReadNs
	}
	for _, fn := range profile.PCI {
		space := make([]byte, 256)
		for reg, value := range fn.Bytes {
			if int(reg) < len(space) {
				space[reg] = value
			}
		}
		for reg, value := range fn.Words {
			if int(reg)+1 < len(space) {
				binary.LittleEndian.PutUint16(space[reg:], value)
			}
		}
		s.config[fn.Address()] = space
	}
	return s
}

// Profile returns the profile the simulation was built from.
func (s *Sim) Profile() Profile {
	return s.profile
}

// Elapsed returns the virtual time consumed so far.
func (s *Sim) Elapsed() time.Duration {
	return time.Duration(s.nowNs) // #nosec G115
}

// TPL returns the current priority level.
func (s *Sim) TPL() TPL {
	return s.tpl
}

func (s *Sim) advance(ns uint64) {
	s.nowNs += ns
}

func (s *Sim) PCIRead8(addr PCIAddress, reg uint16) uint8 {
	space, ok := s.config[addr]
	if !ok || int(reg) >= len(space) {
		return 0xFF
	}
	return space[reg]
}

func (s *Sim) PCIRead16(addr PCIAddress, reg uint16) uint16 {
	space, ok := s.config[addr]
	if !ok || int(reg)+1 >= len(space) {
		return 0xFFFF
	}
	return binary.LittleEndian.Uint16(space[reg:])
}

func (s *Sim) MMIORead32(addr uint64) uint32 {
	return s.profile.MMIO[addr]
}

func (s *Sim) IORead32(port uint32) uint32 {
	s.advance(s.profile.IOReadNs)
	timer := s.profile.PMTimer
	if timer == nil || port != timer.Port {
		return 0xFFFFFFFF
	}
	s.TimerReads++
	if s.tpl >= TPLHighLevel {
		s.TimerReadsAtHighTPL++
	} else if s.Interrupt != nil {
		s.advance(uint64(s.Interrupt())) // #nosec G115
	}
	if timer.Stuck {
		return timer.Start
	}
	ticks := util.MulDiv(s.nowNs, timer.Hz, uint64(time.Second))
	value := uint64(timer.Start) + ticks
	if timer.Width == 24 {
		return uint32(value & 0x00FFFFFF) // #nosec G115
	}
	return uint32(value) // #nosec G115
}

func (s *Sim) CPUID(leaf uint32) (eax, ebx, ecx, edx uint32) {
	if regs, ok := s.profile.CPUID[leaf]; ok {
		return regs[0], regs[1], regs[2], regs[3]
	}
	cpu := s.profile.CPU
	if leaf != LeafSignature && leaf > cpu.MaxLeaf {
		return
	}
	switch leaf {
	case LeafSignature:
		var vendor [12]byte
		copy(vendor[:], cpu.Vendor)
		eax = cpu.MaxLeaf
		ebx = binary.LittleEndian.Uint32(vendor[0:4])
		edx = binary.LittleEndian.Uint32(vendor[4:8])
		ecx = binary.LittleEndian.Uint32(vendor[8:12])
	case LeafVersionInfo:
		eax = cpu.Signature
	case LeafTimeStampCounter:
		eax = cpu.TSCRatio.Denominator
		ebx = cpu.TSCRatio.Numerator
		ecx = cpu.TSCRatio.CrystalHz
	case LeafProcessorFrequency:
		eax = uint32(cpu.Frequency.BaseMHz)
		ebx = uint32(cpu.Frequency.MaxMHz)
		ecx = uint32(cpu.Frequency.BusMHz)
	}
	return
}

func (s *Sim) ReadMSR(msr uint32) uint64 {
	if msr == MSRTSCAdjust {
		return s.profile.CPU.TSCAdjust
	}
	return 0
}

func (s *Sim) ReadTSC() uint64 {
	s.advance(s.profile.TSCReadNs)
	return util.MulDiv(s.nowNs, s.profile.CPU.TSCHz, uint64(time.Second))
}

func (s *Sim) Stall(d time.Duration) {
	if d > 0 {
		s.advance(uint64(d))
	}
}

func (s *Sim) CPUPause() {
	s.advance(10)
}

func (s *Sim) RaiseTPL(level TPL) TPL {
	previous := s.tpl
	s.tpl = level
	s.TPLHistory = append(s.TPLHistory, level)
	return previous
}

func (s *Sim) RestoreTPL(level TPL) {
	s.tpl = level
	s.TPLHistory = append(s.TPLHistory, level)
}
