/*
Package platform defines the hardware primitives the calibration engine
consumes, along with a simulated backend driven by YAML profiles and a host
backend for linux/amd64.
*/
package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"time"
)

// CPUID leaves used by the engine
const (
	LeafSignature          uint32 = 0x00
	LeafVersionInfo        uint32 = 0x01
	LeafTimeStampCounter   uint32 = 0x15
	LeafProcessorFrequency uint32 = 0x16
)

// MSRTSCAdjust is IA32_TSC_ADJUST
const MSRTSCAdjust uint32 = 0x3B

// TPL is a task priority level. Raising it to TPLHighLevel masks every
// asynchronous event source.
type TPL uint

const (
	TPLApplication TPL = 4
	TPLCallback    TPL = 8
	TPLNotify      TPL = 16
	TPLHighLevel   TPL = 31
)

func (t TPL) String() string {
	switch t {
	case TPLApplication:
		return "application"
	case TPLCallback:
		return "callback"
	case TPLNotify:
		return "notify"
	case TPLHighLevel:
		return "high"
	}
	return fmt.Sprintf("tpl(%d)", uint(t))
}

// PCIAddress identifies a PCI function in configuration space.
type PCIAddress struct {
	Segment  uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

func (a PCIAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Segment, a.Bus, a.Device, a.Function)
}

// Platform is the set of primitives supplied by the boot environment.
// Implementations are assumed correct; the engine does not expect errors
// from them. Reads of absent PCI functions return all ones.
type Platform interface {
	// PCIRead8 reads one byte of configuration space.
	PCIRead8(addr PCIAddress, reg uint16) uint8
	// PCIRead16 reads a little-endian word of configuration space.
	PCIRead16(addr PCIAddress, reg uint16) uint16
	// MMIORead32 reads a 32-bit register at a physical address.
	MMIORead32(addr uint64) uint32
	// IORead32 reads a 32-bit I/O port.
	IORead32(port uint32) uint32
	// CPUID executes the identification instruction for a leaf.
	CPUID(leaf uint32) (eax, ebx, ecx, edx uint32)
	// ReadMSR reads a model-specific register.
	ReadMSR(msr uint32) uint64
	// ReadTSC reads the time-stamp counter.
	ReadTSC() uint64
	// Stall busy-waits for at least d.
	Stall(d time.Duration)
	// CPUPause hints the processor that the caller is spinning.
	CPUPause()
	// RaiseTPL raises the task priority level and returns the previous one.
	RaiseTPL(level TPL) TPL
	// RestoreTPL restores a level returned by RaiseTPL.
	RestoreTPL(level TPL)
}

// VendorString assembles the 12-byte vendor identification from the CPUID
// signature leaf registers.
func VendorString(ebx, ecx, edx uint32) string {
	var r [12]byte
	for i := 0; i < 4; i++ {
		r[i] = byte(ebx >> (i * 8))
		r[4+i] = byte(edx >> (i * 8))
		r[8+i] = byte(ecx >> (i * 8))
	}
	return string(r[:])
}

// Vendor returns the vendor string and the maximum supported basic leaf.
func Vendor(p Platform) (vendor string, maxLeaf uint32) {
	eax, ebx, ecx, edx := p.CPUID(LeafSignature)
	return VendorString(ebx, ecx, edx), eax
}
