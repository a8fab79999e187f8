/*
Package pmtimer locates the ACPI power management timer and uses it to
calibrate the time-stamp counter.
*/
package pmtimer

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"

	"tsccal/internal/cpus"
	"tsccal/internal/platform"
)

// Intel chipset registers. Before Skylake (Sunrise Point PCH) the ACPI I/O
// space is decoded by the LPC bridge at D31:F0. From Skylake through Kaby
// Lake it moved to the PMC at D31:F2. From Coffee Lake on it is addressed
// through PMC BAR2, and 300 series boards may hide the PMC entirely.
const (
	intelVendorID = 0x8086

	regVendorID    = 0x00
	regACPIBase    = 0x40
	regACPICntl    = 0x44
	regPMCBAR2     = 0x20
	acpiEnable     = 0x80
	acpiBaseMask   = 0xFF80
	bar2BaseMask   = 0xFFFC
	bar2Enable     = 0x01
	pm1TimerOffset = 0x08
)

// AMD FCH ACPI MMIO window, the PM timer block register holds the I/O port
const (
	amdACPIMMIOBase    = 0xFED80000
	amdPMIOBase        = 0x300
	amdPMTimerBlock    = 0x64
	amdPMTimerRegister = amdACPIMMIOBase + amdPMIOBase + amdPMTimerBlock
)

var (
	lpcBridge = platform.PCIAddress{Bus: 0, Device: 31, Function: 0}
	pmc       = platform.PCIAddress{Bus: 0, Device: 31, Function: 2}
)

// Source identifies the discovery path that produced a timer address, or
// why none was found.
type Source int

const (
	SourceFailure Source = iota
	SourceLegacy
	SourcePMCACPI
	SourcePMCBAR
	SourceInvalidPMC
	SourceUnknownChipset
	SourceVendorMMIO
)

func (s Source) String() string {
	switch s {
	case SourceFailure:
		return "Failure"
	case SourceLegacy:
		return "legacy"
	case SourcePMCACPI:
		return "PMC-ACPI"
	case SourcePMCBAR:
		return "PMC-BAR"
	case SourceInvalidPMC:
		return "invalid-chipset-PMC"
	case SourceUnknownChipset:
		return "unknown-chipset"
	case SourceVendorMMIO:
		return "vendor-MMIO"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Width is the register width of the timer counter.
type Width int

const (
	WidthUnknown Width = 0
	Width24      Width = 24
	Width32      Width = 32
)

func (w Width) String() string {
	if w == WidthUnknown {
		return "unknown"
	}
	return fmt.Sprintf("%d-bit", int(w))
}

// Timer is a located PM timer. Port is zero when no timer was found.
type Timer struct {
	Port   uint32
	Width  Width
	Source Source
}

// Found reports whether the timer can be read.
func (t Timer) Found() bool {
	return t.Port != 0
}

// Locate probes the chipset for the PM timer. Paths are tried in order and
// the first one that yields an address wins.
func Locate(p platform.Platform) Timer {
	timer := locateIntel(p)
	if !timer.Found() {
		vendor, _ := platform.Vendor(p)
		if vendor == cpus.AMDVendor {
			if port := p.MMIORead32(amdPMTimerRegister); port != 0 {
				timer = Timer{Port: port, Width: WidthUnknown, Source: SourceVendorMMIO}
			} else {
				slog.Debug("AMD ACPI MMIO window returned zero", slog.String("register", fmt.Sprintf("%#x", amdPMTimerRegister)))
			}
		}
	}
	slog.Debug("PM timer located", slog.String("source", timer.Source.String()), slog.String("port", fmt.Sprintf("%#x", timer.Port)), slog.String("width", timer.Width.String()))
	return timer
}

func locateIntel(p platform.Platform) Timer {
	// A non-Intel LPC bridge reports Failure. UnknownChipset is only used
	// when the LPC bridge is Intel and the PMC is not.
	if p.PCIRead16(lpcBridge, regVendorID) != intelVendorID {
		return Timer{Source: SourceFailure}
	}
	if p.PCIRead8(lpcBridge, regACPICntl)&acpiEnable != 0 {
		base := uint32(p.PCIRead16(lpcBridge, regACPIBase) & acpiBaseMask)
		return Timer{Port: base + pm1TimerOffset, Width: Width24, Source: SourceLegacy}
	}
	if p.PCIRead16(pmc, regVendorID) != intelVendorID {
		return Timer{Source: SourceUnknownChipset}
	}
	if p.PCIRead8(pmc, regACPICntl)&acpiEnable != 0 {
		base := uint32(p.PCIRead16(pmc, regACPIBase) & acpiBaseMask)
		return Timer{Port: base + pm1TimerOffset, Width: Width24, Source: SourcePMCACPI}
	}
	if bar2 := p.PCIRead16(pmc, regPMCBAR2); bar2&bar2Enable != 0 {
		return Timer{Port: uint32(bar2&bar2BaseMask) + pm1TimerOffset, Width: Width24, Source: SourcePMCBAR}
	}
	return Timer{Source: SourceInvalidPMC}
}
