package pmtimer

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsccal/internal/platform"
)

func loadSim(t *testing.T, name string) *platform.Sim {
	t.Helper()
	profile, err := platform.LoadProfile(name)
	require.NoError(t, err)
	return platform.NewSim(profile)
}

func intelCPU() platform.CPUProfile {
	return platform.CPUProfile{Vendor: "GenuineIntel", MaxLeaf: 0x16, Signature: 0x506E3, TSCHz: 3600000000}
}

func lpcFunction(acpiCntl uint8, acpiBase uint16) platform.PCIFunction {
	return platform.PCIFunction{
		Device:   31,
		Function: 0,
		Words:    map[uint16]uint16{regVendorID: intelVendorID, regACPIBase: acpiBase},
		Bytes:    map[uint16]uint8{regACPICntl: acpiCntl},
	}
}

func pmcFunction(vendor uint16, acpiCntl uint8, acpiBase, bar2 uint16) platform.PCIFunction {
	return platform.PCIFunction{
		Device:   31,
		Function: 2,
		Words:    map[uint16]uint16{regVendorID: vendor, regACPIBase: acpiBase, regPMCBAR2: bar2},
		Bytes:    map[uint16]uint8{regACPICntl: acpiCntl},
	}
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name string
		pci  []platform.PCIFunction
		want Timer
	}{
		{
			name: "legacy wins over PMC",
			pci:  []platform.PCIFunction{lpcFunction(acpiEnable, 0x1801), pmcFunction(intelVendorID, acpiEnable, 0x0401, 0x0501)},
			want: Timer{Port: 0x1808, Width: Width24, Source: SourceLegacy},
		},
		{
			name: "legacy base mask",
			pci:  []platform.PCIFunction{lpcFunction(acpiEnable|0x01, 0x18FF)},
			want: Timer{Port: 0x1888, Width: Width24, Source: SourceLegacy},
		},
		{
			name: "PMC ACPI",
			pci:  []platform.PCIFunction{lpcFunction(0, 0), pmcFunction(intelVendorID, acpiEnable, 0x0401, 0x0501)},
			want: Timer{Port: 0x0408, Width: Width24, Source: SourcePMCACPI},
		},
		{
			name: "PMC BAR2",
			pci:  []platform.PCIFunction{lpcFunction(0, 0), pmcFunction(intelVendorID, 0, 0, 0x0503)},
			want: Timer{Port: 0x0508, Width: Width24, Source: SourcePMCBAR},
		},
		{
			name: "PMC without usable registers",
			pci:  []platform.PCIFunction{lpcFunction(0, 0), pmcFunction(intelVendorID, 0, 0x0401, 0x0500)},
			want: Timer{Source: SourceInvalidPMC},
		},
		{
			name: "PMC hidden",
			pci:  []platform.PCIFunction{lpcFunction(0, 0)},
			want: Timer{Source: SourceUnknownChipset},
		},
		{
			name: "PMC foreign vendor",
			pci:  []platform.PCIFunction{lpcFunction(0, 0), pmcFunction(0x1022, acpiEnable, 0x0401, 0x0501)},
			want: Timer{Source: SourceUnknownChipset},
		},
		{
			name: "LPC foreign vendor",
			pci: []platform.PCIFunction{
				{Device: 31, Function: 0, Words: map[uint16]uint16{regVendorID: 0x1022, regACPIBase: 0x1801}, Bytes: map[uint16]uint8{regACPICntl: acpiEnable}},
				pmcFunction(intelVendorID, acpiEnable, 0x0401, 0x0501),
			},
			want: Timer{Source: SourceFailure},
		},
		{
			name: "no chipset",
			want: Timer{Source: SourceFailure},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := platform.NewSim(platform.Profile{CPU: intelCPU(), PCI: tt.pci})
			got := Locate(sim)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Port != 0, got.Found())
		})
	}
}

func TestLocateIgnoresMMIOOnIntel(t *testing.T) {
	sim := platform.NewSim(platform.Profile{
		CPU:  intelCPU(),
		MMIO: map[uint64]uint32{amdPMTimerRegister: 0x808},
	})
	timer := Locate(sim)
	assert.False(t, timer.Found())
	assert.Equal(t, SourceFailure, timer.Source)
}

func TestLocateVendorMMIO(t *testing.T) {
	timer := Locate(loadSim(t, "amd-zen3"))
	assert.Equal(t, Timer{Port: 0x808, Width: WidthUnknown, Source: SourceVendorMMIO}, timer)
}

func TestLocateVendorMMIOZero(t *testing.T) {
	profile, err := platform.LoadProfile("amd-zen3")
	require.NoError(t, err)
	profile.MMIO = nil
	timer := Locate(platform.NewSim(profile))
	assert.False(t, timer.Found())
	assert.Equal(t, SourceFailure, timer.Source)
}

func TestLocateBuiltinProfiles(t *testing.T) {
	tests := []struct {
		profile string
		want    Timer
	}{
		{"skylake-desktop", Timer{Port: 0x1808, Width: Width24, Source: SourceLegacy}},
		{"alderlake-client", Timer{Port: 0x1808, Width: Width24, Source: SourcePMCACPI}},
		{"cometlake-pmc-bar", Timer{Port: 0x1808, Width: Width24, Source: SourcePMCBAR}},
		{"coffeelake-z390", Timer{Source: SourceUnknownChipset}},
		{"goldmont-atom", Timer{Port: 0x0408, Width: Width24, Source: SourceLegacy}},
		{"vm-stuck-timer", Timer{Port: 0x0608, Width: Width24, Source: SourceLegacy}},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			assert.Equal(t, tt.want, Locate(loadSim(t, tt.profile)))
		})
	}
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "Failure", SourceFailure.String())
	assert.Equal(t, "legacy", SourceLegacy.String())
	assert.Equal(t, "PMC-ACPI", SourcePMCACPI.String())
	assert.Equal(t, "PMC-BAR", SourcePMCBAR.String())
	assert.Equal(t, "invalid-chipset-PMC", SourceInvalidPMC.String())
	assert.Equal(t, "unknown-chipset", SourceUnknownChipset.String())
	assert.Equal(t, "vendor-MMIO", SourceVendorMMIO.String())
	assert.Equal(t, "source(42)", Source(42).String())
	assert.Equal(t, "24-bit", Width24.String())
	assert.Equal(t, "unknown", WidthUnknown.String())
}
