package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// NominalPMTimerHz is the ACPI PM timer rate, 3.579545 MHz.
const NominalPMTimerHz = 3579545

//go:embed profiles
var builtinProfiles embed.FS

// Profile describes a simulated machine.
type Profile struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	CPU         CPUProfile          `yaml:"cpu"`
	PCI         []PCIFunction       `yaml:"pci"`
	MMIO        map[uint64]uint32   `yaml:"mmio"`
	PMTimer     *PMTimerProfile     `yaml:"pm_timer"`
	IOReadNs    uint64              `yaml:"io_read_ns"`  // virtual time consumed by a port read
	TSCReadNs   uint64              `yaml:"tsc_read_ns"` // virtual time consumed by a counter read
	CPUID       map[uint32][]uint32 `yaml:"cpuid"`       // raw leaf overrides, eax/ebx/ecx/edx
}

// CPUProfile describes the simulated processor.
type CPUProfile struct {
	Vendor    string        `yaml:"vendor"`
	MaxLeaf   uint32        `yaml:"max_leaf"`
	Signature uint32        `yaml:"signature"` // CPUID leaf 1 EAX
	TSCHz     uint64        `yaml:"tsc_hz"`
	TSCAdjust uint64        `yaml:"tsc_adjust"`
	TSCRatio  TSCRatio      `yaml:"tsc_ratio"`
	Frequency FrequencyLeaf `yaml:"frequency"`
}

// TSCRatio is the content of CPUID leaf 0x15.
type TSCRatio struct {
	Denominator uint32 `yaml:"denominator"`
	Numerator   uint32 `yaml:"numerator"`
	CrystalHz   uint32 `yaml:"crystal_hz"`
}

// FrequencyLeaf is the content of CPUID leaf 0x16, in MHz.
type FrequencyLeaf struct {
	BaseMHz uint16 `yaml:"base_mhz"`
	MaxMHz  uint16 `yaml:"max_mhz"`
	BusMHz  uint16 `yaml:"bus_mhz"`
}

// PCIFunction is the configuration space content of one PCI function.
// Words are stored little endian on top of Bytes.
type PCIFunction struct {
	Bus      uint8             `yaml:"bus"`
	Device   uint8             `yaml:"device"`
	Function uint8             `yaml:"function"`
	Bytes    map[uint16]uint8  `yaml:"bytes"`
	Words    map[uint16]uint16 `yaml:"words"`
}

// Address returns the function's configuration space address.
func (f PCIFunction) Address() PCIAddress {
	return PCIAddress{Bus: f.Bus, Device: f.Device, Function: f.Function}
}

// PMTimerProfile describes the simulated ACPI PM timer.
type PMTimerProfile struct {
	Port  uint32 `yaml:"port"`
	Width int    `yaml:"width"` // 24 or 32
	Hz    uint64 `yaml:"hz"`    // defaults to NominalPMTimerHz
	Start uint32 `yaml:"start"` // counter value at virtual time zero
	Stuck bool   `yaml:"stuck"` // counter never advances
}

// ParseProfile decodes a YAML profile.
func ParseProfile(data []byte) (profile Profile, err error) {
	if err = yaml.Unmarshal(data, &profile); err != nil {
		err = errors.Wrap(err, "failed to parse profile")
		return
	}
	err = profile.validate()
	return
}

// LoadProfile reads a profile from a file, or from the built-in set when
// name matches one of BuiltinProfileNames.
func LoadProfile(name string) (Profile, error) {
	if slices.Contains(BuiltinProfileNames(), name) {
		data, err := BuiltinProfile(name)
		if err != nil {
			return Profile{}, err
		}
		return ParseProfile(data)
	}
	data, err := os.ReadFile(name) // #nosec G304
	if err != nil {
		return Profile{}, errors.Wrapf(err, "failed to read profile %s", name)
	}
	return ParseProfile(data)
}

// BuiltinProfile returns the YAML of an embedded profile.
func BuiltinProfile(name string) ([]byte, error) {
	data, err := builtinProfiles.ReadFile(path.Join("profiles", name+".yaml"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read built-in profile %s", name)
	}
	return data, nil
}

// BuiltinProfileNames lists the embedded profiles, sorted.
func BuiltinProfileNames() (names []string) {
	entries, err := fs.ReadDir(builtinProfiles, "profiles")
	if err != nil {
		return
	}
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".yaml"); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return
}

func (p *Profile) validate() error {
	if p.PMTimer != nil {
		switch p.PMTimer.Width {
		case 0:
			p.PMTimer.Width = 24
		case 24, 32:
		default:
			return errors.Errorf("profile %s: unsupported PM timer width %d", p.Name, p.PMTimer.Width)
		}
		if p.PMTimer.Hz == 0 {
			p.PMTimer.Hz = NominalPMTimerHz
		}
	}
	for leaf, regs := range p.CPUID {
		if len(regs) != 4 {
			return errors.Errorf("profile %s: cpuid leaf %#x needs 4 registers, got %d", p.Name, leaf, len(regs))
		}
	}
	if p.CPU.Vendor != "" && len(p.CPU.Vendor) != 12 {
		return errors.Errorf("profile %s: vendor %q must be 12 characters", p.Name, p.CPU.Vendor)
	}
	return nil
}
