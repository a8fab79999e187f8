package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tsccal/internal/platform"
)

// machine flags
var (
	flagProfiles []string
	flagCPU      int
)

// machine flag names
const (
	flagProfileName = "profile"
	flagCPUName     = "cpu"
)

var machineFlags = []Flag{
	{Name: flagProfileName, Help: "simulate a machine from a built-in profile name or a profile YAML file, may be repeated"},
	{Name: flagCPUName, Help: "logical CPU used for counter and MSR reads on the host"},
}

// AddMachineFlags adds the flags that select the machine(s) to calibrate.
func AddMachineFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&flagProfiles, flagProfileName, nil, machineFlags[0].Help)
	cmd.Flags().IntVar(&flagCPU, flagCPUName, 0, machineFlags[1].Help)
}

// GetMachineFlagGroup returns the machine flags for usage output.
func GetMachineFlagGroup() FlagGroup {
	return FlagGroup{GroupName: "Machine Options", Flags: machineFlags}
}

// ValidateMachineFlags checks the machine flags before any machine is opened.
func ValidateMachineFlags(cmd *cobra.Command) error {
	if flagCPU < 0 {
		return fmt.Errorf("--%s must be zero or greater", flagCPUName)
	}
	if len(flagProfiles) > 0 && cmd.Flags().Lookup(flagCPUName).Changed {
		return fmt.Errorf("--%s applies to the host only and cannot be combined with --%s", flagCPUName, flagProfileName)
	}
	for _, profile := range flagProfiles {
		if strings.TrimSpace(profile) == "" {
			return fmt.Errorf("--%s requires a profile name or file", flagProfileName)
		}
	}
	return nil
}

// Machine is a named platform to calibrate.
type Machine struct {
	Name     string
	Platform platform.Platform
	close    func() error
}

// Close releases resources held by the machine's platform.
func (m Machine) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}

// CloseMachines closes every machine, logging failures.
func CloseMachines(machines []Machine) {
	for _, m := range machines {
		if err := m.Close(); err != nil {
			slog.Error("failed to close machine", slog.String("machine", m.Name), slog.String("error", err.Error()))
		}
	}
}

// GetMachines opens the machines selected by the machine flags: one
// simulated machine per profile, or the host when no profile is given.
func GetMachines() ([]Machine, error) {
	if len(flagProfiles) == 0 {
		host, err := platform.NewHost(flagCPU)
		if err != nil {
			return nil, err
		}
		name, err := os.Hostname()
		if err != nil || name == "" {
			name = "host"
		}
		return []Machine{{Name: name, Platform: host, close: host.Close}}, nil
	}
	return ProfileMachines(flagProfiles)
}

// ProfileMachines loads a simulated machine for each profile name or file.
// Machine names must be unique.
func ProfileMachines(profiles []string) ([]Machine, error) {
	var machines []Machine
	seen := make(map[string]bool)
	for _, name := range profiles {
		profile, err := platform.LoadProfile(name)
		if err != nil {
			return nil, err
		}
		machineName := profile.Name
		if machineName == "" {
			machineName = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		}
		if seen[machineName] {
			return nil, fmt.Errorf("machine %s given more than once", machineName)
		}
		seen[machineName] = true
		slog.Debug("loaded profile", slog.String("machine", machineName), slog.String("source", name))
		machines = append(machines, Machine{Name: machineName, Platform: platform.NewSim(profile)})
	}
	return machines, nil
}
