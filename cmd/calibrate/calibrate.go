// Package calibrate is a subcommand of the root command. It reports the TSC frequency of the selected machine(s).
package calibrate

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tsccal/internal/common"
	"tsccal/internal/report"
	"tsccal/internal/sanity"
)

const cmdName = "calibrate"

var examples = []string{
	fmt.Sprintf("  TSC frequency of the local host:     $ %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Pin counter reads to CPU 2:          $ %s %s --cpu 2", common.AppName, cmdName),
	fmt.Sprintf("  Simulated machines, json only:       $ %s %s --profile skylake-desktop,amd-zen3 --format json", common.AppName, cmdName),
	fmt.Sprintf("  Machine described in a file:         $ %s %s --profile ./lab-box.yaml", common.AppName, cmdName),
	fmt.Sprintf("  Fail unless within 100 ppm of 2.4G:  $ %s %s --expect \"within(tsc_hz, ghz(2.4), 100)\"", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Report the TSC frequency of the host or simulated machine(s)",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// flag vars
var (
	flagRecalculate bool
	flagExpect      []string
)

// flag names
const (
	flagRecalculateName = "recalculate"
	flagExpectName      = "expect"
)

var checks []sanity.Check

func init() {
	Cmd.Flags().BoolVar(&flagRecalculate, flagRecalculateName, false, "")
	Cmd.Flags().StringArrayVar(&flagExpect, flagExpectName, nil, "")
	Cmd.Flags().StringSliceVar(&common.FlagFormat, common.FlagFormatName, []string{report.FormatTxt}, "")

	common.AddMachineFlags(Cmd)

	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s [flags]\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n\n", cmd.Example)
	cmd.Println("Flags:")
	for _, group := range getFlagGroups() {
		cmd.Printf("  %s:\n", group.GroupName)
		for _, flag := range group.Flags {
			flagDefault := ""
			if cmd.Flags().Lookup(flag.Name).DefValue != "" {
				flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(flag.Name).DefValue)
			}
			cmd.Printf("    --%-20s %s%s\n", flag.Name, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if cmd.Parent().PersistentFlags().Lookup(pf.Name).DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(pf.Name).DefValue)
		}
		cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	groups = append(groups, common.FlagGroup{
		GroupName: "Calibration Options",
		Flags: []common.Flag{
			{
				Name: flagRecalculateName,
				Help: "query twice, discarding the cached results before the reported query",
			},
			{
				Name: flagExpectName,
				Help: "expression that must hold for the result, e.g. \"tsc_hz > mhz(1000)\", may be repeated",
			},
		},
	})
	groups = append(groups, common.GetMachineFlagGroup())
	groups = append(groups, common.FlagGroup{
		GroupName: "Output Options",
		Flags: []common.Flag{
			{
				Name: common.FlagFormatName,
				Help: fmt.Sprintf("choose output format(s) from: %s", strings.Join(append([]string{common.FormatAll}, report.FormatOptions...), ", ")),
			},
		},
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateFormatFlag(cmd); err != nil {
		return err
	}
	if err := common.ValidateMachineFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	var err error
	if checks, err = sanity.Parse(flagExpect); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	calibrationCommand := common.CalibrationCommand{
		Cmd:         cmd,
		Recalculate: flagRecalculate,
		Checks:      checks,
	}
	return calibrationCommand.Run()
}
