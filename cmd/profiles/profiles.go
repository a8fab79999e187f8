// Package profiles is a subcommand of the root command. It lists the built-in machine profiles.
package profiles

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tsccal/internal/common"
	"tsccal/internal/platform"
	"tsccal/internal/report"
)

const cmdName = "profiles"

var examples = []string{
	fmt.Sprintf("  List built-in profiles:           $ %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Show one profile as YAML:         $ %s %s --show skylake-desktop", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "List the built-in machine profiles",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	GroupID:       "other",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var flagShow string

const flagShowName = "show"

func init() {
	Cmd.Flags().StringVar(&flagShow, flagShowName, "", "print a built-in profile, a starting point for describing another machine")
}

const profilesTableName = "Built-in Profiles"

func profilesTable() (report.TableValues, error) {
	table := report.TableValues{
		Name:    profilesTableName,
		HasRows: true,
		Fields:  []report.Field{{Name: "Name"}, {Name: "Vendor"}, {Name: "PM Timer"}, {Name: "Description"}},
	}
	for _, name := range platform.BuiltinProfileNames() {
		profile, err := platform.LoadProfile(name)
		if err != nil {
			return table, err
		}
		timer := "none"
		if profile.PMTimer != nil {
			timer = fmt.Sprintf("%#x/%d-bit", profile.PMTimer.Port, profile.PMTimer.Width)
		}
		for i, value := range []string{name, profile.CPU.Vendor, timer, profile.Description} {
			table.Fields[i].Values = append(table.Fields[i].Values, value)
		}
	}
	return table, nil
}

func listProfiles(w io.Writer) error {
	table, err := profilesTable()
	if err != nil {
		return err
	}
	out, err := report.Create(report.FormatTxt, []report.TableValues{table})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func showProfile(w io.Writer, name string) error {
	data, err := platform.BuiltinProfile(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func runCmd(cmd *cobra.Command, args []string) error {
	var err error
	if flagShow != "" {
		err = showProfile(os.Stdout, flagShow)
	} else {
		err = listProfiles(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
	}
	return err
}
