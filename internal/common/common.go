// Package common defines data structures and functions that are used by
// multiple application commands, e.g., calibrate and monitor.
package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"tsccal/internal/progress"
	"tsccal/internal/report"
	"tsccal/internal/sanity"
	"tsccal/internal/tscfreq"
)

var AppName = filepath.Base(os.Args[0])

// AppContext represents the application context that can be accessed from all commands.
type AppContext struct {
	Timestamp   string // Timestamp is the time the application started, used in output names.
	OutputDir   string // OutputDir is the directory where the application will write output files.
	LogFilePath string // LogFilePath is the path of the application log file, empty when logging elsewhere.
	Version     string // Version is the version of the application.
	Debug       bool
}

type Flag struct {
	Name string
	Help string
}
type FlagGroup struct {
	GroupName string
	Flags     []Flag
}

var FlagFormat []string

const (
	FlagFormatName = "format"
	FormatAll      = "all"
)

// ErrChecksFailed is returned by Run when at least one check did not pass.
var ErrChecksFailed = errors.New("one or more checks failed")

// MachineSummary is the outcome of calibrating one machine.
type MachineSummary struct {
	Name    string
	Summary tscfreq.Summary
	Results []sanity.Result
}

// Passed reports whether every check passed.
func (ms MachineSummary) Passed() bool {
	return sanity.Passed(ms.Results)
}

// CalibrationCommand holds what the calibrate command needs from its flags.
type CalibrationCommand struct {
	Cmd         *cobra.Command
	Recalculate bool
	Checks      []sanity.Check
}

// Run is the common flow for commands that calibrate machines and report
// the results.
func (cc *CalibrationCommand) Run() error {
	appContext := cc.Cmd.Parent().Context().Value(AppContext{}).(AppContext)
	machines, err := GetMachines()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cc.Cmd.SilenceUsage = true
		return err
	}
	defer CloseMachines(machines)
	// setup and start the progress indicator
	multiSpinner := progress.NewMultiSpinner()
	for _, machine := range machines {
		if err := multiSpinner.AddSpinner(machine.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cc.Cmd.SilenceUsage = true
			return err
		}
	}
	multiSpinner.Start()
	summaries := Calibrate(machines, cc.Recalculate, cc.Checks, multiSpinner.Status)
	multiSpinner.Finish()
	fmt.Println()
	// we have results so create the output directory
	if err = CreateOutputDir(appContext.OutputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cc.Cmd.SilenceUsage = true
		return err
	}
	formats := FlagFormat
	if slices.Contains(formats, FormatAll) {
		formats = report.FormatOptions
	}
	reportFilePaths, err := CreateReports(appContext, summaries, formats)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cc.Cmd.SilenceUsage = true
		return err
	}
	if len(reportFilePaths) > 0 {
		fmt.Println("Report files:")
	}
	for _, reportFilePath := range reportFilePaths {
		fmt.Printf("  %s\n", reportFilePath)
	}
	for _, summary := range summaries {
		if !summary.Passed() {
			slog.Error(ErrChecksFailed.Error(), slog.String("machine", summary.Name))
			cc.Cmd.SilenceUsage = true
			return ErrChecksFailed
		}
	}
	return nil
}

// Calibrate queries every machine concurrently and returns the summaries in
// machine order. With recalculate, each machine is queried twice and the
// second query discards the results cached by the first. statusUpdate may
// be nil.
func Calibrate(machines []Machine, recalculate bool, checks []sanity.Check, statusUpdate progress.MultiSpinnerUpdateFunc) []MachineSummary {
	summaries := make([]MachineSummary, len(machines))
	done := make(chan int)
	for i, machine := range machines {
		go func(i int, machine Machine) {
			if statusUpdate != nil {
				_ = statusUpdate(machine.Name, "calibrating")
			}
			engine := tscfreq.New(machine.Platform)
			if recalculate {
				// prime the caches so the reported query replaces them
				engine.Frequency()
			}
			summary := engine.Inspect(recalculate)
			summaries[i] = MachineSummary{
				Name:    machine.Name,
				Summary: summary,
				Results: sanity.Run(checks, summary),
			}
			if statusUpdate != nil {
				_ = statusUpdate(machine.Name, statusText(summaries[i]))
			}
			done <- i
		}(i, machine)
	}
	for range machines {
		<-done
	}
	return summaries
}

func statusText(ms MachineSummary) string {
	if ms.Summary.FrequencyHz == 0 {
		return "frequency unknown"
	}
	status := fmt.Sprintf("%.3f MHz (%s)", float64(ms.Summary.FrequencyHz)/1e6, ms.Summary.Source)
	if !ms.Passed() {
		status += ", checks failed"
	}
	return status
}

// CreateReports renders one report per machine and format into the output
// directory and returns the paths written. A single txt report is also
// printed to stdout.
func CreateReports(appContext AppContext, summaries []MachineSummary, formats []string) ([]string, error) {
	reportFilePaths := []string{}
	for _, summary := range summaries {
		allTableValues := report.SummaryTables(summary.Summary, summary.Results)
		// add tableValues for the application version
		allTableValues = append(allTableValues, report.TableValues{
			Name: AppName,
			Fields: []report.Field{
				{Name: "Version", Values: []string{appContext.Version}},
				{Name: "Machine", Values: []string{summary.Name}},
				{Name: "OutputDir", Values: []string{appContext.OutputDir}},
			},
		})
		for _, format := range formats {
			reportBytes, err := report.Create(format, allTableValues)
			if err != nil {
				return nil, fmt.Errorf("failed to create report: %w", err)
			}
			if len(formats) == 1 && format == report.FormatTxt {
				fmt.Printf("%s:\n", summary.Name)
				fmt.Print(string(reportBytes))
			}
			reportPath := filepath.Join(appContext.OutputDir, fmt.Sprintf("%s.%s", summary.Name, format))
			if err = writeReport(reportBytes, reportPath); err != nil {
				return nil, fmt.Errorf("failed to write report: %w", err)
			}
			reportFilePaths = append(reportFilePaths, reportPath)
		}
	}
	return reportFilePaths, nil
}

// CreateOutputDir creates the output directory if it does not exist
func CreateOutputDir(outputDir string) error {
	err := os.MkdirAll(outputDir, 0755) // #nosec G301
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := errors.New(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}

// writeReport writes the report bytes to the specified path.
func writeReport(reportBytes []byte, reportPath string) error {
	err := os.WriteFile(reportPath, reportBytes, 0644) // #nosec G306
	if err != nil {
		err = fmt.Errorf("failed to write report file: %v", err)
		slog.Error(err.Error())
		return err
	}
	return nil
}

// ValidateFormatFlag checks the values given to the format flag.
func ValidateFormatFlag(cmd *cobra.Command) error {
	for _, format := range FlagFormat {
		if format != FormatAll && !slices.Contains(report.FormatOptions, format) {
			return FlagValidationError(cmd, fmt.Sprintf("format options are: %s", strings.Join(append([]string{FormatAll}, report.FormatOptions...), ", ")))
		}
	}
	return nil
}
