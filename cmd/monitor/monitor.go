// Package monitor is a subcommand of the root command. It samples the TSC frequency at an interval and optionally exports it to Prometheus.
package monitor

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tsccal/internal/common"
	"tsccal/internal/tscfreq"
)

const cmdName = "monitor"

var examples = []string{
	fmt.Sprintf("  Sample the host every 5 seconds:        $ %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Ten samples, one per second:            $ %s %s --interval 1 --count 10", common.AppName, cmdName),
	fmt.Sprintf("  Serve samples to Prometheus on :9090:   $ %s %s --prometheus-server", common.AppName, cmdName),
	fmt.Sprintf("  Sample a simulated machine:             $ %s %s --profile cometlake-pmc-bar --count 3", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Sample the TSC frequency at an interval",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// flag vars
var (
	flagInterval             int
	flagCount                int
	flagPrometheusServer     bool
	flagPrometheusServerAddr string
)

// flag names
const (
	flagIntervalName             = "interval"
	flagCountName                = "count"
	flagPrometheusServerName     = "prometheus-server"
	flagPrometheusServerAddrName = "prometheus-server-addr"
)

func init() {
	Cmd.Flags().IntVar(&flagInterval, flagIntervalName, 5, "")
	Cmd.Flags().IntVar(&flagCount, flagCountName, 0, "")
	Cmd.Flags().BoolVar(&flagPrometheusServer, flagPrometheusServerName, false, "")
	Cmd.Flags().StringVar(&flagPrometheusServerAddr, flagPrometheusServerAddrName, ":9090", "")

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
			cmd.Printf("    --%-24s %s%s\n", flag.Name, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if cmd.Parent().PersistentFlags().Lookup(pf.Name).DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(pf.Name).DefValue)
		}
		cmd.Printf("  --%-24s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	groups = append(groups, common.FlagGroup{
		GroupName: "Sampling Options",
		Flags: []common.Flag{
			{
				Name: flagIntervalName,
				Help: "seconds between samples",
			},
			{
				Name: flagCountName,
				Help: "number of samples to take, 0 samples until interrupted",
			},
		},
	})
	groups = append(groups, common.GetMachineFlagGroup())
	groups = append(groups, common.FlagGroup{
		GroupName: "Prometheus Options",
		Flags: []common.Flag{
			{
				Name: flagPrometheusServerName,
				Help: "serve samples on the /metrics endpoint",
			},
			{
				Name: flagPrometheusServerAddrName,
				Help: "address the metrics server listens on",
			},
		},
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if flagInterval < 1 {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s must be at least 1 second", flagIntervalName))
	}
	if flagCount < 0 {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s must be zero or greater", flagCountName))
	}
	if cmd.Flags().Lookup(flagPrometheusServerAddrName).Changed && !flagPrometheusServer {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s requires --%s", flagPrometheusServerAddrName, flagPrometheusServerName))
	}
	if err := common.ValidateMachineFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

// sample is one frequency query
type sample struct {
	timestamp time.Time
	machine   string
	hz        uint64
	source    tscfreq.Source
	driftPPM  float64
}

// sampler queries one machine, discarding cached results each time
type sampler struct {
	machine   string
	engine    *tscfreq.Engine
	initialHz uint64
}

func (s *sampler) next(now time.Time) sample {
	summary := s.engine.Inspect(true)
	result := sample{timestamp: now, machine: s.machine, hz: summary.FrequencyHz, source: summary.Source}
	if result.hz == 0 {
		return result
	}
	if s.initialHz == 0 {
		s.initialHz = result.hz
	}
	result.driftPPM = (float64(result.hz) - float64(s.initialHz)) / float64(s.initialHz) * 1e6
	return result
}

func writeSample(w io.Writer, s sample) {
	fmt.Fprintf(w, "%s,%s,%d,%s,%.3f\n", s.timestamp.Format(time.RFC3339), s.machine, s.hz, s.source, s.driftPPM)
}

// monitor takes count samples per sampler, or samples until ctx is done
// when count is zero
func monitor(ctx context.Context, samplers []*sampler, interval time.Duration, count int, out io.Writer, collector *promCollector) {
	fmt.Fprintln(out, "Timestamp,Machine,Frequency (Hz),Source,Drift (ppm)")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for taken := 0; count == 0 || taken < count; taken++ {
		if taken > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		now := time.Now()
		for _, s := range samplers {
			result := s.next(now)
			if result.hz == 0 {
				slog.Warn("frequency unknown", slog.String("machine", s.machine))
			}
			writeSample(out, result)
			if collector != nil {
				collector.update(result)
			}
		}
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	machines, err := common.GetMachines()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	defer common.CloseMachines(machines)
	var samplers []*sampler
	for _, machine := range machines {
		samplers = append(samplers, &sampler{machine: machine.Name, engine: tscfreq.New(machine.Platform)})
	}
	// stop sampling on ctrl-c or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var collector *promCollector
	if flagPrometheusServer {
		registry := prometheus.NewRegistry()
		if collector, err = newPromCollector(registry); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		server := startPrometheusServer(flagPrometheusServerAddr, registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to stop Prometheus metrics server", slog.String("error", err.Error()))
			}
		}()
	}
	monitor(ctx, samplers, time.Duration(flagInterval)*time.Second, flagCount, os.Stdout, collector)
	if ctx.Err() != nil {
		slog.Info("monitoring interrupted")
	}
	return nil
}
