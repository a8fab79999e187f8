// Package cmd provides the command line interface for the application.
package cmd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tsccal/cmd/calibrate"
	"tsccal/cmd/monitor"
	"tsccal/cmd/profiles"
	"tsccal/internal/common"
	"tsccal/internal/util"
)

var gLogFile *os.File
var gVersion = "9.9.9" // overwritten by ldflags at build time

const (
	// LongAppName is the name of the application
	LongAppName = "TSC Calibrator"
)

var examples = []string{
	fmt.Sprintf("  Report the TSC frequency of this host:            $ %s calibrate", common.AppName),
	fmt.Sprintf("  Calibrate a simulated machine:                    $ %s calibrate --profile skylake-desktop", common.AppName),
	fmt.Sprintf("  Export the TSC frequency to Prometheus:           $ %s monitor --prometheus-server", common.AppName),
	fmt.Sprintf("  List the built-in machine profiles:               $ %s profiles", common.AppName),
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:                common.AppName,
	Short:              common.AppName,
	Long:               fmt.Sprintf(`%s (%s) determines the time-stamp counter frequency from the crystal clock or by calibration against the ACPI PM timer.`, LongAppName, common.AppName),
	Example:            strings.Join(examples, "\n"),
	PersistentPreRunE:  initializeApplication, // will only be run if command has a 'Run' function
	PersistentPostRunE: terminateApplication,  // ...
	Version:            gVersion,
}

var (
	// logging
	flagDebug     bool
	flagSyslog    bool
	flagLogStdOut bool
	// output
	flagOutputDir string
)

const (
	flagDebugName     = "debug"
	flagSyslogName    = "syslog"
	flagLogStdOutName = "log-stdout"
	flagOutputDirName = "output"
)

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{}) // block the help command
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.AddGroup([]*cobra.Group{{ID: "primary", Title: "Commands:"}}...)
	rootCmd.AddGroup([]*cobra.Group{{ID: "other", Title: "Other Commands:"}}...)
	rootCmd.AddCommand(calibrate.Cmd)
	rootCmd.AddCommand(monitor.Cmd)
	rootCmd.AddCommand(profiles.Cmd)
	// Global (persistent) flags
	rootCmd.PersistentFlags().BoolVar(&flagDebug, flagDebugName, false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagSyslog, flagSyslogName, false, "write logs to syslog instead of a file")
	rootCmd.PersistentFlags().BoolVar(&flagLogStdOut, flagLogStdOutName, false, "write logs to stdout")
	rootCmd.PersistentFlags().StringVar(&flagOutputDir, flagOutputDirName, "", "override the output directory")
	rootCmd.MarkFlagsMutuallyExclusive(flagSyslogName, flagLogStdOutName)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.EnableCommandSorting = false
	cobra.EnableCaseInsensitive = true
	err := rootCmd.Execute()
	if err != nil {
		terminateErr := terminateApplication(rootCmd, os.Args)
		if terminateErr != nil {
			slog.Error("Error terminating application", slog.String("error", terminateErr.Error()))
			fmt.Printf("Error: %v\n", terminateErr)
		}
		os.Exit(1)
	}
}

func initializeApplication(cmd *cobra.Command, args []string) error {
	timestamp := time.Now().Local().Format("2006-01-02_15-04-05") // app startup time
	outputDir, err := resolveOutputDir(flagOutputDir, timestamp)
	if err != nil {
		cmd.SilenceUsage = true
		return err
	}
	handler, logFile, err := newLogHandler(flagSyslog, flagLogStdOut, flagDebug, common.AppName+".log")
	if err != nil {
		cmd.SilenceUsage = true
		return err
	}
	gLogFile = logFile
	slog.SetDefault(slog.New(handler))
	slog.Info("Starting up", slog.String("app", common.AppName), slog.String("version", gVersion), slog.Int("PID", os.Getpid()), slog.String("arguments", strings.Join(os.Args, " ")))
	var logFilePath string
	if gLogFile != nil {
		logFilePath = gLogFile.Name()
	}
	// set app context
	cmd.Parent().SetContext(
		context.WithValue(
			context.Background(),
			common.AppContext{},
			common.AppContext{
				Timestamp:   timestamp,
				OutputDir:   outputDir,
				LogFilePath: logFilePath,
				Version:     gVersion,
				Debug:       flagDebug},
		),
	)
	return nil
}

// resolveOutputDir returns the requested output directory, which must already
// exist, or <app>_<timestamp> in the working directory. The latter is created
// only when a report is written.
func resolveOutputDir(requested, timestamp string) (string, error) {
	if requested == "" {
		outputDir, err := util.AbsPath(common.AppName + "_" + timestamp)
		if err != nil {
			return "", fmt.Errorf("failed to expand output dir: %w", err)
		}
		return outputDir, nil
	}
	outputDir, err := util.AbsPath(requested)
	if err != nil {
		return "", fmt.Errorf("failed to expand output dir: %w", err)
	}
	exists, err := util.DirectoryExists(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to determine if output dir exists: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("requested output dir, %s, does not exist", outputDir)
	}
	return outputDir, nil
}

// newLogHandler returns the handler for the selected log destination. The
// file is only returned, and must be closed by the caller, when logging to
// logPath.
func newLogHandler(toSyslog, toStdout, debug bool, logPath string) (slog.Handler, *os.File, error) {
	logOpts := slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		logOpts.Level = slog.LevelDebug
		logOpts.AddSource = true
	}
	switch {
	case toSyslog && toStdout:
		return nil, nil, fmt.Errorf("both syslog handler and stdout output specified, pick one only")
	case toSyslog:
		handler, err := NewSyslogHandler(&logOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create syslog handler: %w", err)
		}
		return handler, nil, nil
	case toStdout:
		return slog.NewJSONHandler(os.Stdout, &logOpts), nil, nil
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G302
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.NewTextHandler(logFile, &logOpts), logFile, nil
}

// terminateApplication closes the log file
func terminateApplication(cmd *cobra.Command, args []string) error {
	var ctx context.Context
	if cmd.Parent() == nil {
		ctx = cmd.Context()
	} else {
		ctx = cmd.Parent().Context()
	}
	if ctx != nil {
		ctxValue := ctx.Value(common.AppContext{})
		if ctxValue != nil {
			if _, ok := ctxValue.(common.AppContext); ok {
				slog.Info("Shutting down", slog.String("app", common.AppName), slog.String("version", gVersion), slog.Int("PID", os.Getpid()), slog.String("arguments", strings.Join(os.Args, " ")))
				if gLogFile != nil {
					err := gLogFile.Close()
					if err != nil {
						slog.Error("error closing log file", slog.String("logFile", gLogFile.Name()), slog.String("error", err.Error()))
						return err
					}
					gLogFile = nil
				}
			}
		}
	}
	return nil
}

// SyslogHandler is a slog.Handler that logs to syslog.
type SyslogHandler struct {
	writer     *syslog.Writer
	logLeveler slog.Leveler
	addSource  bool
}

func NewSyslogHandler(logOpts *slog.HandlerOptions) (*SyslogHandler, error) {
	writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, filepath.Base(os.Args[0]))
	if err != nil {
		return nil, err
	}
	return &SyslogHandler{writer: writer, logLeveler: logOpts.Level, addSource: logOpts.AddSource}, nil
}

func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := fmt.Sprintf("level=%s msg=%q", r.Level.String(), r.Message)
	if r.PC != 0 && h.addSource {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		msg = fmt.Sprintf("level=%s source=%s:%d msg=%q", r.Level.String(), filepath.Base(f.File), f.Line, r.Message)
	}
	r.Attrs(func(attr slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%q", attr.Key, attr.Value.String())
		return true
	})
	switch r.Level {
	case slog.LevelDebug:
		return h.writer.Debug(msg)
	case slog.LevelInfo:
		return h.writer.Info(msg)
	case slog.LevelWarn:
		return h.writer.Warning(msg)
	case slog.LevelError:
		return h.writer.Err(msg)
	default:
		return h.writer.Info(msg)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *SyslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.logLeveler.Level()
}
