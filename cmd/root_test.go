package cmd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsccal/internal/common"
)

func TestResolveOutputDir(t *testing.T) {
	dir := t.TempDir()
	outputDir, err := resolveOutputDir(dir, "ts")
	require.NoError(t, err)
	assert.Equal(t, dir, outputDir)

	_, err = resolveOutputDir(filepath.Join(dir, "missing"), "ts")
	assert.ErrorContains(t, err, "does not exist")

	outputDir, err = resolveOutputDir("", "2025-01-02_03-04-05")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(outputDir))
	assert.Equal(t, common.AppName+"_2025-01-02_03-04-05", filepath.Base(outputDir))
}

func TestNewLogHandler(t *testing.T) {
	_, _, err := newLogHandler(true, true, false, "")
	assert.Error(t, err)

	handler, logFile, err := newLogHandler(false, true, false, "")
	require.NoError(t, err)
	assert.Nil(t, logFile)
	assert.IsType(t, &slog.JSONHandler{}, handler)

	logPath := filepath.Join(t.TempDir(), "app.log")
	handler, logFile, err = newLogHandler(false, false, true, logPath)
	require.NoError(t, err)
	require.NotNil(t, logFile)
	slog.New(handler).Debug("calibrated", slog.Uint64("hz", 3600000000))
	require.NoError(t, logFile.Close())
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "hz=3600000000"), string(content))
	assert.Contains(t, string(content), "source=")
}

func TestRootCommands(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"calibrate", "monitor", "profiles"})
}
