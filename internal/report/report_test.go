package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tsccal/internal/art"
	"tsccal/internal/cpus"
	"tsccal/internal/pmtimer"
	"tsccal/internal/sanity"
	"tsccal/internal/tscfreq"
)

func testSummary() tscfreq.Summary {
	return tscfreq.Summary{
		Vendor:            cpus.IntelVendor,
		MaxLeaf:           0x16,
		Signature:         0xA0655,
		MicroArchitecture: cpus.UarchCML,
		Timer:             pmtimer.Timer{Port: 0x1808, Width: pmtimer.Width24, Source: pmtimer.SourcePMCBAR},
		Measurement: &pmtimer.Measurement{
			Timer:    pmtimer.Timer{Port: 0x1808, Width: pmtimer.Width24, Source: pmtimer.SourcePMCBAR},
			TSCStart: 1000,
			TSCEnd:   240001000,
			Ticks:    357954,
			Hz:       2400000000,
		},
		Resolution: &art.Resolution{
			Frequencies:   art.Frequencies{CrystalHz: 24000000, BaseHz: 2400000000},
			Denominator:   2,
			Numerator:     200,
			TSCHz:         2400000000,
			CrystalSource: art.CrystalCalibrated,
			BaseSource:    art.BaseFrequencyLeaf,
		},
		FrequencyHz: 2400000000,
		Source:      tscfreq.SourceART,
	}
}

func TestCreateText(t *testing.T) {
	results := []sanity.Result{
		{Expression: "tsc_hz > 0", Passed: true},
		{Expression: "crystal_hz == 25000000", Passed: false},
		{Expression: "tsc_hz + 1", Err: errors.New("not a boolean")},
	}
	out, err := Create(FormatTxt, SummaryTables(testSummary(), results))
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "Frequency\n=========\n")
	assert.Contains(t, text, "TSC Frequency (Hz):  2,400,000,000\n")
	assert.Contains(t, text, "TSC Frequency (MHz): 2400.000\n")
	assert.Regexp(t, `Signature:\s+0xa0655\n`, text)
	assert.Regexp(t, `Timer Ticks:\s+357,954\n`, text)
	assert.Regexp(t, `Discovery:\s+PMC-BAR\n`, text)
	assert.Regexp(t, `TSC/Crystal Ratio:\s+200/2\n`, text)
	assert.Contains(t, text, "Checks\n======\n")
	assert.Contains(t, text, "crystal_hz == 25000000   fail")
	assert.Contains(t, text, "error: not a boolean")
}

func TestCreateTextNoData(t *testing.T) {
	summary := testSummary()
	summary.Resolution = nil
	summary.Measurement = nil
	out, err := Create(FormatTxt, SummaryTables(summary, nil))
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "Crystal Clock\n=============\nCrystal clock not resolved.\n")
	assert.Contains(t, text, ": not measured\n")
	assert.NotContains(t, text, ChecksTableName)
}

func TestCreateJson(t *testing.T) {
	out, err := Create(FormatJson, SummaryTables(testSummary(), nil))
	require.NoError(t, err)
	var decoded map[string][]map[string]string
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded[FrequencyTableName], 1)
	assert.Equal(t, "2400000000", decoded[FrequencyTableName][0]["TSC Frequency (Hz)"])
	assert.Equal(t, "art", decoded[FrequencyTableName][0]["Source"])
	assert.Equal(t, "calibrated-tsc", decoded[CrystalClockTableName][0]["Crystal Source"])
	assert.Equal(t, "357954", decoded[PMTimerTableName][0]["Timer Ticks"])
}

func TestCreateXlsx(t *testing.T) {
	out, err := Create(FormatXlsx, SummaryTables(testSummary(), nil))
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()
	value, err := f.GetCellValue(XlsxPrimarySheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, FrequencyTableName, value)
	value, err = f.GetCellValue(XlsxPrimarySheetName, "A2")
	require.NoError(t, err)
	assert.Equal(t, "TSC Frequency (Hz)", value)
	value, err = f.GetCellValue(XlsxPrimarySheetName, "B2")
	require.NoError(t, err)
	assert.Equal(t, "2400000000", value)
}

func TestCreateErrors(t *testing.T) {
	_, err := Create("html", nil)
	assert.Error(t, err)

	_, err = Create(FormatTxt, []TableValues{{
		Name:   "Uneven",
		Fields: []Field{{Name: "a", Values: []string{"1", "2"}}, {Name: "b", Values: []string{"1"}}},
	}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "field b"))
}

func TestTextValue(t *testing.T) {
	assert.Equal(t, "3,579,545", textValue(printer(), "3579545"))
	assert.Equal(t, "9999", textValue(printer(), "9999"))
	assert.Equal(t, "0x1808", textValue(printer(), "0x1808"))
	assert.Equal(t, "2400.000", textValue(printer(), "2400.000"))
}
