package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strconv"

	"tsccal/internal/sanity"
	"tsccal/internal/tscfreq"
)

const (
	FrequencyTableName    = "Frequency"
	ProcessorTableName    = "Processor"
	PMTimerTableName      = "PM Timer"
	CrystalClockTableName = "Crystal Clock"
	ChecksTableName       = "Checks"
)

// SummaryTables lays a calibration summary out as report tables. Check
// results are included when present.
func SummaryTables(summary tscfreq.Summary, results []sanity.Result) []TableValues {
	tables := []TableValues{
		frequencyTable(summary),
		processorTable(summary),
		pmTimerTable(summary),
		crystalClockTable(summary),
	}
	if len(results) > 0 {
		tables = append(tables, checksTable(results))
	}
	return tables
}

func single(name, value string) Field {
	return Field{Name: name, Values: []string{value}}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func frequencyTable(s tscfreq.Summary) TableValues {
	return TableValues{
		Name: FrequencyTableName,
		Fields: []Field{
			single("TSC Frequency (Hz)", strconv.FormatUint(s.FrequencyHz, 10)),
			single("TSC Frequency (MHz)", strconv.FormatFloat(float64(s.FrequencyHz)/1e6, 'f', 3, 64)),
			single("Source", string(s.Source)),
		},
	}
}

func processorTable(s tscfreq.Summary) TableValues {
	return TableValues{
		Name: ProcessorTableName,
		Fields: []Field{
			single("Vendor", s.Vendor),
			single("Max Leaf", fmt.Sprintf("%#x", s.MaxLeaf)),
			single("Signature", fmt.Sprintf("%#x", uint32(s.Signature))),
			single("Family", strconv.Itoa(s.Signature.Family())),
			single("Model", strconv.Itoa(s.Signature.DisplayModel())),
			single("Stepping", strconv.Itoa(int(s.Signature.Stepping()))),
			single("Microarchitecture", s.MicroArchitecture),
		},
	}
}

func pmTimerTable(s tscfreq.Summary) TableValues {
	fields := []Field{
		single("Discovery", s.Timer.Source.String()),
		single("Port", fmt.Sprintf("%#x", s.Timer.Port)),
		single("Width", s.Timer.Width.String()),
	}
	m := s.Measurement
	if m == nil {
		fields = append(fields, single("Calibrated Frequency (Hz)", "not measured"))
		return TableValues{Name: PMTimerTableName, Fields: fields}
	}
	fields = append(fields,
		single("Calibrated Frequency (Hz)", strconv.FormatUint(m.Hz, 10)),
		single("Timer Ticks", strconv.FormatUint(uint64(m.Ticks), 10)),
		single("Window (ms)", strconv.FormatFloat(float64(m.Elapsed().Microseconds())/1000, 'f', 3, 64)),
		single("TSC Delta", strconv.FormatUint(m.TSCEnd-m.TSCStart, 10)),
		single("Error", errorString(m.Err)),
	)
	return TableValues{Name: PMTimerTableName, Fields: fields}
}

func crystalClockTable(s tscfreq.Summary) TableValues {
	r := s.Resolution
	if r == nil {
		return TableValues{Name: CrystalClockTableName, NoDataFound: "Crystal clock not resolved."}
	}
	fields := []Field{
		single("Crystal Frequency (Hz)", strconv.FormatUint(r.CrystalHz, 10)),
		single("Crystal Source", string(r.CrystalSource)),
		single("Base Frequency (Hz)", strconv.FormatUint(r.BaseHz, 10)),
		single("Base Source", string(r.BaseSource)),
		single("TSC/Crystal Ratio", fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)),
		single("TSC Adjust", fmt.Sprintf("%#x", r.TSCAdjust)),
	}
	if r.TSCHz != 0 {
		fields = append(fields, single("Calibrated TSC (Hz)", strconv.FormatUint(r.TSCHz, 10)))
	}
	fields = append(fields, single("Error", errorString(r.Err)))
	return TableValues{Name: CrystalClockTableName, Fields: fields}
}

func checksTable(results []sanity.Result) TableValues {
	table := TableValues{
		Name:    ChecksTableName,
		HasRows: true,
		Fields:  []Field{{Name: "Check"}, {Name: "Result"}},
	}
	for _, result := range results {
		outcome := "pass"
		if result.Err != nil {
			outcome = "error: " + result.Err.Error()
		} else if !result.Passed {
			outcome = "fail"
		}
		table.Fields[0].Values = append(table.Fields[0].Values, result.Expression)
		table.Fields[1].Values = append(table.Fields[1].Values, outcome)
	}
	return table
}
