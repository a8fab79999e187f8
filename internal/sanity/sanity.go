// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package sanity evaluates user supplied plausibility checks, written as
// boolean expressions, against a calibration summary.
package sanity

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/casbin/govaluate"

	"tsccal/internal/tscfreq"
)

// Check is a parsed expression such as "tsc_hz > 1000000000 && crystal_hz == 24000000".
type Check struct {
	Expression string
	evaluable  *govaluate.EvaluableExpression
}

// Result is the outcome of one check.
type Result struct {
	Expression string
	Passed     bool
	Err        error
}

// Parse compiles the expressions. Unknown variables are reported here
// rather than at evaluation time.
func Parse(expressions []string) (checks []Check, err error) {
	known := Variables(tscfreq.Summary{})
	functions := evaluatorFunctions()
	for _, expression := range expressions {
		expression = strings.TrimSpace(expression)
		if expression == "" {
			continue
		}
		var evaluable *govaluate.EvaluableExpression
		if evaluable, err = govaluate.NewEvaluableExpressionWithFunctions(expression, functions); err != nil {
			err = fmt.Errorf("failed to parse check [%s]: %w", expression, err)
			return
		}
		for _, variable := range evaluable.Vars() {
			if _, ok := known[variable]; !ok {
				err = fmt.Errorf("unknown variable [%s] in check [%s]", variable, expression)
				return
			}
		}
		checks = append(checks, Check{Expression: expression, evaluable: evaluable})
	}
	return
}

// Evaluate runs the check against a set of variables.
func (c Check) Evaluate(variables map[string]any) (bool, error) {
	result, err := c.evaluable.Evaluate(variables)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate check [%s]: %w", c.Expression, err)
	}
	passed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("check [%s] produced %v, not a boolean", c.Expression, result)
	}
	return passed, nil
}

// Run evaluates every check against the summary.
func Run(checks []Check, summary tscfreq.Summary) []Result {
	variables := Variables(summary)
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		passed, err := check.Evaluate(variables)
		if err != nil {
			slog.Warn("check failed to evaluate", slog.String("check", check.Expression), slog.String("error", err.Error()))
		} else {
			slog.Debug("check evaluated", slog.String("check", check.Expression), slog.Bool("passed", passed))
		}
		results = append(results, Result{Expression: check.Expression, Passed: passed, Err: err})
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Variables exposes the summary to expressions. Numbers are float64, the
// type govaluate computes with.
func Variables(s tscfreq.Summary) map[string]any {
	variables := map[string]any{
		"tsc_hz":         float64(s.FrequencyHz),
		"source":         string(s.Source),
		"vendor":         s.Vendor,
		"uarch":          s.MicroArchitecture,
		"family":         float64(s.Signature.Family()),
		"model":          float64(s.Signature.DisplayModel()),
		"stepping":       float64(s.Signature.Stepping()),
		"timer_port":     float64(s.Timer.Port),
		"timer_source":   s.Timer.Source.String(),
		"calibrated_hz":  0.0,
		"ticks":          0.0,
		"crystal_hz":     0.0,
		"base_hz":        0.0,
		"crystal_source": "",
		"base_source":    "",
	}
	if m := s.Measurement; m != nil {
		variables["calibrated_hz"] = float64(m.Hz)
		variables["ticks"] = float64(m.Ticks)
	}
	if r := s.Resolution; r != nil {
		variables["crystal_hz"] = float64(r.CrystalHz)
		variables["base_hz"] = float64(r.BaseHz)
		variables["crystal_source"] = string(r.CrystalSource)
		variables["base_source"] = string(r.BaseSource)
	}
	return variables
}

func toFloat(arg any) float64 {
	switch t := arg.(type) {
	case int:
		return float64(t)
	case float64:
		return t
	}
	return math.NaN()
}

// evaluatorFunctions defines functions that can be called in check expressions
func evaluatorFunctions() (functions map[string]govaluate.ExpressionFunction) {
	functions = make(map[string]govaluate.ExpressionFunction)
	// within(value, expected, ppm) is true when value is no more than ppm
	// parts per million away from expected
	functions["within"] = func(args ...any) (any, error) {
		if len(args) != 3 {
			return nil, fmt.Errorf("within expects 3 arguments, got %d", len(args))
		}
		value, expected, ppm := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
		if expected == 0 {
			return value == 0, nil
		}
		return math.Abs(value-expected)/math.Abs(expected)*1e6 <= ppm, nil
	}
	functions["mhz"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("mhz expects 1 argument, got %d", len(args))
		}
		return toFloat(args[0]) / 1e6, nil
	}
	functions["ghz"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("ghz expects 1 argument, got %d", len(args))
		}
		return toFloat(args[0]) / 1e9, nil
	}
	return
}
