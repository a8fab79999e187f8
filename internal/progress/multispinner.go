// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package progress shows per-platform calibration status on the terminal.
*/
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// MultiSpinnerUpdateFunc is the signature of MultiSpinner.Status
type MultiSpinnerUpdateFunc func(string, string) error

var spinChars = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

type spinnerState struct {
	label       string
	status      string
	statusIsNew bool
	spinIndex   int
}

// MultiSpinner draws one status line per label. When the output is not a
// terminal only status changes are written.
type MultiSpinner struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	spinners    []spinnerState
	ticker      *time.Ticker
	done        chan struct{}
	spinning    bool
}

// NewMultiSpinner creates a MultiSpinner writing to stderr
func NewMultiSpinner() *MultiSpinner {
	return newMultiSpinner(os.Stderr, term.IsTerminal(int(os.Stderr.Fd()))) // #nosec G115
}

func newMultiSpinner(out io.Writer, interactive bool) *MultiSpinner {
	return &MultiSpinner{out: out, interactive: interactive}
}

// AddSpinner adds a spinner to the MultiSpinner
func (ms *MultiSpinner) AddSpinner(label string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, spinner := range ms.spinners {
		if spinner.label == label {
			err = fmt.Errorf("spinner with label %s already exists", label)
			return
		}
	}
	ms.spinners = append(ms.spinners, spinnerState{label: label, status: "?"})
	return
}

// Start starts the spinner
func (ms *MultiSpinner) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.spinning {
		return
	}
	ms.draw(true)
	ms.ticker = time.NewTicker(250 * time.Millisecond)
	ms.done = make(chan struct{})
	ms.spinning = true
	go ms.onTick(ms.ticker, ms.done)
}

// Finish stops the spinner and leaves the final status lines in place
func (ms *MultiSpinner) Finish() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.spinning {
		return
	}
	ms.ticker.Stop()
	close(ms.done)
	ms.spinning = false
	ms.draw(false)
}

// Status updates the status of a spinner
func (ms *MultiSpinner) Status(label string, status string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for spinnerIdx, spinner := range ms.spinners {
		if spinner.label == label {
			if status != spinner.status {
				ms.spinners[spinnerIdx].status = status
				ms.spinners[spinnerIdx].statusIsNew = true
			}
			return
		}
	}
	err = fmt.Errorf("did not find spinner with label %s", label)
	return
}

func (ms *MultiSpinner) onTick(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ms.mu.Lock()
			if ms.spinning {
				ms.draw(true)
			}
			ms.mu.Unlock()
		}
	}
}

// draw must be called with mu held
func (ms *MultiSpinner) draw(goUp bool) {
	for i, spinner := range ms.spinners {
		if !ms.interactive && !spinner.statusIsNew {
			continue
		}
		fmt.Fprintf(ms.out, "%-20s  %s  %-40s\n", spinner.label, spinChars[spinner.spinIndex], spinner.status)
		ms.spinners[i].statusIsNew = false
		ms.spinners[i].spinIndex = (spinner.spinIndex + 1) % len(spinChars)
	}
	if goUp && ms.interactive {
		for range ms.spinners {
			fmt.Fprintf(ms.out, "\x1b[1A")
		}
	}
}
