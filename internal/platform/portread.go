package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import "log/slog"

const (
	// settledTolerance is the largest forward step, in ticks, accepted
	// between two back-to-back reads of a free-running counter.
	settledTolerance = 0x80
	settledAttempts  = 8
)

// readSettled reads a free-running counter whose value is assembled from
// several narrower accesses. A read that straddles a carry between bytes
// lands far from its neighbour, so pairs of reads are taken until the second
// is a small step past the first. Counters that implement only the low 24
// bits may wrap between the two reads.
func readSettled(read func() uint32) uint32 {
	var value uint32
	for i := 0; i < settledAttempts; i++ {
		first := read()
		value = read()
		step := value - first
		if step <= settledTolerance {
			return value
		}
		if first>>24 == 0 && value>>24 == 0 && step&0xFFFFFF <= settledTolerance {
			return value
		}
	}
	slog.Debug("counter reads did not settle", slog.Int("attempts", settledAttempts), slog.Uint64("value", uint64(value)))
	return value
}
