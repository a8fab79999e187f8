//go:build !(linux && amd64)

package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"runtime"

	"github.com/pkg/errors"
)

// Host is only implemented on linux/amd64.
type Host struct {
	Sim
}

// NewHost reports that the host backend is unavailable on this platform.
func NewHost(cpu int) (*Host, error) {
	return nil, errors.Errorf("host platform access is not supported on %s/%s, use a profile", runtime.GOOS, runtime.GOARCH)
}

// Close is a no-op.
func (h *Host) Close() error {
	return nil
}
