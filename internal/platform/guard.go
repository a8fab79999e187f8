package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Guard holds the platform at TPLHighLevel until released.
type Guard struct {
	platform Platform
	previous TPL
	released bool
}

// Acquire raises the priority level so nothing can interrupt the caller.
// The returned guard must be released, typically with defer.
func Acquire(p Platform) *Guard {
	return &Guard{platform: p, previous: p.RaiseTPL(TPLHighLevel)}
}

// Previous returns the level that Release will restore.
func (g *Guard) Previous() TPL {
	return g.previous
}

// Release restores the previous priority level. Calling it more than once
// has no effect.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.platform.RestoreTPL(g.previous)
}
