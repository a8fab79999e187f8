package platform

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"tsccal/internal/util"
)

const (
	msrPath       = "/dev/cpu/%d/msr"
	portPath      = "/dev/port"
	memPath       = "/dev/mem"
	pciConfigPath = "/sys/bus/pci/devices/%s/config"
)

// implemented in host_linux_amd64.s
func cpuid(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
func rdtsc() uint64
func pause()
func inl(port uint16) uint32

// Host reads hardware through the Linux device files. It needs root, the
// msr module, and a kernel that permits /dev/mem access to the requested
// range. Failed reads are logged and return the value an absent device
// would produce.
//
// User space cannot mask interrupts; at TPLHighLevel the host only pins the
// calling goroutine to its OS thread.
//
// I/O ports are read with a single 32-bit IN instruction after ioperm grants
// access. /dev/port is only used when that grant fails: the kernel serves it
// one byte at a time, so a counter read through it can tear.
type Host struct {
	cpu     int
	tpl     TPL
	port    int
	mem     int
	msr     int
	pciFile map[PCIAddress]int
	portIO  bool
	granted map[uint32]bool // ports granted on the thread pinned at TPLHighLevel
}

// NewHost opens the device files needed for calibration on the given CPU.
func NewHost(cpu int) (*Host, error) {
	h := &Host{cpu: cpu, tpl: TPLApplication, port: -1, mem: -1, msr: -1, pciFile: make(map[PCIAddress]int), portIO: true, granted: make(map[uint32]bool)}
	var err error
	msrDev := fmt.Sprintf(msrPath, cpu)
	if h.msr, err = unix.Open(msrDev, unix.O_RDONLY, 0); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("MSR modules aren't loaded at %s, please load them using modprobe msr command", msrDev))
	}
	if h.port, err = unix.Open(portPath, unix.O_RDONLY, 0); err != nil {
		slog.Warn("port I/O unavailable", slog.String("path", portPath), slog.String("error", err.Error()))
		h.port = -1
	}
	if h.mem, err = unix.Open(memPath, unix.O_RDONLY|unix.O_SYNC, 0); err != nil {
		slog.Warn("physical memory unavailable", slog.String("path", memPath), slog.String("error", err.Error()))
		h.mem = -1
	}
	return h, nil
}

// Close releases the device files.
func (h *Host) Close() error {
	for _, fd := range h.pciFile {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
	for _, fd := range []int{h.port, h.mem, h.msr} {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
	return nil
}

func (h *Host) pread(fd int, size int, offset int64, what string) ([]byte, bool) {
	if fd < 0 {
		return nil, false
	}
	buf := make([]byte, size)
	n, err := unix.Pread(fd, buf, offset)
	if err != nil || n != size {
		slog.Debug("read failed", slog.String("device", what), slog.Int64("offset", offset), slog.Int("bytes", n), slog.Any("error", err))
		return nil, false
	}
	return buf, true
}

func (h *Host) pciConfig(addr PCIAddress) int {
	if fd, ok := h.pciFile[addr]; ok {
		return fd
	}
	path := fmt.Sprintf(pciConfigPath, addr.String())
	fd := -1
	if exists, err := util.FileExists(path); err == nil && exists {
		if fd, err = unix.Open(path, unix.O_RDONLY, 0); err != nil {
			slog.Debug("failed to open PCI config", slog.String("path", path), slog.String("error", err.Error()))
			fd = -1
		}
	}
	h.pciFile[addr] = fd
	return fd
}

func (h *Host) PCIRead8(addr PCIAddress, reg uint16) uint8 {
	buf, ok := h.pread(h.pciConfig(addr), 1, int64(reg), "pci")
	if !ok {
		return 0xFF
	}
	return buf[0]
}

func (h *Host) PCIRead16(addr PCIAddress, reg uint16) uint16 {
	buf, ok := h.pread(h.pciConfig(addr), 2, int64(reg), "pci")
	if !ok {
		return 0xFFFF
	}
	return binary.LittleEndian.Uint16(buf)
}

func (h *Host) MMIORead32(addr uint64) uint32 {
	buf, ok := h.pread(h.mem, 4, int64(addr), memPath) // #nosec G115
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint32(buf)
}

func (h *Host) IORead32(port uint32) uint32 {
	if h.portIO && port <= 0xFFFC {
		if value, ok := h.portRead32(port); ok {
			return value
		}
	}
	return readSettled(func() uint32 {
		buf, ok := h.pread(h.port, 4, int64(port), portPath)
		if !ok {
			return 0xFFFFFFFF
		}
		return binary.LittleEndian.Uint32(buf)
	})
}

// portRead32 reads the port with one IN instruction. The ioperm bitmap is
// per thread, so the grant and the read must happen on the same thread.
func (h *Host) portRead32(port uint32) (uint32, bool) {
	if h.tpl < TPLHighLevel {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if !h.grant(port) {
			return 0, false
		}
		return inl(uint16(port)), true // #nosec G115
	}
	if !h.granted[port] {
		if !h.grant(port) {
			return 0, false
		}
		h.granted[port] = true
	}
	return inl(uint16(port)), true // #nosec G115
}

func (h *Host) grant(port uint32) bool {
	if err := unix.Ioperm(int(port), 4, 1); err != nil {
		slog.Warn("ioperm failed, falling back to byte-wise port reads", slog.String("path", portPath), slog.String("port", fmt.Sprintf("%#x", port)), slog.String("error", err.Error()))
		h.portIO = false
		return false
	}
	return true
}

func (h *Host) CPUID(leaf uint32) (eax, ebx, ecx, edx uint32) {
	return cpuid(leaf, 0)
}

func (h *Host) ReadMSR(msr uint32) uint64 {
	//assuming all x86 uses little endian format
	buf, ok := h.pread(h.msr, 8, int64(msr), "msr")
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint64(buf)
}

func (h *Host) ReadTSC() uint64 {
	return rdtsc()
}

func (h *Host) Stall(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		pause()
	}
}

func (h *Host) CPUPause() {
	pause()
}

func (h *Host) RaiseTPL(level TPL) TPL {
	previous := h.tpl
	if level >= TPLHighLevel && previous < TPLHighLevel {
		runtime.LockOSThread()
		clear(h.granted)
	}
	h.tpl = level
	return previous
}

func (h *Host) RestoreTPL(level TPL) {
	if level < TPLHighLevel && h.tpl >= TPLHighLevel {
		runtime.UnlockOSThread()
	}
	h.tpl = level
}
