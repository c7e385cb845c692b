// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package device provides fixed-size sector I/O on a backing block device.
//
// Typically the device is an *os.File over a raw disk or a regular file, but
// test code may substitute the memory-backed implementation.
package device

import (
	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Device is a sector-addressed backing store. Buffers passed to ReadAt and
// WriteAt must be a positive multiple of base.SectorSize; the sector count
// transferred is len(buf)/base.SectorSize.
type Device interface {
	// ReadAt reads consecutive sectors starting at sa into buf.
	ReadAt(sa base.SectorAddr, buf []byte) error

	// WriteAt writes consecutive sectors starting at sa from buf. The write
	// is synchronous with respect to the adapter; durability beyond the
	// adapter requires Sync.
	WriteAt(sa base.SectorAddr, buf []byte) error

	// SectorCount returns the total number of sectors available.
	SectorCount() uint32

	// Sync flushes buffered writes to stable storage.
	Sync() error

	// Close releases the device.
	Close() error
}

func checkBuf(buf []byte) int {
	if len(buf) == 0 || len(buf)%base.SectorSize != 0 {
		panic("device: buffer not a multiple of the sector size")
	}
	return len(buf) / base.SectorSize
}
