// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package device

import (
	"github.com/cockroachdb/errors"

	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Mem is a memory-backed Device for tests.
type Mem struct {
	data   []byte
	closed bool

	// Reads and Writes count device operations, not sectors. Tests use them
	// to assert on I/O coalescing.
	Reads  uint64
	Writes uint64

	// ReadErr and WriteErr, when set, are returned by every subsequent read
	// or write. Tests use them to exercise I/O failure paths.
	ReadErr  error
	WriteErr error
}

var _ Device = (*Mem)(nil)

// NewMem returns a zeroed in-memory device with the given sector count.
func NewMem(sectorCnt uint32) *Mem {
	return &Mem{data: make([]byte, int64(sectorCnt)*base.SectorSize)}
}

// ReadAt implements Device.
func (d *Mem) ReadAt(sa base.SectorAddr, buf []byte) error {
	n := checkBuf(buf)
	d.Reads++
	if d.ReadErr != nil {
		return base.MarkIO(d.ReadErr, "mem: read %d sectors at %s", n, sa)
	}
	off := int64(sa) * base.SectorSize
	if off+int64(len(buf)) > int64(len(d.data)) {
		return base.MarkIO(errors.Newf("read past device end"), "mem: read %d sectors at %s", n, sa)
	}
	copy(buf, d.data[off:])
	return nil
}

// WriteAt implements Device.
func (d *Mem) WriteAt(sa base.SectorAddr, buf []byte) error {
	n := checkBuf(buf)
	d.Writes++
	if d.WriteErr != nil {
		return base.MarkIO(d.WriteErr, "mem: write %d sectors at %s", n, sa)
	}
	off := int64(sa) * base.SectorSize
	if off+int64(len(buf)) > int64(len(d.data)) {
		return base.MarkIO(errors.Newf("write past device end"), "mem: write %d sectors at %s", n, sa)
	}
	copy(d.data[off:], buf)
	return nil
}

// SectorCount implements Device.
func (d *Mem) SectorCount() uint32 {
	return uint32(int64(len(d.data)) / base.SectorSize)
}

// Sync implements Device.
func (d *Mem) Sync() error {
	return nil
}

// Close implements Device.
func (d *Mem) Close() error {
	d.closed = true
	return nil
}
