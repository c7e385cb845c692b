// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package device

import (
	"io"
	"os"

	"github.com/Wuyang-Chung/logstor/internal/base"
	"github.com/cockroachdb/errors/oserror"
)

// File is a Device backed by an *os.File.
type File struct {
	f         *os.File
	sectorCnt uint32
}

var _ Device = (*File)(nil)

// OpenFile opens the named file or block device. The usable size is rounded
// down to a whole number of sectors.
func OpenFile(name string) (*File, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, err
		}
		return nil, base.MarkIO(err, "device: open %s", name)
	}
	// Seeking to the end reports the size of a block device as well as of a
	// regular file; Stat reports zero for a block device.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, base.MarkIO(err, "device: size of %s", name)
	}
	return &File{f: f, sectorCnt: uint32(size / base.SectorSize)}, nil
}

// Create creates (or truncates) a regular file of the given size in bytes,
// rounded down to whole sectors.
func Create(name string, size int64) (*File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, base.MarkIO(err, "device: create %s", name)
	}
	size -= size % base.SectorSize
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, base.MarkIO(err, "device: truncate %s", name)
	}
	return &File{f: f, sectorCnt: uint32(size / base.SectorSize)}, nil
}

// ReadAt implements Device.
func (d *File) ReadAt(sa base.SectorAddr, buf []byte) error {
	n := checkBuf(buf)
	if _, err := d.f.ReadAt(buf, int64(sa)*base.SectorSize); err != nil {
		return base.MarkIO(err, "device: read %d sectors at %s", n, sa)
	}
	return nil
}

// WriteAt implements Device.
func (d *File) WriteAt(sa base.SectorAddr, buf []byte) error {
	n := checkBuf(buf)
	if _, err := d.f.WriteAt(buf, int64(sa)*base.SectorSize); err != nil {
		return base.MarkIO(err, "device: write %d sectors at %s", n, sa)
	}
	return nil
}

// SectorCount implements Device.
func (d *File) SectorCount() uint32 {
	return d.sectorCnt
}

// Sync implements Device.
func (d *File) Sync() error {
	if err := d.datasync(); err != nil {
		return base.MarkIO(err, "device: sync")
	}
	return nil
}

// Close implements Device.
func (d *File) Close() error {
	return d.f.Close()
}
