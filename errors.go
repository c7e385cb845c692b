// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Error kinds returned by the store. Every error is marked with one of
// these, so callers test with errors.Is regardless of wrapping.
var (
	// ErrIO marks a failed device read or write. The core never retries;
	// the error is propagated to the caller.
	ErrIO = base.ErrIO

	// ErrFormat marks an unusable superblock. Open reacts by formatting a
	// fresh layout on the same device.
	ErrFormat = base.ErrFormat

	// ErrInvalid marks an unaligned offset or length, a block address beyond
	// BlockCount, or an operation on a closed store. The request fails with
	// no device state change.
	ErrInvalid = base.ErrInvalid

	// ErrExhausted is returned by a write when the free-segment count
	// reached zero and the cleaner could not make progress.
	ErrExhausted = base.ErrExhausted

	// ErrClosed is returned by operations on a closed store. It is marked
	// as ErrInvalid.
	ErrClosed = base.ErrClosed

	// ErrCorruption is returned by Check when the forward map and a segment
	// summary disagree about a live block.
	ErrCorruption = base.ErrCorruption
)

// Exported types from internal/base.
type (
	// SectorAddr addresses a sector on the physical device.
	SectorAddr = base.SectorAddr
	// BlockAddr is the logical sector index a client uses.
	BlockAddr = base.BlockAddr
	// SegmentID identifies a segment of the device.
	SegmentID = base.SegmentID
	// Logger defines an interface for writing log messages.
	Logger = base.Logger
)

// DefaultLogger logs to the Go stdlib logs.
var DefaultLogger = base.DefaultLogger{}
