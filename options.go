// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Exported geometry constants.
const (
	// SectorSize is the unit of I/O and addressing. All front-end offsets and
	// lengths must be multiples of SectorSize.
	SectorSize = base.SectorSize

	// SegmentSize is the unit of allocation and reclamation.
	SegmentSize = base.SegmentSize

	// SectorsPerSeg is the number of sectors in a segment; the last one holds
	// the segment summary.
	SectorsPerSeg = base.SectorsPerSeg

	// BlocksPerSeg is the number of payload sectors in a segment.
	BlocksPerSeg = base.BlocksPerSeg
)

// Options holds the optional parameters for Open. A nil *Options is valid
// and means to use the default values.
type Options struct {
	// EventListener provides hooks for state transitions of the store:
	// formatting, segment allocation, cleaning, superblock writes.
	EventListener EventListener

	// Logger receives messages about non-fatal conditions, such as Open
	// formatting a device that has no usable superblock. Events are not
	// routed to it: unset EventListener hooks are no-ops.
	Logger Logger

	// MetadataCacheRatio scales the number of metadata cache slots. The
	// baseline is one slot per forward-map leaf covering the device
	// (max_block_cnt / (SectorSize/4)); even at 1.0 eviction still occurs
	// because indirect nodes compete for the same slots.
	//
	// The default is 1.0. Values below 1.0 are raised to 1.0.
	MetadataCacheRatio float64

	// DisableCleaner prevents the synchronous segment cleaner from running
	// when the free-segment count reaches the low-water mark. Writes then
	// fail with ErrExhausted once the pool is consumed. Intended for tests.
	DisableCleaner bool
}

// Clone returns a shallow copy of the options, or empty options if o is nil.
func (o *Options) Clone() *Options {
	n := &Options{}
	if o != nil {
		*n = *o
	}
	return n
}

// EnsureDefaults fills in the default values for unset fields, returning the
// receiver for convenience.
func (o *Options) EnsureDefaults() *Options {
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.MetadataCacheRatio < 1.0 {
		o.MetadataCacheRatio = 1.0
	}
	o.EventListener.EnsureDefaults()
	return o
}
