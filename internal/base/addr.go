// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// Geometry of the backing device. A sector is the unit of I/O, a segment the
// unit of allocation and reclamation. The last sector of every segment holds
// the segment summary; segment 0 holds the superblock ring.
const (
	SectorSize    = 4096
	SegmentSize   = 4 << 20
	SectorsPerSeg = SegmentSize / SectorSize // 1024
	SegSummaryOff = SectorsPerSeg - 1
	BlocksPerSeg  = SectorsPerSeg - 1
	SegAddrShift  = 10

	// SegDataStart is the first segment of the data pool.
	SegDataStart = 1
)

// Cleaning policy knobs. The cleaner keeps a sliding window of CleanWindow
// reclaim candidates; a segment skipped CleanAgeLimit times is compacted
// unconditionally.
const (
	CleanWindow   = 6
	CleanAgeLimit = 4
)

// SectorAddr addresses a sector on the physical device.
//
// SectorNull marks an absent mapping and SectorDelete a tombstone. Neither
// can collide with a payload location: sectors 0 and 2 lie inside the
// superblock ring.
type SectorAddr uint32

const (
	SectorNull   SectorAddr = 0
	SectorDelete SectorAddr = 2
)

// Segment returns the segment containing the sector.
func (sa SectorAddr) Segment() SegmentID {
	return SegmentID(sa >> SegAddrShift)
}

// SegmentOffset returns the sector's offset within its segment.
func (sa SectorAddr) SegmentOffset() int {
	return int(sa & (SectorsPerSeg - 1))
}

// String implements fmt.Stringer.
func (sa SectorAddr) String() string {
	return fmt.Sprintf("%d", uint32(sa))
}

// SafeValue implements redact.SafeValue.
func (sa SectorAddr) SafeValue() {}

// BlockAddr is the logical sector index a client uses. Valid user block
// addresses have the top two bits clear; addresses with both top bits set
// are metadata addresses (see MetaAddr).
type BlockAddr uint32

// String implements fmt.Stringer.
func (ba BlockAddr) String() string {
	return fmt.Sprintf("%d", uint32(ba))
}

// SafeValue implements redact.SafeValue.
func (ba BlockAddr) SafeValue() {}

// SegmentID identifies a segment; SA = SegmentID << SegAddrShift.
type SegmentID uint32

// SectorAddr returns the address of the segment's first sector.
func (seg SegmentID) SectorAddr() SectorAddr {
	return SectorAddr(seg) << SegAddrShift
}

// String implements fmt.Stringer.
func (seg SegmentID) String() string {
	return fmt.Sprintf("s%d", uint32(seg))
}

// SafeValue implements redact.SafeValue.
func (seg SegmentID) SafeValue() {}

// FileID selects one of the forward-map files. Only FDActive carries
// mappings today; FDBase and FDDelta are reserved root slots for a future
// snapshot scheme.
type FileID uint8

const (
	FDBase FileID = iota
	FDActive
	FDDelta
	FDCount
)

// MetaAddr names an index block of a forward-map tree. Layout, low to high:
//
//	index:20  node position within its level
//	depth:2   tree level, 0 is the root block
//	fd:2      forward-map file
//	resv:6
//	meta:2    always 3
//
// For a leaf (depth 2), index bits [0,10) locate the leaf under its depth-1
// parent and bits [10,20) locate that parent under the root. The in-block
// offset of a map entry is carried separately.
type MetaAddr uint32

const (
	// MetaBase is the tag pattern of a metadata address.
	MetaBase = 0xC0000000

	// MetaInvalid marks an unused cache slot; it is not a valid MetaAddr.
	MetaInvalid MetaAddr = 0

	// MetaLeafDepth is the depth of forward-map leaves.
	MetaLeafDepth = 2
)

// IsMetaAddr reports whether a raw reverse-map entry is a metadata address.
func IsMetaAddr(v uint32) bool {
	return v&MetaBase == MetaBase
}

// MakeMetaAddr assembles a metadata address.
func MakeMetaAddr(fd FileID, depth int, index uint32) MetaAddr {
	return MetaAddr(MetaBase | uint32(fd)<<22 | uint32(depth)<<20 | index&0xFFFFF)
}

// LeafMetaAddr returns the address of the leaf holding the map entry for ba.
func LeafMetaAddr(fd FileID, ba BlockAddr) MetaAddr {
	return MakeMetaAddr(fd, MetaLeafDepth, uint32(ba)>>10)
}

// FD returns the forward-map file the node belongs to.
func (ma MetaAddr) FD() FileID {
	return FileID(ma >> 22 & 3)
}

// Depth returns the node's tree level.
func (ma MetaAddr) Depth() int {
	return int(ma >> 20 & 3)
}

// Index returns the node's position within its level.
func (ma MetaAddr) Index() uint32 {
	return uint32(ma) & 0xFFFFF
}

// IndexAt returns the child slot this address selects within the node at the
// given level: level 0 reads index bits [10,20), level 1 bits [0,10).
func (ma MetaAddr) IndexAt(depth int) int {
	switch depth {
	case 0:
		return int(ma >> 10 & 0x3FF)
	case 1:
		return int(ma & 0x3FF)
	default:
		panic("logstor: bad indirect depth")
	}
}

// WithDepth returns the address with its depth field replaced.
func (ma MetaAddr) WithDepth(depth int) MetaAddr {
	return MetaAddr(uint32(ma)&^uint32(3<<20) | uint32(depth)<<20)
}

// WithIndexAt returns the address with the index bits of the given level
// replaced.
func (ma MetaAddr) WithIndexAt(depth, index int) MetaAddr {
	switch depth {
	case 0:
		return MetaAddr(uint32(ma)&0xFFF003FF | uint32(index)<<10)
	case 1:
		return MetaAddr(uint32(ma)&0xFFFFFC00 | uint32(index))
	default:
		panic("logstor: bad indirect depth")
	}
}

// String implements fmt.Stringer.
func (ma MetaAddr) String() string {
	return redact.StringWithoutMarkers(ma)
}

// SafeFormat implements redact.SafeFormatter.
func (ma MetaAddr) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("fd%d/d%d/%d", uint8(ma.FD()), ma.Depth(), ma.Index())
}
