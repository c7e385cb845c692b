// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetaAddrFields(t *testing.T) {
	ma := MakeMetaAddr(FDActive, 2, 0x2FF01)
	require.True(t, IsMetaAddr(uint32(ma)))
	require.Equal(t, FDActive, ma.FD())
	require.Equal(t, 2, ma.Depth())
	require.Equal(t, uint32(0x2FF01), ma.Index())

	require.False(t, IsMetaAddr(0))
	require.False(t, IsMetaAddr(0x3FFFFFFF))
	require.True(t, IsMetaAddr(uint32(MetaBase)))
}

func TestLeafMetaAddr(t *testing.T) {
	// Block 5 lives in leaf 0; block 1024 in leaf 1; block 1<<20 in leaf 1024.
	require.Equal(t, uint32(0), LeafMetaAddr(FDActive, 5).Index())
	require.Equal(t, uint32(1), LeafMetaAddr(FDActive, 1024).Index())
	require.Equal(t, uint32(1024), LeafMetaAddr(FDActive, 1<<20).Index())
	require.Equal(t, MetaLeafDepth, LeafMetaAddr(FDActive, 5).Depth())
}

func TestMetaAddrIndexAt(t *testing.T) {
	// A leaf covering blocks [I*1024, (I+1)*1024) has index I; its depth-1
	// offset is the low ten bits, its depth-0 offset the next ten.
	ma := LeafMetaAddr(FDActive, BlockAddr(5<<20|7<<10|3))
	require.Equal(t, 5, ma.IndexAt(0))
	require.Equal(t, 7, ma.IndexAt(1))

	tma := MakeMetaAddr(FDActive, 0, 0)
	tma = tma.WithIndexAt(0, 5)
	require.Equal(t, 5, tma.IndexAt(0))
	require.Equal(t, 0, tma.IndexAt(1))
	tma = tma.WithIndexAt(1, 7)
	require.Equal(t, 5, tma.IndexAt(0))
	require.Equal(t, 7, tma.IndexAt(1))

	tma = tma.WithDepth(1)
	require.Equal(t, 1, tma.Depth())
	require.Equal(t, FDActive, tma.FD())
}

func TestSectorAddrSegment(t *testing.T) {
	sa := SectorAddr(5*SectorsPerSeg + 17)
	require.Equal(t, SegmentID(5), sa.Segment())
	require.Equal(t, 17, sa.SegmentOffset())
	require.Equal(t, sa-17, SegmentID(5).SectorAddr())
}
