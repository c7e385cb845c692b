// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Wuyang-Chung/logstor/device"
	"github.com/Wuyang-Chung/logstor/internal/base"
)

func TestEventListener(t *testing.T) {
	var formats, allocs, cleanBegins, cleanEnds, sbWrites int
	opts := &Options{
		EventListener: EventListener{
			Format:            func(FormatInfo) { formats++ },
			SegmentAllocated:  func(SegmentAllocInfo) { allocs++ },
			CleanBegin:        func(CleanInfo) { cleanBegins++ },
			CleanEnd:          func(CleanInfo) { cleanEnds++ },
			SuperblockWritten: func(SuperblockWriteInfo) { sbWrites++ },
		},
	}
	dev := device.NewMem(testDeviceSectors)
	s, err := Open(dev, opts)
	require.NoError(t, err)
	require.Equal(t, 1, formats)
	require.Equal(t, 2, allocs) // hot and cold

	p := make([]byte, base.SectorSize)
	for i := 0; i < 10*base.BlocksPerSeg && cleanEnds == 0; i++ {
		p[0] = byte(i)
		_, err := s.WriteAt(p, 0)
		require.NoError(t, err)
	}
	require.NotZero(t, cleanBegins)
	require.Equal(t, cleanBegins, cleanEnds)
	require.Greater(t, allocs, 2)

	require.NoError(t, s.Close())
	require.Equal(t, 1, sbWrites)
}

func TestEventInfoStrings(t *testing.T) {
	require.Equal(t,
		"formatted 16384 sectors (16 segments, 13766 blocks addressable)",
		FormatInfo{SectorCount: 16384, SegmentCount: 16, MaxBlockCount: 13766}.String())
	require.Equal(t,
		"allocated hot segment s2 (12 free)",
		SegmentAllocInfo{Segment: 2, Stream: "hot", FreeSegments: 12}.String())
	require.Equal(t,
		"superblock gen 7 written to slot 3",
		SuperblockWriteInfo{Gen: 7, Slot: 3}.String())
}
