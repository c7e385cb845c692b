// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/Wuyang-Chung/logstor/device"
	"github.com/Wuyang-Chung/logstor/internal/base"
)

var errMemInjected = errors.New("injected device error")

func TestCleanWatermarks(t *testing.T) {
	// A large pool keeps the 2W/4W defaults.
	lo, hi := cleanWatermarks(1024)
	require.EqualValues(t, 2*base.CleanWindow, lo)
	require.EqualValues(t, 4*base.CleanWindow, hi)

	// A 16-segment pool clamps: at most 13 segments can ever be free, so
	// the high mark must sit below that and the low mark below half of it.
	lo, hi = cleanWatermarks(16)
	require.EqualValues(t, 12, hi)
	require.EqualValues(t, 6, lo)
	require.Less(t, lo, hi)
}

// TestCleanerProgress is the end-to-end cleaning scenario: overwriting one
// block until the pool drains must trigger synchronous cleaner passes that
// keep the pool above the low-water mark without disturbing the data.
func TestCleanerProgress(t *testing.T) {
	dev := device.NewMem(testDeviceSectors)
	s, err := Open(dev, nil)
	require.NoError(t, err)
	defer s.Close()

	p := make([]byte, base.SectorSize)
	last := byte(0)
	// Enough single-block overwrites to fill the pool several times.
	for i := 0; i < 12*base.BlocksPerSeg; i++ {
		last = byte(i)
		p[0], p[1] = last, byte(i>>8)
		_, err := s.WriteAt(p, 0)
		require.NoError(t, err)
	}
	m := s.Metrics()
	require.NotZero(t, m.CleanerRuns)
	require.NotZero(t, m.SegmentsCleaned)
	require.Greater(t, m.FreeSegments, int32(s.cleanLowWater))

	got := make([]byte, base.SectorSize)
	_, err = s.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, last, got[0])

	require.NoError(t, s.Check())
}

// TestCleanerPreservesColdData floods the store with overwrites of a small
// working set while a larger cold set sits untouched; after cleaning, the
// cold set must be intact at the addresses the forward map now reports.
func TestCleanerPreservesColdData(t *testing.T) {
	dev := device.NewMem(testDeviceSectors)
	s, err := Open(dev, nil)
	require.NoError(t, err)
	defer s.Close()

	// Cold data: 2000 distinct blocks, each tagged with its address.
	cold := make([]byte, base.SectorSize)
	for ba := 100; ba < 2100; ba++ {
		cold[0], cold[1], cold[2] = byte(ba), byte(ba>>8), 0xCD
		_, err := s.WriteAt(cold, int64(ba)*base.SectorSize)
		require.NoError(t, err)
	}

	// Hot churn on block 0 until cleaning has happened a few times.
	p := make([]byte, base.SectorSize)
	for i := 0; s.Metrics().SegmentsCleaned < 20; i++ {
		p[0] = byte(i)
		_, err := s.WriteAt(p, 0)
		require.NoError(t, err)
		require.Less(t, i, 100*base.BlocksPerSeg, "cleaner made no progress")
	}

	for ba := 100; ba < 2100; ba++ {
		got := make([]byte, base.SectorSize)
		_, err := s.ReadAt(got, int64(ba)*base.SectorSize)
		require.NoError(t, err)
		require.Equal(t, byte(ba), got[0])
		require.Equal(t, byte(ba>>8), got[1])
		require.Equal(t, byte(0xCD), got[2])
	}
	require.NoError(t, s.Check())
}

// TestCleanerQuiescence: a cleaner pass over a quiet store must not change
// what any read returns.
func TestCleanerQuiescence(t *testing.T) {
	dev := device.NewMem(testDeviceSectors)
	s, err := Open(dev, nil)
	require.NoError(t, err)
	defer s.Close()

	p := make([]byte, base.SectorSize)
	for ba := 0; ba < 3500; ba++ {
		p[0], p[1] = byte(ba), byte(ba>>8)
		_, err := s.WriteAt(p, int64(ba)*base.SectorSize)
		require.NoError(t, err)
	}

	// Force a full pass regardless of the watermark.
	s.cleanerDisabled++
	require.NoError(t, s.clean())
	s.cleanerDisabled--

	for ba := 0; ba < 3500; ba++ {
		got := make([]byte, base.SectorSize)
		_, err := s.ReadAt(got, int64(ba)*base.SectorSize)
		require.NoError(t, err)
		require.Equal(t, byte(ba), got[0])
		require.Equal(t, byte(ba>>8), got[1])
	}
}

// TestWriteExhaustsPool: with the cleaner disabled, overwriting one block
// must drain the pool to ErrExhausted.
func TestWriteExhaustsPool(t *testing.T) {
	s, _ := testOpen(t, testDeviceSectors)
	defer s.Close()

	p := make([]byte, base.SectorSize)
	var err error
	for i := 0; i < 20*base.BlocksPerSeg; i++ {
		p[0] = byte(i)
		if _, err = s.WriteAt(p, 0); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrExhausted)
}

// TestCleanerIOErrorAborts: a device failure mid-pass surfaces as an IO
// error on the triggering write.
func TestCleanerIOErrorAborts(t *testing.T) {
	dev := device.NewMem(testDeviceSectors)
	s, err := Open(dev, nil)
	require.NoError(t, err)

	p := make([]byte, base.SectorSize)
	var werr error
	for i := 0; i < 12*base.BlocksPerSeg; i++ {
		if s.sb.segFreeCnt == s.cleanLowWater+1 && s.hot.allocP > base.BlocksPerSeg-2 {
			// The next rotation triggers the cleaner; fail its reads.
			dev.ReadErr = errMemInjected
		}
		p[0] = byte(i)
		if _, werr = s.WriteAt(p, 0); werr != nil {
			break
		}
	}
	require.Error(t, werr)
	require.ErrorIs(t, werr, ErrIO)
}
