// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"encoding/binary"

	"github.com/Wuyang-Chung/logstor/internal/base"
	"github.com/Wuyang-Chung/logstor/internal/invariants"
)

// segSummary is the in-memory state of an open or scanned segment. The
// on-disk form occupies the segment's last sector: the reverse map followed
// by a generation stamp and the allocation pointer, replacing the unused
// last reverse-map slot.
type segSummary struct {
	// rm maps each payload offset to the BlockAddr (or raw MetaAddr) whose
	// data was appended there.
	rm     [base.BlocksPerSeg]uint32
	gen    uint16
	allocP uint16

	// In-memory only.
	sega      base.SegmentID
	liveCount int
}

func (ss *segSummary) encode(buf []byte) {
	for i, v := range ss.rm {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	binary.LittleEndian.PutUint16(buf[4*base.BlocksPerSeg:], ss.gen)
	binary.LittleEndian.PutUint16(buf[4*base.BlocksPerSeg+2:], ss.allocP)
}

func (ss *segSummary) decode(buf []byte) {
	for i := range ss.rm {
		ss.rm[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	ss.gen = binary.LittleEndian.Uint16(buf[4*base.BlocksPerSeg:])
	ss.allocP = binary.LittleEndian.Uint16(buf[4*base.BlocksPerSeg+2:])
	// A segment that was never written holds arbitrary bytes where its
	// summary would be. Clamp the allocation pointer so liveness probing
	// stays in bounds; the junk entries resolve as stale.
	if ss.allocP > base.BlocksPerSeg {
		ss.allocP = base.BlocksPerSeg
	}
}

// segSumRead loads the summary of segment ss.sega from disk.
func (s *Store) segSumRead(ss *segSummary) error {
	sa := ss.sega.SectorAddr() + base.SegSummaryOff
	buf := s.scratch[:]
	if err := s.dev.ReadAt(sa, buf); err != nil {
		return err
	}
	ss.decode(buf)
	return nil
}

// segSumWrite persists the summary at the end of its segment, stamped with
// the current superblock generation.
func (s *Store) segSumWrite(ss *segSummary) error {
	sa := ss.sega.SectorAddr() + base.SegSummaryOff
	ss.gen = s.sb.gen
	buf := s.scratch[:]
	ss.encode(buf)
	if err := s.dev.WriteAt(sa, buf); err != nil {
		return err
	}
	s.otherWriteCount++
	s.summaryFlushes++
	return nil
}

// segAlloc opens a fresh segment for the stream owned by ss: it advances the
// allocation pointer past the cold segment and past aged segments, resets
// the summary, and consumes one free segment.
func (s *Store) segAlloc(ss *segSummary) error {
	hot, cold := s.hot.sega, s.cold.sega
	for tries := int32(0); tries < s.sb.segCnt; tries++ {
		sega := s.sb.segAllocP
		s.sb.segAllocP++
		if int32(s.sb.segAllocP) == s.sb.segCnt {
			s.sb.segAllocP = base.SegDataStart
		}
		invariants.Assert(s.sb.segAllocP+1 != s.sb.segReclaimP,
			"allocation pointer lapped the reclaim pointer")
		if sega == hot || sega == cold {
			continue
		}
		if s.segAge[sega] != 0 {
			// Not reclaimed yet.
			continue
		}
		ss.sega = sega
		ss.allocP = 0
		ss.liveCount = 0
		s.sb.segFreeCnt--
		s.sbDirty = true
		if s.sb.segFreeCnt <= 0 {
			return ErrExhausted
		}
		stream := "cold"
		if ss == &s.hot {
			stream = "hot"
		}
		s.opts.EventListener.SegmentAllocated(SegmentAllocInfo{
			Segment:      sega,
			Stream:       stream,
			FreeSegments: s.sb.segFreeCnt,
		})
		return nil
	}
	return ErrExhausted
}

// segRotate closes the full segment owned by ss and opens its replacement.
// Only the hot stream checks the cleaner watermark: the cold stream is fed
// by the cleaner and the metadata flusher, which must not re-enter cleaning.
func (s *Store) segRotate(ss *segSummary) error {
	if err := s.segSumWrite(ss); err != nil {
		return err
	}
	if err := s.segAlloc(ss); err != nil {
		return err
	}
	if ss == &s.hot {
		return s.cleanCheck()
	}
	return nil
}

// appendOne appends a single payload sector carrying addr (a BlockAddr or a
// raw MetaAddr) to the stream owned by ss, returning the sector address
// chosen. The reverse-map slot is recorded immediately after the data write;
// if the segment fills, the summary is flushed and a new segment opened. The
// caller is responsible for the forward-map update.
//
// appendOne feeds the cold stream: metadata flushes and cleaner survivors.
// User payload goes through the front end's chunked write path.
func (s *Store) appendOne(ss *segSummary, addr uint32, data []byte) (base.SectorAddr, error) {
	invariants.Assert(int(ss.allocP) < base.SegSummaryOff, "append into a full segment")
	sa := ss.sega.SectorAddr() + base.SectorAddr(ss.allocP)
	if err := s.dev.WriteAt(sa, data); err != nil {
		return base.SectorNull, err
	}
	s.otherWriteCount++
	ss.rm[ss.allocP] = addr
	ss.allocP++
	if int(ss.allocP) == base.SegSummaryOff {
		if err := s.segRotate(ss); err != nil {
			return base.SectorNull, err
		}
	}
	return sa, nil
}
