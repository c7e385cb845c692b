// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Check walks the whole forward map and verifies that every mapped block is
// acknowledged by the summary of the segment it points into. Dirty metadata
// and the open summaries are flushed first so the on-disk reverse maps are
// current; the walk itself only reads.
func (s *Store) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.flushMetadata(); err != nil {
		return err
	}
	if s.hot.allocP != 0 {
		if err := s.segSumWrite(&s.hot); err != nil {
			return err
		}
	}
	if s.cold.allocP != 0 {
		if err := s.segSumWrite(&s.cold); err != nil {
			return err
		}
	}

	var sum segSummary
	sumLoaded := base.SegmentID(0) // segment 0 is never a payload segment
	for ba := base.BlockAddr(0); uint32(ba) < s.sb.maxBlockCnt; ba++ {
		sa, err := s.fileEntry(base.FDActive, ba)
		if err != nil {
			return err
		}
		if sa == base.SectorNull || sa == base.SectorDelete {
			continue
		}
		seg, off := sa.Segment(), sa.SegmentOffset()
		if int32(seg) >= s.sb.segCnt || off == base.SegSummaryOff {
			return base.CorruptionErrorf("block %s maps to invalid sector %s", ba, sa)
		}
		if seg != sumLoaded {
			sum.sega = seg
			if err := s.segSumRead(&sum); err != nil {
				return err
			}
			sumLoaded = seg
		}
		if got := sum.rm[off]; got != uint32(ba) {
			return base.CorruptionErrorf(
				"block %s maps to sector %s, but segment %s records block %d there",
				ba, sa, seg, got)
		}
	}
	return nil
}
