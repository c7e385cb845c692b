// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"github.com/Wuyang-Chung/logstor/internal/base"
	"github.com/Wuyang-Chung/logstor/internal/invariants"
)

// The segment cleaner runs synchronously on the write path when the free
// pool drains to the low-water mark, and compacts segments until the pool
// refills past the high-water mark. Candidates are scored by their live
// count: the number of summary slots whose recorded address still resolves
// to that slot. The cleaner keeps a sliding window of candidates and always
// compacts the coldest one; a candidate that survives a full round at or
// above the window's average is evicted and aged instead, so a segment full
// of hot data stops being rescanned until it has aged back in.

// cleanWatermarks derives the low/high thresholds from the pool size. The
// teacher values 2·W and 4·W assume a pool that dwarfs the window; a small
// pool clamps the high mark below the maximum reachable free count and keeps
// the low mark under half of it, so a pass can always terminate.
func cleanWatermarks(segCnt int32) (lo, hi int32) {
	maxFree := segCnt - base.SegDataStart - 2 // hot and cold are never free
	hi = 4 * base.CleanWindow
	if hi > maxFree-1 {
		hi = maxFree - 1
	}
	lo = 2 * base.CleanWindow
	if lo > hi/2 {
		lo = hi / 2
	}
	if lo < 1 {
		lo = 1
	}
	return lo, hi
}

// cleanCheck runs a cleaner pass if the free pool is at or below the
// low-water mark. Re-entry from the cleaner's own cold-stream appends is
// suppressed by the disable counter.
func (s *Store) cleanCheck() error {
	if s.opts.DisableCleaner {
		return nil
	}
	if s.sb.segFreeCnt > s.cleanLowWater || s.cleanerDisabled != 0 {
		return nil
	}
	s.cleanerDisabled++
	s.opts.EventListener.CleanBegin(CleanInfo{FreeSegments: s.sb.segFreeCnt})
	w := base.MakeStopwatch()
	cleaned0 := s.segmentsCleaned
	err := s.clean()
	s.cleanerDisabled--
	s.cleanerRuns++
	s.opts.EventListener.CleanEnd(CleanInfo{
		FreeSegments: s.sb.segFreeCnt,
		Cleaned:      int(s.segmentsCleaned - cleaned0),
		Duration:     w.Stop(),
		Err:          err,
	})
	return err
}

// segReclaimInit advances the reclaim pointer to the next candidate, ages
// it, and loads its summary and live count. The pointer stops at the
// allocation pointer and at the open hot segment; the open cold segment is
// passed over and held out of allocation until the pointer comes round to it
// again. Segments that reach the age limit are compacted on the spot.
// ss.sega == 0 signals that the pointer stopped or that compaction reached
// the high-water mark.
func (s *Store) segReclaimInit(ss *segSummary) error {
	for {
		sega := s.sb.segReclaimP
		if sega == s.sb.segAllocP || sega == s.hot.sega {
			// Caught up with the allocator, or with the segment it is
			// filling: nothing from here on can be reclaimed yet.
			ss.sega = 0
			return nil
		}
		s.sb.segReclaimP++
		if int32(s.sb.segReclaimP) == s.sb.segCnt {
			s.sb.segReclaimP = base.SegDataStart
		}
		s.sbDirty = true
		if sega == s.cold.sega {
			// Still being filled, and the pointer has now passed it: keep
			// it out of allocation once it closes.
			if s.segAge[sega] == 0 {
				s.segAge[sega] = 1
			}
			continue
		}
		// Hold the segment out of allocation until it is compacted.
		s.segAge[sega]++
		ss.sega = sega
		if err := s.segSumRead(ss); err != nil {
			s.segAge[sega]--
			return err
		}
		if int(s.segAge[sega]) >= base.CleanAgeLimit {
			if err := s.segClean(ss); err != nil {
				return err
			}
			if s.sb.segFreeCnt > s.cleanHighWater {
				ss.sega = 0
				return nil
			}
			continue
		}
		if err := s.segLiveCount(ss); err != nil {
			s.segAge[sega]--
			return err
		}
		return nil
	}
}

// segLiveCount probes every populated summary slot and counts the ones the
// forward map still points at.
func (s *Store) segLiveCount(ss *segSummary) error {
	segSA := ss.sega.SectorAddr()
	live := 0
	for i := 0; i < int(ss.allocP); i++ {
		cur, err := s.resolveSlot(ss.rm[i])
		if err != nil {
			return err
		}
		if cur == segSA+base.SectorAddr(i) {
			live++
		}
	}
	ss.liveCount = live
	return nil
}

// resolveSlot maps a reverse-map entry to the sector the forward map (or the
// metadata tree) currently assigns it.
func (s *Store) resolveSlot(addr uint32) (base.SectorAddr, error) {
	if base.IsMetaAddr(addr) {
		return s.ma2sa(base.MetaAddr(addr))
	}
	return s.fileEntry(base.FDActive, base.BlockAddr(addr))
}

// segClean compacts one segment: every live payload sector is rewritten
// through the cold stream (moving its mapping with it), every live metadata
// block is dirtied in cache so a later flush rewrites it, and everything
// stale is dropped. The segment then rejoins the free pool.
func (s *Store) segClean(ss *segSummary) error {
	segSA := ss.sega.SectorAddr()
	for i := 0; i < int(ss.allocP); i++ {
		addr := ss.rm[i]
		sa := segSA + base.SectorAddr(i)
		cur, err := s.resolveSlot(addr)
		if err != nil {
			return err
		}
		if cur != sa {
			continue // stale
		}
		if base.IsMetaAddr(addr) {
			buf, err := s.fbufGet(base.MetaAddr(addr))
			if err != nil {
				return err
			}
			if !buf.modified {
				buf.modified = true
				s.fc.modifiedCount++
				// A cold node won't be flushed by replacement any time
				// soon; write it out now so the segment really empties.
				if !buf.accessed {
					if err := s.fbufFlush(buf); err != nil {
						return err
					}
				}
			}
		} else {
			buf := s.cleanBuf[:]
			if err := s.dev.ReadAt(sa, buf); err != nil {
				return err
			}
			nsa, err := s.appendOne(&s.cold, addr, buf)
			if err != nil {
				return err
			}
			if err := s.setFileEntry(base.FDActive, base.BlockAddr(addr), nsa); err != nil {
				return err
			}
		}
	}
	s.segAge[ss.sega] = 0
	s.sb.segFreeCnt++
	s.sbDirty = true
	s.segmentsCleaned++
	invariants.Assert(s.sb.segFreeCnt < s.sb.segCnt, "free count exceeds the pool")
	return nil
}

// clean is the window scan. It keeps CleanWindow candidates, repeatedly
// compacts the one with the fewest live sectors, and backfills the window.
// The head of the window is inspected once per round: if it survived a full
// round with at least an average live count it is aged and evicted rather
// than compacted. On exit, leftover candidates that are mostly garbage are
// compacted too.
func (s *Store) clean() error {
	var candidates [base.CleanWindow]segSummary
	window := make([]*segSummary, 0, base.CleanWindow)
	sweep := func() error {
		for _, ss := range window {
			if 2*ss.liveCount < base.BlocksPerSeg {
				if err := s.segClean(ss); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for i := range candidates {
		ss := &candidates[i]
		if err := s.segReclaimInit(ss); err != nil {
			return err
		}
		if ss.sega == 0 {
			return sweep()
		}
		window = append(window, ss)
	}

	remove := func(ss *segSummary) {
		for i, w := range window {
			if w == ss {
				window = append(window[:i], window[i+1:]...)
				return
			}
		}
		panic("logstor: cleaner candidate not in the window")
	}

	var prevHead *segSummary
	for {
		// Score the window.
		min, sum := -1, 0
		var toClean *segSummary
		for _, ss := range window {
			sum += ss.liveCount
			if min < 0 || ss.liveCount < min {
				min = ss.liveCount
				toClean = ss
			}
		}
		avg := (sum - min) / (base.CleanWindow - 1)

		headDone := false
		compact := true
		for {
			if compact {
				remove(toClean)
				if err := s.segClean(toClean); err != nil {
					return err
				}
				if s.sb.segFreeCnt > s.cleanHighWater {
					return sweep()
				}
			}
			if err := s.segReclaimInit(toClean); err != nil {
				return err
			}
			if toClean.sega == 0 {
				return sweep()
			}
			window = append(window, toClean)
			if headDone {
				break
			}

			head := window[0]
			if head != prevHead {
				prevHead = head
				break
			}
			// The head survived a full round. Keep the window moving: age it
			// out if it is no colder than the rest, otherwise compact it.
			if len(window) > 1 {
				prevHead = window[1]
			} else {
				prevHead = nil
			}
			headDone = true
			toClean = head
			if head.liveCount >= avg {
				s.segAge[head.sega]++
				remove(head)
				compact = false
				continue
			}
			compact = true
		}
	}
}
