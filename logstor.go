// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package logstor provides a log-structured block storage engine that sits
// between a virtual block device and a physical one. Fixed-size sector
// reads, writes and discards addressed by logical block address are
// translated into sequential writes on the backing device; stale locations
// are reclaimed by a segment cleaner.
package logstor

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Wuyang-Chung/logstor/device"
	"github.com/Wuyang-Chung/logstor/internal/base"
)

// Store is a log-structured block store over a Device.
//
// The core is single-writer and synchronous: operations are serialized at
// the store boundary, and at most one mutation of the in-memory state is in
// flight at any moment. The only internal parallelism is I/O fan-out to the
// device for physically discontiguous ranged reads.
type Store struct {
	opts *Options
	dev  device.Device

	mu     sync.Mutex
	closed bool

	sb      superblock
	sbSlot  uint32 // ring slot holding the current superblock
	sbDirty bool
	segAge  []uint8

	// Two segments are open at all times: hot receives user payload, cold
	// receives metadata flushes and cleaner survivors.
	hot  segSummary
	cold segSummary

	cleanerDisabled int
	cleanLowWater   int32
	cleanHighWater  int32

	fc fbufCache

	// Sector-sized staging buffers. scratch carries segment summaries,
	// metaBuf index blocks, cleanBuf payload copies during compaction; their
	// users never overlap within one call tree.
	scratch  [base.SectorSize]byte
	metaBuf  [base.SectorSize]byte
	cleanBuf [base.SectorSize]byte

	// Statistics.
	dataWriteCount   uint64 // user payload sectors written
	otherWriteCount  uint64 // metadata, summary, superblock, cleaner sectors
	deleteCount      uint64
	superblockWrites uint64
	summaryFlushes   uint64
	cleanerRuns      uint64
	segmentsCleaned  uint64
}

// BlockCount returns the number of addressable blocks. The device presented
// upstream has BlockCount × SectorSize bytes.
func (s *Store) BlockCount() uint32 {
	return s.sb.maxBlockCnt
}

// checkSpan validates a sector-aligned byte span and returns it as a block
// address and sector count.
func (s *Store) checkSpan(off, length int64) (base.BlockAddr, int, error) {
	if off < 0 || off%base.SectorSize != 0 {
		return 0, 0, base.InvalidArgf("offset %d not sector-aligned", off)
	}
	if length < 0 || length%base.SectorSize != 0 {
		return 0, 0, base.InvalidArgf("length %d not sector-aligned", length)
	}
	ba := off / base.SectorSize
	n := length / base.SectorSize
	if ba+n > int64(s.sb.maxBlockCnt) {
		return 0, 0, base.InvalidArgf("span [%d,%d) exceeds %d blocks",
			ba, ba+n, s.sb.maxBlockCnt)
	}
	return base.BlockAddr(ba), int(n), nil
}

// ReadAt implements io.ReaderAt over the logical block space. Offset and
// length must be multiples of SectorSize. Unwritten and deleted blocks read
// as zeroes.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	ba, n, err := s.checkSpan(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.readBlocks(ba, n, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// readBlocks resolves the span through the forward map, zero-fills holes,
// and coalesces physically contiguous runs into single device reads. The
// device reads of one span are issued concurrently; the map resolution that
// precedes them is not.
func (s *Store) readBlocks(ba base.BlockAddr, n int, p []byte) error {
	type run struct {
		sa  base.SectorAddr
		buf []byte
	}
	var runs []run
	flush := func(sa base.SectorAddr, start, end int) {
		buf := p[start*base.SectorSize : end*base.SectorSize]
		if sa == base.SectorNull || sa == base.SectorDelete {
			for i := range buf {
				buf[i] = 0
			}
			return
		}
		runs = append(runs, run{sa: sa, buf: buf})
	}

	startSA, err := s.fileEntry(base.FDActive, ba)
	if err != nil {
		return err
	}
	start, preSA := 0, startSA
	for i := 1; i < n; i++ {
		sa, err := s.fileEntry(base.FDActive, ba+base.BlockAddr(i))
		if err != nil {
			return err
		}
		if sa == preSA+1 {
			preSA = sa
			continue
		}
		flush(startSA, start, i)
		start, startSA, preSA = i, sa, sa
	}
	flush(startSA, start, n)

	switch len(runs) {
	case 0:
		return nil
	case 1:
		return s.dev.ReadAt(runs[0].sa, runs[0].buf)
	default:
		var g errgroup.Group
		for i := range runs {
			r := runs[i]
			g.Go(func() error {
				return s.dev.ReadAt(r.sa, r.buf)
			})
		}
		return g.Wait()
	}
}

// WriteAt implements io.WriterAt over the logical block space. Offset and
// length must be multiples of SectorSize. The write is durable only after
// the covering segment summary and a superblock have been persisted; Close
// persists both.
func (s *Store) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	ba, n, err := s.checkSpan(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.writeBlocks(ba, n, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// writeBlocks appends the span to the hot stream in segment-bounded chunks.
// Within a chunk the reverse map is recorded immediately after the data
// write is issued, and the forward map strictly after that, so a persisted
// summary always describes both the payload and where the updated map entry
// will land. A full segment is rotated only after the chunk's map entries
// are set, so a cleaner pass run by the rotation sees those blocks as live.
func (s *Store) writeBlocks(ba base.BlockAddr, n int, p []byte) error {
	hot := &s.hot
	for n > 0 {
		count := base.SegSummaryOff - int(hot.allocP)
		if n < count {
			count = n
		}
		sa := hot.sega.SectorAddr() + base.SectorAddr(hot.allocP)
		if err := s.dev.WriteAt(sa, p[:count*base.SectorSize]); err != nil {
			return err
		}
		s.dataWriteCount += uint64(count)
		for i := 0; i < count; i++ {
			hot.rm[hot.allocP] = uint32(ba) + uint32(i)
			hot.allocP++
		}
		if int(hot.allocP) == base.SegSummaryOff {
			if err := s.segRotate(hot); err != nil {
				return err
			}
		}
		for i := 0; i < count; i++ {
			if err := s.setFileEntry(base.FDActive, ba, sa); err != nil {
				return err
			}
			ba++
			sa++
		}
		p = p[count*base.SectorSize:]
		n -= count
	}
	return nil
}

// Delete discards the blocks in the given byte span: subsequent reads
// return zeroes and the freed sectors become reclaimable by the cleaner.
// The discard is not forwarded to the physical device.
func (s *Store) Delete(off, length int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ba, n, err := s.checkSpan(off, length)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := s.setFileEntry(base.FDActive, ba+base.BlockAddr(i), base.SectorDelete); err != nil {
			return err
		}
	}
	s.deleteCount++
	return nil
}

// SegmentInfo describes one segment for introspection.
type SegmentInfo struct {
	Segment base.SegmentID
	// State is "superblock", "hot", "cold", or "" for a pool segment.
	State string
	Age   uint8
	// Allocated is the number of payload sectors written into the segment.
	Allocated int
	// Live is the number of those sectors the forward map still points at.
	Live int
}

// SegmentUtilization scans every segment and probes its summary for live
// sectors, the same computation the cleaner scores candidates with. It is
// an introspection surface for tooling; the store is quiesced while it
// runs.
func (s *Store) SegmentUtilization() ([]SegmentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	infos := make([]SegmentInfo, 0, s.sb.segCnt)
	infos = append(infos, SegmentInfo{Segment: 0, State: "superblock"})
	var scan segSummary
	for seg := base.SegmentID(base.SegDataStart); int32(seg) < s.sb.segCnt; seg++ {
		info := SegmentInfo{Segment: seg, Age: s.segAge[seg]}
		var ss *segSummary
		switch seg {
		case s.hot.sega:
			info.State = "hot"
			ss = &s.hot
		case s.cold.sega:
			info.State = "cold"
			ss = &s.cold
		default:
			scan.sega = seg
			if err := s.segSumRead(&scan); err != nil {
				return nil, err
			}
			ss = &scan
		}
		if err := s.segLiveCount(ss); err != nil {
			return nil, err
		}
		info.Allocated = int(ss.allocP)
		info.Live = ss.liveCount
		infos = append(infos, info)
	}
	return infos, nil
}
