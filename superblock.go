// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"encoding/binary"

	"golang.org/x/exp/rand"

	"github.com/Wuyang-Chung/logstor/internal/base"
)

// The first segment of the device is a ring of superblock copies, one per
// sector. Opening reads forward from slot 0 while each slot's generation is
// one above the previous slot's and adopts the last slot of that run;
// closing writes the next slot. A torn write to any slot but slot 0
// therefore leaves the previous slot as the root; a torn slot 0 makes the
// ring unreadable, and Open formats the device afresh.
const (
	superblockMagic = 0x4C4F4753 // "LOGS"
	verMajor        = 0
	verMinor        = 1

	// Fixed-size prefix of the on-disk superblock; seg_age[seg_cnt] follows.
	superblockFixedSize = 40
)

// superblock is the root of all persistent state: the segment-pool pointers
// and the forward-map root table. seg_age lives beside it in Store.
type superblock struct {
	gen         uint16
	maxBlockCnt uint32
	segCnt      int32
	segFreeCnt  int32
	segAllocP   base.SegmentID
	segReclaimP base.SegmentID
	ftab        [base.FDCount]base.SectorAddr
}

func (sb *superblock) encode(buf []byte, segAge []uint8) {
	binary.LittleEndian.PutUint32(buf[0:4], superblockMagic)
	buf[4] = verMajor
	buf[5] = verMinor
	binary.LittleEndian.PutUint16(buf[6:8], sb.gen)
	binary.LittleEndian.PutUint32(buf[8:12], sb.maxBlockCnt)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(sb.segCnt))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(sb.segFreeCnt))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(sb.segAllocP))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sb.segReclaimP))
	for i := range sb.ftab {
		binary.LittleEndian.PutUint32(buf[28+4*i:32+4*i], uint32(sb.ftab[i]))
	}
	copy(buf[superblockFixedSize:], segAge)
}

// decode parses and structurally validates one superblock sector. The seg_age
// array is returned as a sub-slice of buf.
func (sb *superblock) decode(buf []byte) ([]uint8, error) {
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != superblockMagic {
		return nil, base.FormatErrorf("bad signature %#x", sig)
	}
	if buf[4] != verMajor {
		return nil, base.FormatErrorf("unsupported version %d.%d", buf[4], buf[5])
	}
	sb.gen = binary.LittleEndian.Uint16(buf[6:8])
	sb.maxBlockCnt = binary.LittleEndian.Uint32(buf[8:12])
	sb.segCnt = int32(binary.LittleEndian.Uint32(buf[12:16]))
	sb.segFreeCnt = int32(binary.LittleEndian.Uint32(buf[16:20]))
	sb.segAllocP = base.SegmentID(binary.LittleEndian.Uint32(buf[20:24]))
	sb.segReclaimP = base.SegmentID(binary.LittleEndian.Uint32(buf[24:28]))
	for i := range sb.ftab {
		sb.ftab[i] = base.SectorAddr(binary.LittleEndian.Uint32(buf[28+4*i : 32+4*i]))
	}
	switch {
	case sb.segCnt <= base.SegDataStart:
		return nil, base.FormatErrorf("segment count %d out of range", sb.segCnt)
	case superblockFixedSize+int(sb.segCnt) > base.SectorSize:
		return nil, base.FormatErrorf("segment count %d overflows the superblock", sb.segCnt)
	case sb.segAllocP < base.SegDataStart || int32(sb.segAllocP) >= sb.segCnt:
		return nil, base.FormatErrorf("allocation pointer %s out of range", sb.segAllocP)
	case sb.segReclaimP < base.SegDataStart || int32(sb.segReclaimP) >= sb.segCnt:
		return nil, base.FormatErrorf("reclaim pointer %s out of range", sb.segReclaimP)
	case sb.segFreeCnt < 0 || sb.segFreeCnt >= sb.segCnt:
		return nil, base.FormatErrorf("free count %d out of range", sb.segFreeCnt)
	}
	return buf[superblockFixedSize : superblockFixedSize+int(sb.segCnt)], nil
}

// superblockRead scans the ring for the current superblock: the last slot
// whose generation is exactly one above its predecessor's, starting from a
// valid slot 0.
func (s *Store) superblockRead() error {
	buf := make([]byte, base.SectorSize)
	if err := s.dev.ReadAt(0, buf); err != nil {
		return err
	}
	age, err := s.sb.decode(buf)
	if err != nil {
		return err
	}
	if uint32(s.sb.segCnt) > s.dev.SectorCount()/base.SectorsPerSeg {
		return base.FormatErrorf("segment count %d exceeds the device", s.sb.segCnt)
	}
	s.segAge = append([]uint8(nil), age...)
	s.sbSlot = 0

	prev := s.sb
	for i := uint32(1); i < base.SectorsPerSeg; i++ {
		if err := s.dev.ReadAt(base.SectorAddr(i), buf); err != nil {
			return err
		}
		var next superblock
		age, err := next.decode(buf)
		if err != nil {
			break
		}
		if next.gen != prev.gen+1 { // uint16 wrap intended
			break
		}
		if uint32(next.segCnt) > s.dev.SectorCount()/base.SectorsPerSeg {
			break
		}
		prev = next
		s.sb = next
		s.segAge = append(s.segAge[:0], age...)
		s.sbSlot = i
	}
	s.sbDirty = false
	return nil
}

// superblockWrite persists the in-memory superblock into the next ring slot
// with the next generation.
func (s *Store) superblockWrite() error {
	s.sb.gen++
	s.sbSlot++
	if s.sbSlot == base.SectorsPerSeg {
		s.sbSlot = 0
	}
	buf := make([]byte, base.SectorSize)
	s.sb.encode(buf, s.segAge)
	if err := s.dev.WriteAt(base.SectorAddr(s.sbSlot), buf); err != nil {
		return err
	}
	s.otherWriteCount++
	s.superblockWrites++
	s.sbDirty = false
	s.opts.EventListener.SuperblockWritten(SuperblockWriteInfo{Gen: s.sb.gen, Slot: s.sbSlot})
	return nil
}

// superblockInit lays out a fresh store on the device: slot 0 of the ring
// with a random starting generation, an empty root table, and a zeroed age
// array. The physical device must have room for the forward-map metadata of
// every addressable block; max_block_cnt keeps a 10% reserve on top of that.
func (s *Store) superblockInit() error {
	sectorCnt := s.dev.SectorCount()
	segCnt := int32(sectorCnt / base.SectorsPerSeg)
	if segCnt <= base.SegDataStart {
		return base.InvalidArgf("device too small: %d sectors", sectorCnt)
	}
	if superblockFixedSize+int(segCnt) > base.SectorSize {
		return base.InvalidArgf("device too large: %d segments overflow the superblock", segCnt)
	}
	freeCnt := segCnt - base.SegDataStart
	metaSectors := int64(sectorCnt) / (base.SectorSize / 4) * int64(base.FDCount)
	blockCnt := int64(freeCnt)*base.BlocksPerSeg - metaSectors
	if blockCnt <= 0 {
		return base.InvalidArgf("device too small for forward-map metadata: %d sectors", sectorCnt)
	}

	s.sb = superblock{
		gen:         uint16(rand.Uint32()),
		maxBlockCnt: uint32(float64(blockCnt) * 0.9),
		segCnt:      segCnt,
		segFreeCnt:  freeCnt,
		segAllocP:   base.SegDataStart,
		segReclaimP: base.SegDataStart,
	}
	for i := range s.sb.ftab {
		s.sb.ftab[i] = base.SectorNull
	}
	s.segAge = make([]uint8, segCnt)
	s.sbSlot = 0

	buf := make([]byte, base.SectorSize)
	s.sb.encode(buf, s.segAge)
	if err := s.dev.WriteAt(0, buf); err != nil {
		return err
	}
	s.sbDirty = false
	s.opts.EventListener.Format(FormatInfo{
		SectorCount:   sectorCnt,
		SegmentCount:  segCnt,
		MaxBlockCount: s.sb.maxBlockCnt,
	})
	return nil
}
