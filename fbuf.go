// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"encoding/binary"

	"github.com/cockroachdb/swiss"

	"github.com/Wuyang-Chung/logstor/internal/base"
	"github.com/Wuyang-Chung/logstor/internal/invariants"
)

// The metadata cache holds forward-map index blocks, one per slot. Slots are
// allocated once at open and recycled in place by a second-chance sweep over
// a circular list. A node whose children are cached must not be recycled: it
// is pinned on a per-depth indirect list, guarded by refCnt, and returns to
// the circular list when its last cached child goes away.
//
// Dirty nodes are rewritten into the cold stream; the new sector address
// propagates into the parent (or the superblock root table for depth 0),
// dirtying it in turn.

type fbufList uint8

const (
	listCircular fbufList = iota + 1
	listIndirect
)

// fbuf is one cache slot.
type fbuf struct {
	next, prev *fbuf
	onList     fbufList

	// refCnt counts cached children; only meaningful while pinned on an
	// indirect list.
	refCnt   uint16
	accessed bool
	modified bool

	// parent is a weak back-reference: the parent is pinned while this node
	// is cached, never the other way around.
	parent *fbuf

	ma   base.MetaAddr
	data [base.SectorSize / 4]uint32
}

type fbufCache struct {
	slots []fbuf
	m     swiss.Map[uint32, *fbuf]

	// cirHead is the next candidate of the second-chance sweep.
	cirHead  *fbuf
	indirect [base.MetaLeafDepth]*fbuf

	modifiedCount int
	hits, misses  uint64
}

// minFbufCount bounds the cache from below: a descent touches up to three
// levels, and the circular list must keep replacement candidates available.
const minFbufCount = 16

// fbufInit sizes the cache off max_block_cnt: one slot per forward-map leaf
// covering the device, scaled by the configured ratio.
func (s *Store) fbufInit() {
	count := int(float64(s.sb.maxBlockCnt)/(base.SectorSize/4)*s.opts.MetadataCacheRatio) + 1
	if count < minFbufCount {
		count = minFbufCount
	}
	c := &s.fc
	c.slots = make([]fbuf, count)
	c.m.Init(count)
	for i := range c.slots {
		buf := &c.slots[i]
		buf.next = &c.slots[(i+1)%count]
		buf.prev = &c.slots[(i+count-1)%count]
		buf.onList = listCircular
		buf.ma = base.MetaInvalid
	}
	c.cirHead = &c.slots[0]
}

func (s *Store) fbufClose() {
	s.fc.m.Close()
	s.fc.slots = nil
	s.fc.cirHead = nil
}

// cirInsert puts buf at the tail of the circular list, just before the next
// sweep candidate.
func (c *fbufCache) cirInsert(buf *fbuf) {
	invariants.Assert(buf.onList == 0, "fbuf already on a list")
	if head := c.cirHead; head == nil {
		buf.next, buf.prev = buf, buf
		c.cirHead = buf
	} else {
		prev := head.prev
		prev.next = buf
		buf.prev = prev
		buf.next = head
		head.prev = buf
	}
	buf.onList = listCircular
}

func (c *fbufCache) cirRemove(buf *fbuf) {
	invariants.Assert(buf.onList == listCircular, "fbuf not on the circular list")
	if buf == c.cirHead {
		c.cirHead = buf.next
	}
	if buf.next == buf {
		c.cirHead = nil
	} else {
		buf.prev.next = buf.next
		buf.next.prev = buf.prev
	}
	buf.next, buf.prev = nil, nil
	buf.onList = 0
}

func (c *fbufCache) indirInsert(depth int, buf *fbuf) {
	invariants.Assert(buf.onList == 0, "fbuf already on a list")
	head := c.indirect[depth]
	buf.prev = nil
	buf.next = head
	if head != nil {
		head.prev = buf
	}
	c.indirect[depth] = buf
	buf.onList = listIndirect
}

func (c *fbufCache) indirRemove(buf *fbuf) {
	invariants.Assert(buf.onList == listIndirect, "fbuf not on an indirect list")
	depth := buf.ma.Depth()
	if buf.prev != nil {
		buf.prev.next = buf.next
	} else {
		c.indirect[depth] = buf.next
	}
	if buf.next != nil {
		buf.next.prev = buf.prev
	}
	buf.next, buf.prev = nil, nil
	buf.onList = 0
}

// fbufLookup returns the cached node for ma, maintaining hit/miss counters.
func (s *Store) fbufLookup(ma base.MetaAddr) *fbuf {
	if buf, ok := s.fc.m.Get(uint32(ma)); ok {
		s.fc.hits++
		return buf
	}
	s.fc.misses++
	return nil
}

// fbufUnpin drops one child reference from a pinned node. At zero the node
// is demoted to the circular list as the next sweep candidate, with its
// accessed bit cleared, so it is the preferred next replacement victim.
func (s *Store) fbufUnpin(pbuf *fbuf) {
	invariants.Assert(pbuf.onList == listIndirect, "unpin of an unpinned fbuf")
	pbuf.refCnt--
	if pbuf.refCnt == 0 {
		s.fc.indirRemove(pbuf)
		s.fc.cirInsert(pbuf)
		s.fc.cirHead = pbuf
		pbuf.accessed = false
	}
}

// fbufGet returns the cache node for ma, descending from the root and
// loading missing levels on demand. Nodes visited on the way down are
// pinned before their children are loaded, so a recycling flush can never
// evict a parent out from under the descent.
func (s *Store) fbufGet(ma base.MetaAddr) (*fbuf, error) {
	invariants.Assert(base.IsMetaAddr(uint32(ma)), "fbufGet of a non-metadata address")
	if buf := s.fbufLookup(ma); buf != nil {
		return buf, nil
	}

	sa := s.sb.ftab[ma.FD()]
	var pbuf *fbuf
	tma := base.MakeMetaAddr(ma.FD(), 0, 0)
	for depth := 0; ; depth++ {
		tma = tma.WithDepth(depth)
		buf := s.fbufLookup(tma)
		if buf == nil {
			var err error
			buf, err = s.fbufReadAndHash(sa, tma)
			if err != nil {
				if pbuf != nil {
					// Drop the reference taken below in anticipation of this
					// load.
					s.fbufUnpin(pbuf)
				}
				return nil, err
			}
			buf.parent = pbuf
		} else if pbuf != nil {
			// The child was cached after all; the parent's reference was
			// already taken when the child was first loaded, so compensate
			// the increment of the previous iteration.
			invariants.Assert(buf.parent == pbuf, "cached child with a different parent")
			invariants.Assert(pbuf.refCnt > 1, "pinned parent would lose its last reference")
			pbuf.refCnt--
		}
		if depth == ma.Depth() {
			return buf, nil
		}

		if buf.onList == listCircular {
			s.fc.cirRemove(buf)
			s.fc.indirInsert(depth, buf)
			buf.refCnt = 0
		}
		// Hold a reference so the recycling inside fbufReadAndHash cannot
		// touch this node while its child loads.
		buf.refCnt++

		index := ma.IndexAt(depth)
		tma = tma.WithIndexAt(depth, index)
		sa = base.SectorAddr(buf.data[index])
		pbuf = buf
	}
}

// fbufAlloc recycles a cache slot using the second-chance sweep: the first
// non-accessed entry after cirHead is chosen, flushed if dirty, and detached
// from its parent. The slot stays on the circular list; the caller replaces
// its identity in place.
func (s *Store) fbufAlloc() (*fbuf, error) {
	buf := s.fc.cirHead
	if buf == nil {
		panic("logstor: metadata cache exhausted by pinned nodes")
	}
	for buf.accessed {
		buf.accessed = false
		buf = buf.next
		if buf == s.fc.cirHead {
			break
		}
	}
	s.fc.cirHead = buf.next
	if buf.modified {
		if err := s.fbufFlush(buf); err != nil {
			return nil, err
		}
	}
	if pbuf := buf.parent; pbuf != nil {
		buf.parent = nil
		s.fbufUnpin(pbuf)
	}
	return buf, nil
}

// fbufReadAndHash recycles a slot, fills it with the index block at sa (or
// zeroes for SectorNull) and rekeys it to ma.
func (s *Store) fbufReadAndHash(sa base.SectorAddr, ma base.MetaAddr) (*fbuf, error) {
	buf, err := s.fbufAlloc()
	if err != nil {
		return nil, err
	}
	// Shed the old identity before the read: a failed read must leave an
	// orphaned slot, not a cached node with a detached parent.
	if buf.ma != base.MetaInvalid {
		s.fc.m.Delete(uint32(buf.ma))
		buf.ma = base.MetaInvalid
	}
	if sa == base.SectorNull {
		// The node does not exist yet; an empty block maps every child to
		// SectorNull.
		buf.data = [base.SectorSize / 4]uint32{}
	} else {
		b := s.metaBuf[:]
		if err := s.dev.ReadAt(sa, b); err != nil {
			return nil, err
		}
		for i := range buf.data {
			buf.data[i] = binary.LittleEndian.Uint32(b[4*i:])
		}
	}
	buf.ma = ma
	s.fc.m.Put(uint32(ma), buf)
	return buf, nil
}

// fbufFlush rewrites a dirty node into the cold stream and hooks the new
// location into its parent, or into the superblock root table for a root.
func (s *Store) fbufFlush(buf *fbuf) error {
	invariants.Assert(buf.modified, "flush of a clean fbuf")
	b := s.metaBuf[:]
	for i, v := range buf.data {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	sa, err := s.appendOne(&s.cold, uint32(buf.ma), b)
	if err != nil {
		return err
	}
	buf.modified = false
	s.fc.modifiedCount--

	if buf.ma.Depth() == 0 {
		s.sb.ftab[buf.ma.FD()] = sa
		s.sbDirty = true
		return nil
	}
	pbuf := buf.parent
	invariants.Assert(pbuf != nil, "non-root fbuf without a cached parent")
	invariants.Assert(pbuf.ma.Depth() == buf.ma.Depth()-1, "parent at the wrong depth")
	pbuf.data[buf.ma.IndexAt(buf.ma.Depth()-1)] = uint32(sa)
	if !pbuf.modified {
		pbuf.modified = true
		s.fc.modifiedCount++
	}
	return nil
}

// flushMetadata writes out every dirty node: first the circular list (leaves
// and unpinned nodes), then the indirect lists from the deepest level up, so
// a child's new address always lands in its parent before the parent itself
// is written.
func (s *Store) flushMetadata() error {
	if head := s.fc.cirHead; head != nil {
		buf := head
		for {
			invariants.Assert(buf.onList == listCircular, "pinned fbuf on the circular list")
			if buf.modified {
				if err := s.fbufFlush(buf); err != nil {
					return err
				}
			}
			buf = buf.next
			if buf == head {
				break
			}
		}
	}
	for depth := base.MetaLeafDepth - 1; depth >= 0; depth-- {
		for buf := s.fc.indirect[depth]; buf != nil; buf = buf.next {
			invariants.Assert(buf.onList == listIndirect, "unpinned fbuf on an indirect list")
			if buf.modified {
				if err := s.fbufFlush(buf); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ma2sa resolves a metadata address to the sector its current copy occupies,
// as recorded in its parent (or the root table). Used by the cleaner's
// liveness probe.
func (s *Store) ma2sa(ma base.MetaAddr) (base.SectorAddr, error) {
	if ma.Depth() == 0 {
		return s.sb.ftab[ma.FD()], nil
	}
	buf, err := s.fbufGet(ma)
	if err != nil {
		return base.SectorNull, err
	}
	pbuf := buf.parent
	invariants.Assert(pbuf != nil, "non-root fbuf without a cached parent")
	return base.SectorAddr(pbuf.data[ma.IndexAt(ma.Depth()-1)]), nil
}
