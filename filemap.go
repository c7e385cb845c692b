// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"github.com/Wuyang-Chung/logstor/internal/base"
	"github.com/Wuyang-Chung/logstor/internal/invariants"
)

// The forward map of each file is a three-level tree of index blocks: the
// root covers 1024 depth-1 nodes, each of those 1024 leaves, each leaf 1024
// map entries. A map entry is the 4-byte sector address of its block, or
// SectorNull / SectorDelete.

// fileEntry returns the forward-map entry for ba in the given file.
func (s *Store) fileEntry(fd base.FileID, ba base.BlockAddr) (base.SectorAddr, error) {
	invariants.Assert(!base.IsMetaAddr(uint32(ba)), "map access with a metadata address")
	buf, err := s.fbufGet(base.LeafMetaAddr(fd, ba))
	if err != nil {
		return base.SectorNull, err
	}
	buf.accessed = true
	return base.SectorAddr(buf.data[uint32(ba)&0x3FF]), nil
}

// setFileEntry points the forward-map entry for ba at sa and dirties the
// leaf.
func (s *Store) setFileEntry(fd base.FileID, ba base.BlockAddr, sa base.SectorAddr) error {
	invariants.Assert(!base.IsMetaAddr(uint32(ba)), "map access with a metadata address")
	buf, err := s.fbufGet(base.LeafMetaAddr(fd, ba))
	if err != nil {
		return err
	}
	buf.accessed = true
	if !buf.modified {
		buf.modified = true
		s.fc.modifiedCount++
	}
	buf.data[uint32(ba)&0x3FF] = uint32(sa)
	return nil
}
