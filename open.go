// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"github.com/cockroachdb/errors"

	"github.com/Wuyang-Chung/logstor/device"
)

// Open recovers a store from the device's superblock ring. If no usable
// superblock is found (a fresh device, a foreign signature, or structurally
// invalid pointers), the device is formatted in place and an empty store
// returned. Recovery replays nothing from the log itself: the forward map
// reached from the superblock roots is the authoritative state, and payload
// written after the last persisted superblock is simply not visible.
func Open(dev device.Device, opts *Options) (*Store, error) {
	opts = opts.Clone().EnsureDefaults()
	s := &Store{opts: opts, dev: dev}

	if err := s.superblockRead(); err != nil {
		if !errors.Is(err, ErrFormat) {
			return nil, err
		}
		opts.Logger.Infof("logstor: no usable superblock, formatting: %v", err)
		if err := s.superblockInit(); err != nil {
			return nil, err
		}
	}
	s.cleanLowWater, s.cleanHighWater = cleanWatermarks(s.sb.segCnt)

	// The cold stream opens first; its segment is what the allocator must
	// steer around from then on.
	if err := s.segAlloc(&s.cold); err != nil {
		return nil, err
	}
	if err := s.segAlloc(&s.hot); err != nil {
		return nil, err
	}
	s.fbufInit()

	// Segments abandoned by previous open/close cycles sit allocated until
	// the cleaner reclaims them; repeated reopens without writes would
	// otherwise drain the pool.
	if err := s.cleanCheck(); err != nil {
		return nil, err
	}
	return s, nil
}

// Peek reads the current superblock and returns a metrics snapshot of the
// persisted state without opening the store: no segments are allocated and
// nothing is written. Tooling uses it for read-only inspection.
func Peek(dev device.Device) (Metrics, error) {
	s := &Store{opts: (*Options)(nil).Clone().EnsureDefaults(), dev: dev}
	if err := s.superblockRead(); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		BlockCount:    s.sb.maxBlockCnt,
		SegmentCount:  s.sb.segCnt,
		FreeSegments:  s.sb.segFreeCnt,
		SuperblockGen: s.sb.gen,
	}, nil
}

// Format lays out an empty store on the device, discarding any existing
// contents. Open formats automatically when it finds no usable superblock;
// Format exists for tooling that wants to wipe explicitly.
func Format(dev device.Device, opts *Options) error {
	opts = opts.Clone().EnsureDefaults()
	s := &Store{opts: opts, dev: dev}
	if err := s.superblockInit(); err != nil {
		return err
	}
	return dev.Sync()
}

// Close flushes all dirty metadata into the cold stream, persists both open
// segment summaries and a fresh superblock, and syncs the device. The store
// is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	err := s.flushMetadata()
	if err == nil {
		err = s.segSumWrite(&s.cold)
	}
	if err == nil {
		err = s.segSumWrite(&s.hot)
	}
	if err == nil {
		err = s.superblockWrite()
	}
	if err == nil {
		err = s.dev.Sync()
	}
	if err != nil {
		s.opts.EventListener.BackgroundError(err)
	}
	s.fbufClose()
	s.closed = true
	return err
}
