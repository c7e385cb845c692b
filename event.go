// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logstor

import (
	"time"

	"github.com/cockroachdb/redact"

	"github.com/Wuyang-Chung/logstor/internal/base"
)

// FormatInfo contains the info for a format event.
type FormatInfo struct {
	SectorCount   uint32
	SegmentCount  int32
	MaxBlockCount uint32
}

func (i FormatInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i FormatInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("formatted %d sectors (%d segments, %d blocks addressable)",
		i.SectorCount, i.SegmentCount, i.MaxBlockCount)
}

// SegmentAllocInfo contains the info for a segment allocation event.
type SegmentAllocInfo struct {
	Segment base.SegmentID
	// Stream is "hot" for the user payload stream and "cold" for the
	// metadata/cleaner stream.
	Stream string
	// FreeSegments is the free count after the allocation.
	FreeSegments int32
}

func (i SegmentAllocInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i SegmentAllocInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("allocated %s segment %s (%d free)",
		redact.SafeString(i.Stream), i.Segment, i.FreeSegments)
}

// CleanInfo contains the info for a cleaner pass. A pass runs synchronously
// with respect to the write that triggered it.
type CleanInfo struct {
	// FreeSegments is the free count when the pass began (Begin) or ended
	// (End).
	FreeSegments int32
	// Cleaned is the number of segments compacted by the pass; End only.
	Cleaned int
	// Duration is the wall time of the pass; End only.
	Duration time.Duration
	// Err is set if the pass aborted.
	Err error
}

func (i CleanInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i CleanInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("cleaning aborted: %v", i.Err)
		return
	}
	w.Printf("cleaned %d segments in %s (%d free)", i.Cleaned, i.Duration, i.FreeSegments)
}

// SuperblockWriteInfo contains the info for a superblock write event.
type SuperblockWriteInfo struct {
	Gen  uint16
	Slot uint32
}

func (i SuperblockWriteInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i SuperblockWriteInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("superblock gen %d written to slot %d", i.Gen, i.Slot)
}

// EventListener contains a set of functions that will be invoked when
// various significant store events occur. Note that the functions should not
// run for an excessive amount of time as they are invoked synchronously by
// the store and may block continued store work.
type EventListener struct {
	// BackgroundError is invoked with the error of a failed Close; Close
	// also returns that error.
	BackgroundError func(error)

	// Format is invoked after a device has been formatted.
	Format func(FormatInfo)

	// SegmentAllocated is invoked after a segment was opened for the hot or
	// cold stream.
	SegmentAllocated func(SegmentAllocInfo)

	// CleanBegin is invoked before a cleaner pass.
	CleanBegin func(CleanInfo)

	// CleanEnd is invoked after a cleaner pass.
	CleanEnd func(CleanInfo)

	// SuperblockWritten is invoked after a superblock slot was persisted.
	SuperblockWritten func(SuperblockWriteInfo)
}

// EnsureDefaults replaces every nil handler with a no-op so that we don't
// have to check for nil-ness before invoking. An unset BackgroundError
// therefore drops the error; nothing is logged.
func (l *EventListener) EnsureDefaults() {
	if l.BackgroundError == nil {
		l.BackgroundError = func(error) {}
	}
	if l.Format == nil {
		l.Format = func(FormatInfo) {}
	}
	if l.SegmentAllocated == nil {
		l.SegmentAllocated = func(SegmentAllocInfo) {}
	}
	if l.CleanBegin == nil {
		l.CleanBegin = func(CleanInfo) {}
	}
	if l.CleanEnd == nil {
		l.CleanEnd = func(CleanInfo) {}
	}
	if l.SuperblockWritten == nil {
		l.SuperblockWritten = func(SuperblockWriteInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = base.DefaultLogger{}
	}
	return EventListener{
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
		Format: func(info FormatInfo) {
			logger.Infof("%s", info)
		},
		SegmentAllocated: func(info SegmentAllocInfo) {
			logger.Infof("%s", info)
		},
		CleanBegin: func(info CleanInfo) {
			logger.Infof("cleaning (%d free segments)", info.FreeSegments)
		},
		CleanEnd: func(info CleanInfo) {
			logger.Infof("%s", info)
		},
		SuperblockWritten: func(info SuperblockWriteInfo) {
			logger.Infof("%s", info)
		},
	}
}
