// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"github.com/cockroachdb/errors"
)

// Error kinds of the engine. Errors returned by the store are marked with
// one of these so callers can test with errors.Is across wrapping; both the
// standard library's errors.Is and cockroachdb/errors.Is see the kind.
var (
	// ErrIO marks a failed device read or write. Never retried by the core.
	ErrIO = errors.New("logstor: device I/O error")

	// ErrFormat marks a superblock that cannot be adopted: bad signature,
	// version mismatch, or a structural field out of range. Open reacts by
	// formatting a fresh layout.
	ErrFormat = errors.New("logstor: invalid superblock")

	// ErrInvalid marks a request with an unaligned offset or length, a block
	// address out of range, or a malformed argument.
	ErrInvalid = errors.New("logstor: invalid argument")

	// ErrExhausted is returned when no free segment can be allocated and the
	// cleaner cannot make progress.
	ErrExhausted = errors.New("logstor: no free segments")

	// ErrClosed is returned by operations on a closed store. It is marked
	// as ErrInvalid.
	ErrClosed = mark(errors.New("logstor: store closed"), ErrInvalid)

	// ErrCorruption marks a disagreement between the forward map and a
	// segment summary found by an integrity check.
	ErrCorruption = errors.New("logstor: corruption")
)

// kindError carries an error kind where the standard library's errors.Is
// finds it, on top of the cockroachdb/errors mark.
type kindError struct {
	error
	kind error
}

func (e kindError) Unwrap() error        { return e.error }
func (e kindError) Is(target error) bool { return target == e.kind }

func mark(err, kind error) error { return kindError{errors.Mark(err, kind), kind} }

// CorruptionErrorf builds a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return mark(errors.Newf(format, args...), ErrCorruption)
}

// MarkIO wraps a device error, tagging it as an I/O failure.
func MarkIO(err error, format string, args ...interface{}) error {
	return mark(errors.Wrapf(err, format, args...), ErrIO)
}

// FormatErrorf builds a superblock validation error.
func FormatErrorf(format string, args ...interface{}) error {
	return mark(errors.Newf(format, args...), ErrFormat)
}

// InvalidArgf builds an invalid-argument error.
func InvalidArgf(format string, args ...interface{}) error {
	return mark(errors.Newf(format, args...), ErrInvalid)
}
