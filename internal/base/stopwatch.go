// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"time"

	"github.com/cockroachdb/crlib/crtime"
)

// Stopwatch measures the duration of a cleaner or flush pass.
type Stopwatch struct {
	startTime crtime.Mono
}

// MakeStopwatch starts a stopwatch.
func MakeStopwatch() Stopwatch {
	return Stopwatch{startTime: crtime.NowMono()}
}

// Stop returns the elapsed time.
func (w Stopwatch) Stop() time.Duration {
	return w.startTime.Elapsed()
}
