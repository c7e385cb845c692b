// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package invariants

import "fmt"

// Assert panics when cond is false and the "invariants" or "race" build tags
// are set. The conditions checked here signal corrupted in-memory state;
// release builds skip them, and only a few load-bearing conditions elsewhere
// panic unconditionally.
func Assert(cond bool, format string, args ...interface{}) {
	if Enabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
