// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
)

// assertf formats a corruption message with the caller's location, the way
// perflock's assert() helper in lock.go does. Scheduler invariant
// violations (double alloc, list-membership mismatch, an out-of-range
// pcore id reaching an internal helper) are bugs, not user errors
// (spec.md §7): callers panic with the result.
func assertf(format string, a ...interface{}) string {
	meta := ""
	var pcs [1]uintptr
	if runtime.Callers(2, pcs[:]) == 1 {
		frame, _ := runtime.CallersFrames(pcs[:]).Next()
		meta = fmt.Sprintf("%s (%s:%d): ", frame.Function, frame.File, frame.Line)
	}
	return "sched: corruption: " + meta + fmt.Sprintf(format, a...)
}

// facilityError wraps a ProcessFacility failure with call-site context.
// ProcChangeToM is the only entry point that propagates one of these to
// its caller; every other facility failure is absorbed per spec.md §7.
func facilityError(op string, err error) error {
	return errors.Wrapf(err, "sched: %s", op)
}
