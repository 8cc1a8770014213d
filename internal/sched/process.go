// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"container/list"
	"sync"
	"time"
)

// ProcState is the subset of a process's state machine the scheduler must
// be able to read. The state machine itself (RUNNABLE_S <-> RUNNING_S,
// RUNNING_M, WAITING, DYING and the transitions between them) is owned by
// the ProcessFacility collaborator, per spec.md §1 — the scheduler only
// ever reads it to decide things like "skip WAITING MCPs this tick".
type ProcState int

const (
	StateRunnableS ProcState = iota
	StateRunningS
	StateRunningM
	StateWaiting
	StateDying
)

func (s ProcState) String() string {
	switch s {
	case StateRunnableS:
		return "RUNNABLE_S"
	case StateRunningS:
		return "RUNNING_S"
	case StateRunningM:
		return "RUNNING_M"
	case StateWaiting:
		return "WAITING"
	case StateDying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// ProcessFacility is the collaborator contract the scheduler core consumes
// but does not implement: process control block state transitions,
// context save/restore, and the actual granting/revoking of cores at the
// hardware level (spec.md §1, §6). internal/procfacility ships a reference
// implementation used by the demo daemon; this package's own tests use a
// mock double instead.
//
// The scheduler holds its own lock (Scheduler.mu) across every one of
// these calls, per spec.md §5.
type ProcessFacility interface {
	// ChangeToM performs the process's own SCP->MCP state transition.
	// Returns an error if the process is not in a state that permits it.
	ChangeToM(p *Process) error
	// Destroy tears the process down. If destroyed is true, revoked lists
	// the pcore ids the process held at the moment of destruction.
	Destroy(p *Process) (destroyed bool, revoked []PcoreID)
	// Wakeup makes p runnable again; for SCPs this calls back into
	// SchedSCPWakeup, for MCPs into SchedMCPWakeup, while the scheduler
	// lock is still held.
	Wakeup(p *Process)
	// GiveCores attempts to hand p the given pcores. rejected is true if p
	// was WAITING or DYING and could not accept the gift.
	GiveCores(p *Process, ids []PcoreID) (rejected bool)
	// RunM starts any newly granted vcores of an MCP. Harmless to call on
	// an already-running MCP.
	RunM(p *Process)
	// RunS installs p's context on the calling core and arranges return to
	// user space.
	RunS(p *Process)
	// SaveContextS saves p's user context from the current trap frame,
	// called while descheduling a running SCP.
	SaveContextS(p *Process)
	// SetState sets p's externally-visible state.
	SetState(p *Process, s ProcState)
	// IsMCP reports whether p has completed the SCP->MCP transition.
	IsMCP(p *Process) bool
	// PreemptCore synchronously revokes pcore id from p with the given
	// warning interval (0 for an immediate preempt). ok is false if the
	// core was already unmapped (p yielded concurrently).
	PreemptCore(p *Process, id PcoreID, warn time.Duration) (ok bool)
}

// Process holds the scheduler-visible data embedded in each process, plus
// the minimal bookkeeping (id, facility binding, per-process lock) needed
// to exercise it standalone. In the original kernel this data is embedded
// in a much larger struct proc; here it plays the same role without the
// surrounding process control block.
type Process struct {
	ID uint64

	facility ProcessFacility

	// mu is the per-process lock (p->proc_lock in the original). The
	// scheduler lock is always acquired first when both are needed
	// (spec.md §5).
	mu sync.Mutex

	State ProcState

	curList  ListKind
	listElem *list.Element

	// provAllocMe holds *Pcore elements provisioned to this process AND
	// currently allocated to it. provNotAllocMe holds pcores provisioned
	// to this process but NOT currently allocated to it — the victim list
	// a provisioning-preferred core request reclaims from first.
	provAllocMe    *list.List
	provNotAllocMe *list.List

	amtWanted  uint32
	amtGranted uint32
	maxVcores  uint32
}

// NewProcess creates scheduler-data for a not-yet-registered process. Call
// RegisterProc to add it to the scheduler.
func NewProcess(id uint64, facility ProcessFacility, maxVcores uint32) *Process {
	return &Process{
		ID:             id,
		facility:       facility,
		maxVcores:      maxVcores,
		provAllocMe:    list.New(),
		provNotAllocMe: list.New(),
	}
}

// AmtWanted returns the process's currently published core desire.
func (p *Process) AmtWanted() uint32 { return p.amtWanted }

// AmtGranted returns the number of cores currently granted to the process.
func (p *Process) AmtGranted() uint32 { return p.amtGranted }

// MaxVcores returns the process's per-process core ceiling.
func (p *Process) MaxVcores() uint32 { return p.maxVcores }

// SetAmtWanted publishes a new core desire. Equivalent to a userspace
// write of procdata->res_req[RES_CORES].amt_wanted in the original; it
// takes effect the next time the scheduler looks at this process (a tick,
// or an explicit PokeKsched).
func (p *Process) SetAmtWanted(n uint32) { p.amtWanted = n }
