// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procfacility provides RefProcess, an in-memory reference
// implementation of sched.ProcessFacility. It exists so internal/sched can
// be exercised end-to-end by the demo daemon in cmd/ksched without a real
// process control block, context switch, or hardware core behind it.
//
// RefProcess is deliberately simple: it models just enough of
// RUNNABLE_S/RUNNING_S/RUNNING_M/WAITING/DYING to answer the questions the
// scheduler asks of it. It is not itself part of the scheduler-correctness
// surface (spec.md §4.11) — bugs in here are stub-collaborator bugs, not
// scheduler bugs.
package procfacility

import (
	"fmt"
	"sync"
	"time"

	"github.com/aclements/ksched/internal/sched"
)

// RefProcess is a reference ProcessFacility plus the scheduler-visible
// sched.Process it drives. Unlike sched.Process.mu (which the scheduler
// package uses for its own bookkeeping), mu here is private to this
// facility and guards the fields below: isMCP, cores, and dying.
type RefProcess struct {
	Proc *sched.Process

	sched *sched.Scheduler

	mu    sync.Mutex
	isMCP bool
	cores map[sched.PcoreID]struct{}
	dying bool
}

// New creates a RefProcess bound to s and registers it. id should be
// unique among processes registered with s; maxVcores is the process's
// core ceiling.
func New(s *sched.Scheduler, id uint64, maxVcores uint32) *RefProcess {
	r := &RefProcess{
		sched: s,
		cores: make(map[sched.PcoreID]struct{}),
	}
	r.Proc = sched.NewProcess(id, r, maxVcores)
	s.RegisterProc(r.Proc)
	return r
}

// RequestCores publishes a new core desire and pokes the scheduler, the
// userspace-facing half of the res_req/poke_ksched pair named in spec.md
// §6.
func (r *RefProcess) RequestCores(n uint32) error {
	r.Proc.SetAmtWanted(n)
	return r.sched.PokeKsched(r.Proc, sched.ResCores)
}

// RequestChangeToM requests the SCP->MCP transition for this process, the
// client-facing counterpart to RequestCores.
func (r *RefProcess) RequestChangeToM() error {
	return r.sched.ProcChangeToM(r.Proc)
}

// Cores returns the pcore ids currently held by this process.
func (r *RefProcess) Cores() []sched.PcoreID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]sched.PcoreID, 0, len(r.cores))
	for id := range r.cores {
		ids = append(ids, id)
	}
	return ids
}

// ChangeToM implements sched.ProcessFacility.
func (r *RefProcess) ChangeToM(p *sched.Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isMCP {
		return fmt.Errorf("proc %d: already an MCP", p.ID)
	}
	if r.dying {
		return fmt.Errorf("proc %d: dying, cannot become an MCP", p.ID)
	}
	r.isMCP = true
	return nil
}

// Destroy implements sched.ProcessFacility. It is idempotent: calling it a
// second time reports destroyed=false.
func (r *RefProcess) Destroy(p *sched.Process) (destroyed bool, revoked []sched.PcoreID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dying {
		return false, nil
	}
	r.dying = true
	p.State = sched.StateDying
	revoked = make([]sched.PcoreID, 0, len(r.cores))
	for id := range r.cores {
		revoked = append(revoked, id)
	}
	r.cores = make(map[sched.PcoreID]struct{})
	return true, revoked
}

// Wakeup implements sched.ProcessFacility. Called by Scheduler.ProcWakeup
// while the scheduler lock is held; it calls back into the matching
// Sched*Wakeup per spec.md §4.11.
func (r *RefProcess) Wakeup(p *sched.Process) {
	r.mu.Lock()
	isMCP := r.isMCP
	r.mu.Unlock()

	if isMCP {
		if err := r.sched.SchedMCPWakeup(p); err != nil {
			// The core request behind SchedMCPWakeup returns nil on
			// every path, so there is nothing to act on here.
			_ = err
		}
		return
	}
	r.sched.SchedSCPWakeup(p)
}

// GiveCores implements sched.ProcessFacility.
func (r *RefProcess) GiveCores(p *sched.Process, ids []sched.PcoreID) (rejected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dying {
		return true
	}
	for _, id := range ids {
		r.cores[id] = struct{}{}
	}
	return false
}

// RunM implements sched.ProcessFacility: in a real kernel this starts any
// newly granted vcores; the reference facility has no vcores to start, so
// it just flips the externally-visible state.
func (r *RefProcess) RunM(p *sched.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cores) > 0 {
		p.State = sched.StateRunningM
	}
}

// RunS implements sched.ProcessFacility.
func (r *RefProcess) RunS(p *sched.Process) {
	p.State = sched.StateRunningS
}

// SaveContextS implements sched.ProcessFacility. There is no real user
// context to save here.
func (r *RefProcess) SaveContextS(p *sched.Process) {}

// SetState implements sched.ProcessFacility.
func (r *RefProcess) SetState(p *sched.Process, s sched.ProcState) {
	p.State = s
}

// IsMCP implements sched.ProcessFacility.
func (r *RefProcess) IsMCP(p *sched.Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isMCP
}

// PreemptCore implements sched.ProcessFacility. warn is ignored by this
// reference facility: every preempt is immediate. coreRequest only ever
// calls this with warn==0.
func (r *RefProcess) PreemptCore(p *sched.Process, id sched.PcoreID, warn time.Duration) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.cores[id]; !held {
		return false // already gone: caller should count a ghost return
	}
	delete(r.cores, id)
	if len(r.cores) == 0 && r.isMCP {
		p.State = sched.StateWaiting
	}
	return true
}
