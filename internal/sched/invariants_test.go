// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockFacility is a ProcessFacility double with fully scriptable behavior,
// used only by this package's own tests — internal/procfacility's
// RefProcess exercises the same contract for the demo daemon, but these
// tests want direct control over preempt outcomes and MCP/core state
// without going through a second package.
type mockFacility struct {
	sched       *Scheduler // set after the scheduler exists, so Wakeup can call back
	isMCP       bool
	cores       map[PcoreID]bool
	preemptFail map[PcoreID]bool // pcores whose preempt should report failure
	dying       bool
}

func newMockFacility() *mockFacility {
	return &mockFacility{
		cores:       make(map[PcoreID]bool),
		preemptFail: make(map[PcoreID]bool),
	}
}

func (f *mockFacility) ChangeToM(p *Process) error {
	f.isMCP = true
	return nil
}
func (f *mockFacility) Destroy(p *Process) (bool, []PcoreID) {
	if f.dying {
		return false, nil
	}
	f.dying = true
	var ids []PcoreID
	for id := range f.cores {
		ids = append(ids, id)
	}
	f.cores = map[PcoreID]bool{}
	return true, ids
}
func (f *mockFacility) Wakeup(p *Process) {
	if f.isMCP {
		f.sched.SchedMCPWakeup(p)
	} else {
		f.sched.SchedSCPWakeup(p)
	}
}
func (f *mockFacility) GiveCores(p *Process, ids []PcoreID) bool {
	for _, id := range ids {
		f.cores[id] = true
	}
	return false
}
func (f *mockFacility) RunM(p *Process) {}
func (f *mockFacility) RunS(p *Process) {}
func (f *mockFacility) SaveContextS(p *Process) {}
func (f *mockFacility) SetState(p *Process, s ProcState) { p.State = s }
func (f *mockFacility) IsMCP(p *Process) bool            { return f.isMCP }
func (f *mockFacility) PreemptCore(p *Process, id PcoreID, warn time.Duration) bool {
	if f.preemptFail[id] {
		return false
	}
	if !f.cores[id] {
		return false
	}
	delete(f.cores, id)
	return true
}

func newTestScheduler(t *testing.T, numCores int) *Scheduler {
	t.Helper()
	defaultFacility := newMockFacility()
	s, _ := NewScheduler(Options{
		NumCores: numCores,
		Facility: defaultFacility,
	})
	defaultFacility.sched = s
	return s
}

// newFacility builds a mockFacility wired to call back into s, for use as a
// per-process facility override (NewProcess's facility argument).
func newFacility(s *Scheduler) *mockFacility {
	f := newMockFacility()
	f.sched = s
	return f
}

// checkInvariants asserts I1-I5 from spec.md §8 against s's current state.
func checkInvariants(t *testing.T, s *Scheduler) {
	t.Helper()

	// I4: LL core is never idle and never provisioned.
	ll := &s.pcores[ManagementCore]
	require.Nil(t, ll.idleElem, "LL core must never be idle")
	require.Nil(t, ll.provProc, "LL core must never be provisioned")

	// I2: no pcore is simultaneously idle and in a prov_alloc_me list.
	s.idle.each(func(pc *Pcore) {
		require.Falsef(t, pc.provProc != nil && pc.allocProc == pc.provProc,
			"pcore %d is both idle and provisioned-and-allocated", pc.id)
	})

	// I3: every provisioned pcore is on exactly one of its provisionee's
	// two lists, chosen by current allocation.
	for i := range s.pcores {
		pc := &s.pcores[i]
		if pc.provProc == nil {
			require.Nil(t, pc.provElem, "pcore %d: prov_proc nil but provElem set", pc.id)
			continue
		}
		onAllocMe := false
		for e := pc.provProc.provAllocMe.Front(); e != nil; e = e.Next() {
			if e.Value.(*Pcore) == pc {
				onAllocMe = true
			}
		}
		onNotAllocMe := false
		for e := pc.provProc.provNotAllocMe.Front(); e != nil; e = e.Next() {
			if e.Value.(*Pcore) == pc {
				onNotAllocMe = true
			}
		}
		require.True(t, onAllocMe != onNotAllocMe, "pcore %d must be on exactly one prov list", pc.id)
		if pc.allocProc == pc.provProc {
			require.True(t, onAllocMe, "pcore %d: allocated to its provisionee but not on prov_alloc_me", pc.id)
		} else {
			require.True(t, onNotAllocMe, "pcore %d: not allocated to its provisionee but not on prov_not_alloc_me", pc.id)
		}
	}

	// I1: a process's cur_list matches where it's actually linked, checked
	// from the list side: every process on a list reports that list.
	for _, k := range []ListKind{UnrunnableSCPs, RunnableSCPs, AllMCPs} {
		s.lists.eachSafe(k, func(p *Process) {
			require.Equal(t, k, p.curList, "proc %d: curList mismatch", p.ID)
		})
	}

	// I5: amt_granted <= amt_wanted <= max_vcores for MCPs (once clamped).
	s.lists.eachSafe(AllMCPs, func(p *Process) {
		require.LessOrEqual(t, p.amtGranted, p.amtWanted, "proc %d: granted > wanted", p.ID)
		require.LessOrEqual(t, p.amtWanted, p.maxVcores, "proc %d: wanted > max", p.ID)
	})
}
