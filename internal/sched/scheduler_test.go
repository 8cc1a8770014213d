// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func register(t *testing.T, s *Scheduler, id uint64, maxVcores uint32, f *mockFacility) *Process {
	t.Helper()
	p := NewProcess(id, f, maxVcores)
	s.RegisterProc(p)
	checkInvariants(t, s)
	return p
}

// Scenario 1: SCP round-robin.
func TestScenarioSCPRoundRobin(t *testing.T) {
	s := newTestScheduler(t, 4)
	f := newFacility(s)
	s1 := register(t, s, 1, 0, f)
	s2 := register(t, s, 2, 0, f)
	s3 := register(t, s, 3, 0, f)

	s.ProcWakeup(s1)
	s.ProcWakeup(s2)
	s.ProcWakeup(s3)
	checkInvariants(t, s)

	var order []uint64
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Schedule())
		checkInvariants(t, s)
		order = append(order, s.curSCP.ID)
	}
	require.Equal(t, []uint64{1, 2, 3, 1, 2, 3}, order)
}

// Scenario 2: idle pool FCFS.
func TestScenarioIdlePoolFCFS(t *testing.T) {
	s := newTestScheduler(t, 4) // idle = [1, 2, 3]
	f := newFacility(s)
	m := register(t, s, 1, 4, f)
	require.NoError(t, s.ProcChangeToM(m))

	m.SetAmtWanted(2)
	require.NoError(t, s.SchedMCPWakeup(m))
	checkInvariants(t, s)

	require.Equal(t, uint32(2), m.AmtGranted())
	require.Equal(t, 1, s.idle.len())
	remaining := s.idle.popFront()
	require.Equal(t, PcoreID(3), remaining.id)
	s.idle.pushBack(remaining)
}

// Scenario 3: provisioned preempt.
func TestScenarioProvisionedPreempt(t *testing.T) {
	s := newTestScheduler(t, 4)
	f1, f2 := newFacility(s), newFacility(s)
	p1 := register(t, s, 1, 4, f1)
	p2 := register(t, s, 2, 4, f2)
	require.NoError(t, s.ProcChangeToM(p1))
	require.NoError(t, s.ProcChangeToM(p2))

	// P2 takes pcores 1 and 2 from the idle pool (FCFS: idle starts [1,2,3]).
	p2.SetAmtWanted(2)
	require.NoError(t, s.SchedMCPWakeup(p2))
	require.Equal(t, uint32(2), p2.AmtGranted())
	require.Equal(t, p2, s.pcores[2].allocProc)

	s.ProvisionCore(p1, 2)
	checkInvariants(t, s)

	p1.SetAmtWanted(1)
	require.NoError(t, s.SchedMCPWakeup(p1))
	checkInvariants(t, s)

	require.Equal(t, uint32(1), p1.AmtGranted())
	require.Equal(t, uint32(1), p2.AmtGranted())
	require.Equal(t, p1, s.pcores[2].allocProc)
	require.Equal(t, p1, s.pcores[2].provProc)
}

// Scenario 4: ghost return.
func TestScenarioGhostReturn(t *testing.T) {
	s := newTestScheduler(t, 4)
	f1, f2 := newFacility(s), newFacility(s)
	p1 := register(t, s, 1, 4, f1)
	p2 := register(t, s, 2, 4, f2)
	require.NoError(t, s.ProcChangeToM(p1))
	require.NoError(t, s.ProcChangeToM(p2))

	p2.SetAmtWanted(2)
	require.NoError(t, s.SchedMCPWakeup(p2))
	s.ProvisionCore(p1, 2)

	// P2 already yielded pcore 2 at the facility level without telling
	// the scheduler yet, so the preempt reports "unmapped".
	f2.preemptFail[2] = true
	idleBefore := s.idle.len()

	p1.SetAmtWanted(1)
	require.NoError(t, s.SchedMCPWakeup(p1))
	checkInvariants(t, s)

	require.Equal(t, uint32(1), p1.AmtGranted())
	require.Equal(t, uint32(1), s.pcores[2].ignoreNextIdle)
	require.Equal(t, p1, s.pcores[2].allocProc)
	require.Equal(t, idleBefore, s.idle.len())

	// P2's belated put_idle_core arrives: it must be dropped on the
	// floor, not enqueued, and ignore_next_idle must return to 0.
	s.PutIdleCore(p2, 2)
	require.Equal(t, uint32(0), s.pcores[2].ignoreNextIdle)
	require.Equal(t, idleBefore, s.idle.len())
	require.Equal(t, p1, s.pcores[2].allocProc)
}

// Scenario 5: destroy with allocations.
func TestScenarioDestroyWithAllocations(t *testing.T) {
	s := newTestScheduler(t, 8)
	f := newFacility(s)
	m := register(t, s, 1, 8, f)
	require.NoError(t, s.ProcChangeToM(m))

	// Provision before requesting: the provision-preferred pass then
	// grants exactly these three pcores, in provisioning order, so M ends
	// up owning precisely {1, 3, 5} rather than whatever the idle FCFS
	// order would otherwise hand out.
	for _, id := range []PcoreID{1, 3, 5} {
		s.ProvisionCore(m, id)
	}
	m.SetAmtWanted(3)
	require.NoError(t, s.SchedMCPWakeup(m))
	require.Equal(t, uint32(3), m.AmtGranted())
	checkInvariants(t, s)

	idleBefore := s.idle.len()
	s.ProcDestroy(m)
	checkInvariants(t, s)

	require.Equal(t, idleBefore+3, s.idle.len())
	for _, id := range []PcoreID{1, 3, 5} {
		require.Nil(t, s.pcores[id].provProc)
		require.Nil(t, s.pcores[id].allocProc)
		require.NotNil(t, s.pcores[id].idleElem)
	}
	require.Equal(t, 0, m.provAllocMe.Len())
	require.Equal(t, 0, m.provNotAllocMe.Len())
	require.Equal(t, NoList, m.curList)
}

// Scenario 6: amt_wanted clamp.
func TestScenarioAmtWantedClamp(t *testing.T) {
	s := newTestScheduler(t, 4)
	f := newFacility(s)
	p := register(t, s, 1, 3, f)
	require.NoError(t, s.ProcChangeToM(p))

	p.SetAmtWanted(1000)
	require.NoError(t, s.SchedMCPWakeup(p))
	checkInvariants(t, s)

	require.Equal(t, uint32(1), p.AmtWanted())
	require.Equal(t, uint32(1), p.AmtGranted())
}

// L1: provision idempotence.
func TestLawProvisionIdempotence(t *testing.T) {
	s := newTestScheduler(t, 4)
	f := newFacility(s)
	p := register(t, s, 1, 4, f)

	s.ProvisionCore(p, 1)
	once := s.pcores[1]
	s.ProvisionCore(p, 1)
	twice := s.pcores[1]

	require.Equal(t, once.provProc, twice.provProc)
	require.Equal(t, 1, p.provNotAllocMe.Len())
	require.Equal(t, 0, p.provAllocMe.Len())
	checkInvariants(t, s)
}

// L2: provision composition (last-write-wins).
func TestLawProvisionComposition(t *testing.T) {
	s := newTestScheduler(t, 4)
	f := newFacility(s)
	q := register(t, s, 1, 4, f)
	p := register(t, s, 2, 4, f)

	s.ProvisionCore(q, 1)
	s.ProvisionCore(p, 1)
	checkInvariants(t, s)

	require.Equal(t, p, s.pcores[1].provProc)
	require.Equal(t, 0, q.provNotAllocMe.Len())
	require.Equal(t, 1, p.provNotAllocMe.Len())
}

// L3: alloc/dealloc round-trip.
func TestLawAllocDeallocRoundTrip(t *testing.T) {
	s := newTestScheduler(t, 4)
	f := newFacility(s)
	p := register(t, s, 1, 4, f)
	s.ProvisionCore(p, 1)

	s.trackAlloc(p, 1)
	require.Equal(t, p, s.pcores[1].allocProc)
	require.Equal(t, 1, p.provAllocMe.Len())

	s.trackDealloc(p, 1)
	require.Nil(t, s.pcores[1].allocProc)
	require.Equal(t, 1, p.provNotAllocMe.Len())
	require.Equal(t, p, p.provNotAllocMe.Front().Value.(*Pcore).provProc)
	checkInvariants(t, s)
}

// L4: tick monotonicity, even when the consumer falls behind. The period is
// set far longer than this test can possibly run so the driver's own
// real-time timer never fires during it; fire() is instead invoked
// directly in a tight loop to simulate a consumer racing far behind real
// time, the "even under overload" half of the law.
func TestLawTickMonotonicity(t *testing.T) {
	d := NewTickDriver(time.Hour)
	d.Start()
	defer d.Stop()

	deadlines := make([]time.Time, 0, 5)
	d.mu.Lock()
	deadlines = append(deadlines, d.deadline)
	d.mu.Unlock()

	for i := 0; i < 4; i++ {
		d.fire()
		d.mu.Lock()
		deadlines = append(deadlines, d.deadline)
		d.mu.Unlock()
	}

	for i := 1; i < len(deadlines); i++ {
		require.Equal(t, d.period, deadlines[i].Sub(deadlines[i-1]))
	}
}
