// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// scheduleSCP implements __schedule_scp: round-robins SCPs onto the
// management core. Returns true if it scheduled a process.
//
// This fixes the proc-lock-inversion bug noted as an open question in
// spec.md §9(a): the original locks the *incoming* process's proc_lock
// while mutating the *outgoing* process's state. Here the outgoing
// process's own mutex guards its own state transition.
//
// Callers must hold s.mu.
func (s *Scheduler) scheduleSCP() bool {
	p := s.lists.front(RunnableSCPs)
	if p == nil {
		return false
	}

	if cur := s.curSCP; cur != nil {
		cur.mu.Lock()
		s.facilityFor(cur).SetState(cur, StateRunnableS)
		s.facilityFor(cur).SaveContextS(cur)
		cur.mu.Unlock()

		// Round-robin: the descheduled SCP goes to the tail of
		// runnable_scps, ready to run again once its turn comes back
		// around.
		s.lists.switchList(cur, UnrunnableSCPs, RunnableSCPs)
		s.curSCP = nil
	}

	s.lists.switchList(p, RunnableSCPs, UnrunnableSCPs)
	s.curSCP = p
	s.facilityFor(p).RunS(p)
	return true
}
