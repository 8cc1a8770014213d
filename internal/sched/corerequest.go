// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// coreRequest implements __core_request: decide which pcores to grant P in
// response to its published amt_wanted, issuing immediate preemptions
// against provisioned victims if needed (spec.md §4.4).
//
// Callers must hold s.mu.
func (s *Scheduler) coreRequest(p *Process) error {
	amtWanted := p.amtWanted
	amtGranted := p.amtGranted

	// Help them out if they ask for something impossible: clamp the
	// published value to 1 so they can make progress (a user-bug guard,
	// not an error). We clamp the field the process published, then keep
	// using the clamped value for the rest of this pass.
	if amtWanted > p.maxVcores {
		p.amtWanted = 1
		amtWanted = 1
		s.log.Warnf("proc %d: amt_wanted clamped to 1 (asked for more than max_vcores=%d)", p.ID, p.maxVcores)
	}

	if amtWanted <= amtGranted {
		return nil // satisfied; no revocation happens here
	}
	amtNeeded := amtWanted - amtGranted

	grants := make([]PcoreID, 0, amtNeeded)

	// Provision-preferred pass: reclaim from our own victim list first.
	e := p.provNotAllocMe.Front()
	for e != nil && uint32(len(grants)) < amtNeeded {
		next := e.Next()
		pc := e.Value.(*Pcore)

		if pc.allocProc != nil {
			victim := pc.allocProc
			if ok := s.facilityFor(victim).PreemptCore(victim, pc.id, 0); ok {
				// Preempted successfully. We do NOT track_dealloc here —
				// we leave the pcore on its current prov list (the grant
				// step below will move it), clear alloc_proc and drop the
				// victim's amt_granted by one.
				pc.allocProc = nil
				if victim.amtGranted > 0 {
					victim.amtGranted--
				}
			} else {
				// Victim already yielded concurrently and is spinning in
				// put_idle_core, trying to give this core back. Count the
				// ghost return so put_idle_core drops it on the floor.
				pc.ignoreNextIdle++
				if pc.ignoreNextIdle > 100 {
					s.warnIgnoreNextIdle.Do(func() {
						s.log.Warnf("pcore %d: unusually high ignore_next_idle=%d", pc.id, pc.ignoreNextIdle)
					})
				}
				pc.allocProc = nil
			}
		} else {
			// Must be idle; rip it off the idle pool.
			s.idle.remove(pc)
		}
		grants = append(grants, pc.id)
		e = next
	}

	// Idle-pool pass: any remaining need is filled FCFS from non-provisioned
	// idle cores.
	for uint32(len(grants)) < amtNeeded {
		pc := s.idle.popFront()
		if pc == nil {
			break
		}
		grants = append(grants, pc.id)
	}

	if len(grants) == 0 {
		return nil
	}

	p.mu.Lock()
	rejected := s.facilityFor(p).GiveCores(p, grants)
	if rejected {
		// p became WAITING/DYING concurrently. Return the cores to the
		// idle pool without provisioning bookkeeping — no user-visible
		// error; a future destroy or the next tick will sort it out.
		for _, id := range grants {
			s.idle.pushBack(&s.pcores[id])
		}
	} else {
		for _, id := range grants {
			s.trackAlloc(p, id)
		}
		s.facilityFor(p).RunM(p)
	}
	p.mu.Unlock()

	return nil
}

// facilityFor is a tiny indirection so every ProcessFacility call in this
// file reads the same way. A process's own facility (NewProcess's facility
// argument) takes precedence; s.facility is used only when that is nil.
func (s *Scheduler) facilityFor(p *Process) ProcessFacility {
	if p.facility != nil {
		return p.facility
	}
	return s.facility
}

// trackAlloc records that pcore id is now allocated to P: sets alloc_proc
// and, if the core is provisioned to P, moves it from P's victim list to
// the tail of P's allocated-and-provisioned list.
//
// Callers must hold s.mu.
func (s *Scheduler) trackAlloc(p *Process, id PcoreID) {
	pc := &s.pcores[id]
	if pc.allocProc == p {
		panic(assertf("sched: trackAlloc: pcore %d double-allocated to proc %d", id, p.ID))
	}
	pc.allocProc = p
	p.amtGranted++
	if pc.provProc == p {
		p.provNotAllocMe.Remove(pc.provElem)
		pc.provElem = p.provAllocMe.PushBack(pc)
	}
}

// trackDealloc records that pcore id is no longer allocated to P: clears
// alloc_proc and, if the core is provisioned to P, moves it to the HEAD of
// P's victim list so it is the first one reclaimed on P's next provisioned
// core request.
//
// Callers must hold s.mu.
func (s *Scheduler) trackDealloc(p *Process, id PcoreID) {
	pc := &s.pcores[id]
	pc.allocProc = nil
	if p.amtGranted > 0 {
		p.amtGranted--
	}
	if pc.provProc == p {
		p.provAllocMe.Remove(pc.provElem)
		pc.provElem = p.provNotAllocMe.PushFront(pc)
	}
}

// trackDeallocBulk is the bulk form of trackDealloc.
func (s *Scheduler) trackDeallocBulk(p *Process, ids []PcoreID) {
	for _, id := range ids {
		s.trackDealloc(p, id)
	}
}
