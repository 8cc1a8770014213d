// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// ProvisionCore establishes or updates the provisioning of pcore id to
// process p (or clears it, if p is nil). Last-write-wins; there is no
// permission or priority model at this layer (spec.md §4.3).
//
// Out-of-range and LL pcore ids are rejected silently, matching the
// original's "could do an error code" comment — this is a caller bug, but
// not one the scheduler core treats as fatal.
func (s *Scheduler) ProvisionCore(p *Process, id PcoreID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(id) >= len(s.pcores) {
		return
	}
	if id == ManagementCore {
		return
	}
	pc := &s.pcores[id]

	// If the core was provisioned to some prior process, unlink it from
	// whichever of that process's two provisioning lists it resided on —
	// the list is picked by whether that prior process currently has the
	// core allocated.
	if prev := pc.provProc; prev != nil {
		if pc.allocProc == prev {
			prev.provAllocMe.Remove(pc.provElem)
		} else {
			prev.provNotAllocMe.Remove(pc.provElem)
		}
		pc.provElem = nil
	}

	// Now provision it to p, again picking the list by current
	// allocation. Callers may pass nil to de-provision.
	if p != nil {
		if pc.allocProc == p {
			pc.provElem = p.provAllocMe.PushBack(pc)
		} else {
			pc.provElem = p.provNotAllocMe.PushBack(pc)
		}
	}
	pc.provProc = p
}
