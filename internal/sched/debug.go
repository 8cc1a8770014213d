// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
)

// debugDumper is the subset of spew.ConfigState this package exercises, so
// tests can swap in a buffer without touching package-level config.
var debugDumper = &spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// SchedDiag writes a human-readable dump of the whole scheduler to w: every
// pcore's allocation/provisioning state, the idle pool, and the three
// process lists. Mirrors sched_diag() in the original — intentionally
// unlocked, since this is a debugging aid, not something a live request
// path depends on, and holding the lock across an io.Writer call that might
// block (a slow debug console) would stall real scheduling.
func (s *Scheduler) SchedDiag(w io.Writer) {
	fmt.Fprintln(w, "--- pcores ---")
	s.PrintIdleCoreMap(w)
	fmt.Fprintln(w, "--- prov map ---")
	s.PrintProvMap(w)
	fmt.Fprintln(w, "--- process lists ---")
	for _, k := range []ListKind{UnrunnableSCPs, RunnableSCPs, AllMCPs} {
		fmt.Fprintf(w, "%s (%d):\n", k, s.lists.len(k))
		s.lists.eachSafe(k, func(p *Process) {
			fmt.Fprintf(w, "  proc %d: state=%s wanted=%d granted=%d\n", p.ID, p.State, p.amtWanted, p.amtGranted)
		})
	}
}

// PrintIdleCoreMap lists every pcore and whether it is idle, allocated, or
// the management core.
func (s *Scheduler) PrintIdleCoreMap(w io.Writer) {
	for i := range s.pcores {
		pc := &s.pcores[i]
		switch {
		case pc.IsLL():
			fmt.Fprintf(w, "pcore %d: management core\n", pc.id)
		case pc.allocProc != nil:
			fmt.Fprintf(w, "pcore %d: allocated to proc %d\n", pc.id, pc.allocProc.ID)
		default:
			fmt.Fprintf(w, "pcore %d: idle\n", pc.id)
		}
	}
}

// PrintProvMap lists every provisioned pcore and its owner.
func (s *Scheduler) PrintProvMap(w io.Writer) {
	for i := range s.pcores {
		pc := &s.pcores[i]
		if pc.provProc != nil {
			fmt.Fprintf(w, "pcore %d: provisioned to proc %d (allocated=%v)\n", pc.id, pc.provProc.ID, pc.allocProc == pc.provProc)
		}
	}
}

// PrintProcProv dumps p's two provisioning lists with go-spew, the way
// containers-nri-plugins' cache package spew-dumps its internal trees for
// diagnostics.
func (s *Scheduler) PrintProcProv(w io.Writer, p *Process) {
	var allocMe, notAllocMe []PcoreID
	for e := p.provAllocMe.Front(); e != nil; e = e.Next() {
		allocMe = append(allocMe, e.Value.(*Pcore).id)
	}
	for e := p.provNotAllocMe.Front(); e != nil; e = e.Next() {
		notAllocMe = append(notAllocMe, e.Value.(*Pcore).id)
	}
	fmt.Fprintf(w, "proc %d provisioning:\n", p.ID)
	fmt.Fprint(w, debugDumper.Sdump(struct {
		AllocMe    []PcoreID
		NotAllocMe []PcoreID
	}{allocMe, notAllocMe}))
}

// PrintAllResources dumps amt_wanted/amt_granted/max_vcores for every MCP.
func (s *Scheduler) PrintAllResources(w io.Writer) {
	s.lists.eachSafe(AllMCPs, func(p *Process) {
		s.PrintResources(w, p)
	})
}

// PrintResources dumps p's resource counters.
func (s *Scheduler) PrintResources(w io.Writer, p *Process) {
	fmt.Fprintf(w, "proc %d: wanted=%d granted=%d max=%d\n", p.ID, p.amtWanted, p.amtGranted, p.maxVcores)
}
