// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import "container/list"

// ListKind names one of the three scheduler-visible process lists a
// process may belong to (or none).
type ListKind int

const (
	// NoList means the process is not currently on any scheduler list.
	NoList ListKind = iota
	// UnrunnableSCPs holds SCPs not currently eligible for dispatch.
	UnrunnableSCPs
	// RunnableSCPs holds SCPs eligible to run on the management core.
	RunnableSCPs
	// AllMCPs holds every MCP, regardless of dispatch state.
	AllMCPs
)

func (k ListKind) String() string {
	switch k {
	case UnrunnableSCPs:
		return "unrunnable_scps"
	case RunnableSCPs:
		return "runnable_scps"
	case AllMCPs:
		return "all_mcps"
	default:
		return "none"
	}
}

// procLists holds the three named lists of spec.md §4.2. A process belongs
// to at most one of them at a time (invariant I1).
type procLists struct {
	lists [3]*list.List // indexed by ListKind-1
}

func newProcLists() procLists {
	return procLists{lists: [3]*list.List{list.New(), list.New(), list.New()}}
}

func (pl *procLists) listFor(k ListKind) *list.List {
	if k == NoList {
		return nil
	}
	return pl.lists[k-1]
}

func (pl *procLists) len(k ListKind) int {
	l := pl.listFor(k)
	if l == nil {
		return 0
	}
	return l.Len()
}

// add appends p to the tail of list k and records membership on p.
func (pl *procLists) add(p *Process, k ListKind) {
	l := pl.listFor(k)
	p.listElem = l.PushBack(p)
	p.curList = k
}

// remove removes p from list k. It panics if p is not actually on k —
// list-membership corruption is a scheduler bug, not a user error
// (spec.md §7).
func (pl *procLists) remove(p *Process, k ListKind) {
	if p.curList != k {
		panic(assertf("sched: remove(%v): process is on %v, not %v", p.ID, p.curList, k))
	}
	pl.listFor(k).Remove(p.listElem)
	p.listElem = nil
	p.curList = NoList
}

// switchList moves p from old to the tail of new. Used by the
// dispatcher for SCP round-robin and by change_to_m for the SCP->MCP
// transition.
func (pl *procLists) switchList(p *Process, old, new_ ListKind) {
	pl.remove(p, old)
	pl.add(p, new_)
}

// removeAny removes p from whatever list it is on, if any. No-op if p is
// not on a list.
func (pl *procLists) removeAny(p *Process) {
	if p.curList == NoList {
		return
	}
	pl.remove(p, p.curList)
}

// front returns the head of list k without removing it, or nil if empty.
func (pl *procLists) front(k ListKind) *Process {
	l := pl.listFor(k)
	e := l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Process)
}

// eachSafe calls fn for every process currently on list k, tolerating
// fn removing the current process from the list mid-iteration
// (TAILQ_FOREACH_SAFE in the original). If fn removes the process after
// the current one, the walk ends there.
func (pl *procLists) eachSafe(k ListKind, fn func(*Process)) {
	l := pl.listFor(k)
	e := l.Front()
	for e != nil {
		next := e.Next()
		fn(e.Value.(*Process))
		e = next
	}
}
