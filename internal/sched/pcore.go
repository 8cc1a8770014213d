// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import "container/list"

// PcoreID identifies a physical core by its index into the pcore table.
type PcoreID uint32

// ManagementCore is the low-latency / management core. It is never placed
// in the idle pool and never provisioned to any process.
const ManagementCore PcoreID = 0

// Pcore is the per-physical-core record. The pcore table owns every Pcore;
// Process and idlePool only ever hold weak references (a *Pcore or a
// list.Element) into it.
type Pcore struct {
	id PcoreID

	allocProc *Process // process currently granted this core, or nil
	provProc  *Process // process this core is provisioned to, or nil

	// ignoreNextIdle absorbs "ghost returns": a put_idle_core call that
	// arrives for a core we've already reassigned out from under its
	// previous owner. See §4.5 of the spec for the race this resolves.
	ignoreNextIdle uint32

	idleElem *list.Element // membership in the idle pool, or nil
	provElem *list.Element // membership in a Process prov list, or nil
}

// ID returns the pcore's index.
func (pc *Pcore) ID() PcoreID { return pc.id }

// IsLL reports whether this is the low-latency/management core. Only
// pcore 0 is LL in this design.
func (pc *Pcore) IsLL() bool { return pc.id == ManagementCore }

// idlePool is the FIFO sequence of currently unassigned CG pcores.
// Insertion is always at the tail, removal at the head (or by explicit
// unlink when a pcore is claimed out of order by a preempt-or-steal pass).
type idlePool struct {
	l *list.List
}

func newIdlePool() idlePool {
	return idlePool{l: list.New()}
}

func (p *idlePool) pushBack(pc *Pcore) {
	pc.idleElem = p.l.PushBack(pc)
}

// popFront removes and returns the head of the idle pool, or nil if empty.
func (p *idlePool) popFront() *Pcore {
	e := p.l.Front()
	if e == nil {
		return nil
	}
	pc := e.Value.(*Pcore)
	p.l.Remove(e)
	pc.idleElem = nil
	return pc
}

// remove unlinks pc from the idle pool. pc must currently be a member.
func (p *idlePool) remove(pc *Pcore) {
	p.l.Remove(pc.idleElem)
	pc.idleElem = nil
}

func (p *idlePool) len() int { return p.l.Len() }

// each calls fn for every idle pcore, head to tail.
func (p *idlePool) each(fn func(*Pcore)) {
	for e := p.l.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Pcore))
	}
}

// newPcoreTable allocates the fixed pcore array and seeds the idle pool.
//
// If noSMT is true, only odd-numbered cores (1, 3, 5, ...) are enqueued as
// idle CG cores, mirroring __CONFIG_DISABLE_SMT__ in the original; numCores
// must then be even. Otherwise every core but 0 is enqueued.
func newPcoreTable(numCores int, noSMT bool) ([]Pcore, idlePool) {
	if numCores < 1 {
		panic("sched: numCores must be >= 1")
	}
	if noSMT && numCores%2 != 0 {
		panic("sched: noSMT requires an even core count")
	}

	table := make([]Pcore, numCores)
	for i := range table {
		table[i].id = PcoreID(i)
	}

	pool := newIdlePool()
	if noSMT {
		for i := 1; i < numCores; i += 2 {
			pool.pushBack(&table[i])
		}
	} else {
		for i := 1; i < numCores; i++ {
			pool.pushBack(&table[i])
		}
	}
	return table, pool
}
