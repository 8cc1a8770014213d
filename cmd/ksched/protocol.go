// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "encoding/gob"

// KschedAction is the envelope every wire message travels in, carried over
// a gob.Encoder/gob.Decoder pair on a Unix domain socket connection — the
// same envelope shape as perflock's PerfLockAction, generalized from one
// action (acquire) to one per scheduler entry point a client may drive.
type KschedAction struct {
	Action interface{}
}

// ActionRegister registers a new process with the scheduler. The
// connection becomes that process's owner for the lifetime of the socket:
// closing the connection destroys it, the way perflock's connections drop
// their lock on close.
type ActionRegister struct {
	MaxVcores uint32
}

// ActionRegisterResponse reports the id the scheduler assigned.
type ActionRegisterResponse struct {
	ProcID uint64
}

// ActionChangeToM requests the connection's process perform its one-way
// SCP->MCP transition (spec.md §4.9, Open Question (b): no reverse path).
type ActionChangeToM struct{}

// ActionRequestCores publishes a new core desire and pokes the scheduler
// (RES_CORES only, spec.md §6).
type ActionRequestCores struct {
	N uint32
}

// ActionProvision provisions the given pcore to the connection's own
// process. A real deployment would let an operator provision on behalf of
// any process; this demo protocol only supports self-provisioning to keep
// the wire surface small.
type ActionProvision struct {
	Pcore uint32
}

// ActionPutIdleCores returns cores the connection's process is voluntarily
// giving up.
type ActionPutIdleCores struct {
	Cores []uint32
}

// ActionWakeup asks the scheduler to reconsider the connection's process
// (proc_wakeup).
type ActionWakeup struct{}

// ActionDestroy tears down the connection's process.
type ActionDestroy struct{}

// ActionDiag requests a text dump of scheduler state (sched_diag).
type ActionDiag struct{}

// ActionErrResponse carries an error back to the client, or an empty
// string on success.
type ActionErrResponse struct {
	Err string
}

// ActionDiagResponse carries a SchedDiag text dump.
type ActionDiagResponse struct {
	Text string
}

func init() {
	gob.Register(ActionRegister{})
	gob.Register(ActionRegisterResponse{})
	gob.Register(ActionChangeToM{})
	gob.Register(ActionRequestCores{})
	gob.Register(ActionProvision{})
	gob.Register(ActionPutIdleCores{})
	gob.Register(ActionWakeup{})
	gob.Register(ActionDestroy{})
	gob.Register(ActionDiag{})
	gob.Register(ActionErrResponse{})
	gob.Register(ActionDiagResponse{})
}
