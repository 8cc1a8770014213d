// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/gob"
	"io"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/aclements/ksched/internal/procfacility"
	"github.com/aclements/ksched/internal/sched"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"inet.af/peercred"
)

// Daemon owns the scheduler and accepts connections on a Unix domain
// socket, one goroutine per connection, the way perflock's doDaemon/Server
// pair does — generalized from perflock's single lock-acquire action to
// the client actions defined in protocol.go.
type Daemon struct {
	sched *sched.Scheduler
	log   *zap.SugaredLogger

	nextProcID atomic.Uint64
}

// NewDaemon creates a Daemon bound to s.
func NewDaemon(s *sched.Scheduler, log *zap.Logger) *Daemon {
	return &Daemon{sched: s, log: log.Sugar().Named("daemon")}
}

// Listen accepts connections on path until ctx is cancelled or the listener
// otherwise fails. Connections are served in their own goroutine; errors
// from individual connections never bring the listener down, mirroring
// perflock's doDaemon accept loop.
func (d *Daemon) Listen(ctx context.Context, path string) error {
	isAbstractSocket := runtime.GOOS == "linux" && len(path) > 1 && path[0] == '@'
	if !isAbstractSocket {
		os.Remove(path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer l.Close()
	if !isAbstractSocket {
		if err := os.Chmod(path, 0777); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go d.serve(conn)
	}
}

func (d *Daemon) serve(c net.Conn) {
	defer c.Close()

	sessionID := uuid.NewString()
	log := d.log.With("session", sessionID)

	userName := "???"
	if cred, err := peercred.Get(c); err == nil {
		if uid, ok := cred.UserID(); ok {
			if u, err := user.LookupId(uid); err == nil {
				userName = u.Username
			}
		}
	} else {
		log.Warnw("reading peer credentials", "error", err)
	}
	log = log.With("user", userName)
	log.Info("connection opened")
	defer log.Info("connection closed")

	conn := &connHandler{
		d:   d,
		c:   c,
		log: log,
		dec: gob.NewDecoder(c),
		enc: gob.NewEncoder(c),
	}
	conn.run()
}

// connHandler holds one connection's state: at most one registered
// process, referenced by its RefProcess facility.
type connHandler struct {
	d   *Daemon
	c   net.Conn
	log *zap.SugaredLogger
	dec *gob.Decoder
	enc *gob.Encoder

	proc *procfacility.RefProcess
}

func (h *connHandler) run() {
	defer h.drop()

	for {
		var msg KschedAction
		if err := h.dec.Decode(&msg); err != nil {
			if err != io.EOF {
				h.log.Warnw("decode error", "error", err)
			}
			return
		}
		if !h.dispatch(msg.Action) {
			return
		}
	}
}

// dispatch handles one decoded action. It returns false if the connection
// should be closed.
func (h *connHandler) dispatch(action interface{}) bool {
	switch a := action.(type) {
	case ActionRegister:
		if h.proc != nil {
			h.log.Warn("protocol error: registering twice")
			return false
		}
		id := h.d.nextProcID.Add(1)
		h.proc = procfacility.New(h.d.sched, id, a.MaxVcores)
		return h.send(ActionRegisterResponse{ProcID: h.proc.Proc.ID})

	case ActionChangeToM:
		if !h.requireRegistered() {
			return false
		}
		err := h.proc.RequestChangeToM()
		return h.send(ActionErrResponse{Err: errString(err)})

	case ActionRequestCores:
		if !h.requireRegistered() {
			return false
		}
		err := h.proc.RequestCores(a.N)
		return h.send(ActionErrResponse{Err: errString(err)})

	case ActionProvision:
		if !h.requireRegistered() {
			return false
		}
		h.d.sched.ProvisionCore(h.proc.Proc, sched.PcoreID(a.Pcore))
		return h.send(ActionErrResponse{})

	case ActionPutIdleCores:
		if !h.requireRegistered() {
			return false
		}
		ids := make([]sched.PcoreID, len(a.Cores))
		for i, c := range a.Cores {
			ids[i] = sched.PcoreID(c)
		}
		h.d.sched.PutIdleCores(h.proc.Proc, ids)
		return h.send(ActionErrResponse{})

	case ActionWakeup:
		if !h.requireRegistered() {
			return false
		}
		h.d.sched.ProcWakeup(h.proc.Proc)
		return h.send(ActionErrResponse{})

	case ActionDestroy:
		if !h.requireRegistered() {
			return false
		}
		h.d.sched.ProcDestroy(h.proc.Proc)
		return h.send(ActionErrResponse{})

	case ActionDiag:
		var sb strings.Builder
		h.d.sched.SchedDiag(&sb)
		return h.send(ActionDiagResponse{Text: sb.String()})

	default:
		h.log.Warnw("unknown action", "type", action)
		return false
	}
}

func (h *connHandler) requireRegistered() bool {
	if h.proc == nil {
		h.log.Warn("protocol error: action before register")
		return false
	}
	return true
}

func (h *connHandler) send(a interface{}) bool {
	if err := h.enc.Encode(a); err != nil {
		h.log.Warnw("encode error", "error", err)
		return false
	}
	return true
}

func (h *connHandler) drop() {
	if h.proc != nil {
		h.d.sched.ProcDestroy(h.proc.Proc)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
