// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/gob"
	"fmt"
	"log"
	"net"
)

// Client is a connection to a running ksched daemon. It registers at most
// one process per connection, the way perflock's Client holds at most one
// lock per connection.
type Client struct {
	c   net.Conn
	enc *gob.Encoder
	dec *gob.Decoder
}

// NewClient dials the daemon's control socket.
func NewClient(socketPath string) *Client {
	c, err := net.Dial("unix", socketPath)
	if err != nil {
		log.Print(err)
		log.Fatal("is the ksched daemon running?")
	}
	return &Client{c: c, enc: gob.NewEncoder(c), dec: gob.NewDecoder(c)}
}

// Close closes the underlying connection. The daemon destroys any process
// this client registered.
func (c *Client) Close() error { return c.c.Close() }

func (c *Client) do(action interface{}, response interface{}) {
	if err := c.enc.Encode(KschedAction{action}); err != nil {
		log.Fatal(err)
	}
	if err := c.dec.Decode(response); err != nil {
		log.Fatal(err)
	}
}

// Register registers a new process with maxVcores as its core ceiling.
func (c *Client) Register(maxVcores uint32) uint64 {
	var resp ActionRegisterResponse
	c.do(ActionRegister{MaxVcores: maxVcores}, &resp)
	return resp.ProcID
}

// ChangeToM requests this connection's process become an MCP.
func (c *Client) ChangeToM() error {
	return c.doErr(ActionChangeToM{})
}

// RequestCores publishes a new core desire.
func (c *Client) RequestCores(n uint32) error {
	return c.doErr(ActionRequestCores{N: n})
}

// Provision provisions pcore to this connection's process.
func (c *Client) Provision(pcore uint32) error {
	return c.doErr(ActionProvision{Pcore: pcore})
}

// PutIdleCores returns the given pcores.
func (c *Client) PutIdleCores(cores []uint32) error {
	return c.doErr(ActionPutIdleCores{Cores: cores})
}

// Wakeup asks the scheduler to reconsider this connection's process.
func (c *Client) Wakeup() error {
	return c.doErr(ActionWakeup{})
}

// Destroy tears down this connection's process.
func (c *Client) Destroy() error {
	return c.doErr(ActionDestroy{})
}

func (c *Client) doErr(action interface{}) error {
	var resp ActionErrResponse
	c.do(action, &resp)
	if resp.Err == "" {
		return nil
	}
	return fmt.Errorf("%s", resp.Err)
}

// Diag returns a text dump of scheduler state.
func (c *Client) Diag() string {
	var resp ActionDiagResponse
	c.do(ActionDiag{}, &resp)
	return resp.Text
}
