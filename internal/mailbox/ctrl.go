// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mailbox implements the synchronous/asynchronous core<->host
// request protocol (spec.md §4.4) and the host-side dispatch that
// services it (spec.md §4.5), plus a per-run sqlite ledger of errors and
// elapsed time per core.
//
// In the original accelerator, CoreCtrl's Data area is a fixed-stride
// word array because core and host sit in genuinely separate address
// spaces and can only hand operands across a memory-mapped mailbox. In
// this rewrite cores and the host monitor are goroutines in one process
// (spec.md §5's "host-interpreter mode" generalized to every core), so
// there is no serialization boundary to cross: CoreCtrl carries typed Go
// fields directly instead of packed words. What is kept faithfully is the
// protocol's control-flow shape — a core posts a command and blocks on a
// completion channel, the host's poll loop notices the busy flag and
// services it, never the other way around (spec.md §9's resolved
// "stride-30 revised protocol" question: asynchronous two-phase
// SEND/RECV/SENDRECV, synchronous everything else).
package mailbox

import (
	"sync/atomic"

	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/value"
)

// Command is the request a core posts to its CoreCtrl.
type Command byte

const (
	CmdNone Command = iota
	CmdDisplay
	CmdInput
	CmdInputString
	CmdConcat
	CmdMath
	CmdSend
	CmdRecv
	CmdSendRecv
	CmdBcast
	CmdReduce
	CmdSync
)

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "none"
	case CmdDisplay:
		return "display"
	case CmdInput:
		return "input"
	case CmdInputString:
		return "input_string"
	case CmdConcat:
		return "concat"
	case CmdMath:
		return "math"
	case CmdSend:
		return "send"
	case CmdRecv:
		return "recv"
	case CmdSendRecv:
		return "sendrecv"
	case CmdBcast:
		return "bcast"
	case CmdReduce:
		return "reduce"
	case CmdSync:
		return "sync"
	default:
		return "unknown"
	}
}

// CoreCtrl is the per-core control block the host monitor polls (spec.md
// §4.4's core_ctrl analog).
type CoreCtrl struct {
	ID int

	busy    int32 // atomic: request pending or being serviced
	active  int32 // atomic: core_run (spec.md §4.4)
	Command Command

	// Request operands, set by the core before raising busy.
	ArgA, ArgB value.Value
	ArgStr     string
	MathOp     interp.MathOp
	ReduceOp   interp.ReduceOp
	Target     int

	// Reply, set by the host before releasing the core.
	Result    value.Value
	ResultStr string
	Err       error

	done chan struct{}
}

// NewCoreCtrl constructs an idle, active CoreCtrl. The original protocol
// (spec.md §4.4) tracks a monotonically increasing response-sequence
// counter seeded at 1 rather than a boolean; this rewrite collapses that
// counter to a pending/idle flag (see the package doc), so a fresh core
// starts idle (busy=0) with nothing queued, not "busy" with no command.
func NewCoreCtrl(id int) *CoreCtrl {
	return &CoreCtrl{ID: id, active: 1, done: make(chan struct{}, 1)}
}

// Busy reports whether a request is pending or in flight, read by the
// monitor's non-blocking poll loop (spec.md §4.5).
func (c *CoreCtrl) Busy() bool { return atomic.LoadInt32(&c.busy) != 0 }

// Active reports whether core_run is still set (spec.md §4.4): the
// monitor's active/totalActive tracking polls this instead of the busy
// flag, since a core can be active and idle at the same time.
func (c *CoreCtrl) Active() bool { return atomic.LoadInt32(&c.active) != 0 }

// Deactivate clears core_run, called by the core's own goroutine on STOP
// (spec.md §4.4 "A core clearing core_run while idle is deactivated").
func (c *CoreCtrl) Deactivate() { atomic.StoreInt32(&c.active, 0) }

// raise posts a request and blocks until the host services it.
func (c *CoreCtrl) raise(cmd Command) {
	c.Command = cmd
	atomic.StoreInt32(&c.busy, 1)
	<-c.done
}

// serviced writes the reply and releases the waiting core. Called from
// the host monitor's goroutine.
func (c *CoreCtrl) serviced(result value.Value, resultStr string, err error) {
	c.Result = result
	c.ResultStr = resultStr
	c.Err = err
	atomic.StoreInt32(&c.busy, 0)
	c.done <- struct{}{}
}
