// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mailbox

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/epicore/epycore/internal/comms"
	"github.com/epicore/epycore/internal/heap"
	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/value"
)

// Metrics is the subset of internal/monitor's Prometheus instrumentation
// the dispatcher reports into; defined here (rather than imported) so
// internal/mailbox does not depend on internal/monitor, which sits above
// it in the dependency order (spec.md §2).
type Metrics interface {
	CommandServed(command string)
	ObserveReduce(time.Duration)
	ObserveSync(time.Duration)
}

// Dispatcher services every local core's mailbox requests (spec.md
// §4.5): the one place that actually performs display/input, host math,
// string concatenation, and routes SEND/RECV/BCAST/REDUCE/SYNC to either
// the local router (same node) or the comms proxy (cross-node). The
// monitor package's poll loop is the only caller of Poll.
type Dispatcher struct {
	Cores []*CoreCtrl

	SharedHeap *heap.Heap
	Router     *LocalRouter
	Ledger     *Ledger
	Metrics    Metrics

	NodeID       int
	CoresPerNode int

	// Proxies is indexed by local core id; nil when running single-node
	// without a comms substrate configured.
	Proxies map[int]*comms.Proxy

	Input *bufio.Reader

	mu       sync.Mutex
	inFlight map[*CoreCtrl]bool
}

// NewDispatcher wires a Dispatcher for nodeID's cores.
func NewDispatcher(cores []*CoreCtrl, sharedHeap *heap.Heap, nodeID, coresPerNode int, input io.Reader) *Dispatcher {
	return &Dispatcher{
		Cores:        cores,
		SharedHeap:   sharedHeap,
		Router:       NewLocalRouter(),
		NodeID:       nodeID,
		CoresPerNode: coresPerNode,
		Proxies:      make(map[int]*comms.Proxy),
		Input:        bufio.NewReader(input),
		inFlight:     make(map[*CoreCtrl]bool),
	}
}

// Poll performs one non-blocking pass over every active core, dispatching
// any pending request onto its own goroutine so a slow collective
// doesn't stall the scan of the other cores (spec.md §4.5's "tight,
// non-blocking" requirement).
func (d *Dispatcher) Poll() {
	for _, c := range d.Cores {
		if !c.Active() || !c.Busy() {
			continue
		}
		d.mu.Lock()
		already := d.inFlight[c]
		if !already {
			d.inFlight[c] = true
		}
		d.mu.Unlock()
		if already {
			continue
		}
		go d.service(c)
	}
}

func (d *Dispatcher) globalID(c *CoreCtrl) int {
	return comms.GlobalID(d.NodeID, c.ID, d.CoresPerNode)
}

func (d *Dispatcher) isLocal(target int) bool {
	return target/d.CoresPerNode == d.NodeID
}

func (d *Dispatcher) service(c *CoreCtrl) {
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, c)
		d.mu.Unlock()
	}()

	if d.Metrics != nil {
		d.Metrics.CommandServed(c.Command.String())
	}

	switch c.Command {
	case CmdDisplay:
		fmt.Print(c.ArgStr)
		c.serviced(value.NewNone(), "", nil)
	case CmdInput:
		v, err := d.readValue()
		c.serviced(v, "", err)
	case CmdInputString:
		s, err := d.readLine()
		c.serviced(value.NewNone(), s, err)
	case CmdConcat:
		c.serviced(d.concat(c.ArgStr))
	case CmdMath:
		r, err := d.doMath(c.MathOp, c.ArgA.Flt)
		c.serviced(value.NewReal(r), "", err)
	case CmdSend:
		err := d.send(c, c.Target, c.ArgA)
		c.serviced(value.NewNone(), "", err)
	case CmdRecv:
		v, err := d.recv(c, c.Target)
		c.serviced(v, "", err)
	case CmdSendRecv:
		v, err := d.sendRecv(c, c.Target, c.ArgA)
		c.serviced(v, "", err)
	case CmdBcast:
		v, err := d.proxyFor(c).Bcast(c.Target, c.ArgA)
		c.serviced(v, "", err)
	case CmdReduce:
		start := time.Now()
		v, err := d.proxyFor(c).Reduce(c.ReduceOp, c.ArgA)
		if d.Metrics != nil {
			d.Metrics.ObserveReduce(time.Since(start))
		}
		c.serviced(v, "", err)
	case CmdSync:
		start := time.Now()
		err := d.proxyFor(c).Sync()
		if d.Metrics != nil {
			d.Metrics.ObserveSync(time.Since(start))
		}
		c.serviced(value.NewNone(), "", err)
	default:
		c.serviced(value.NewNone(), "", fmt.Errorf("mailbox: unknown command %d", c.Command))
	}

	if c.Err != nil && d.Ledger != nil {
		if err := d.Ledger.RecordError(c.ID, c.Err.Error()); err != nil {
			cclog.Warnf("mailbox: ledger record failed: %v", err)
		}
	}
}

func (d *Dispatcher) proxyFor(c *CoreCtrl) *comms.Proxy { return d.Proxies[c.ID] }

func (d *Dispatcher) send(c *CoreCtrl, target int, v value.Value) error {
	if d.isLocal(target) {
		return d.Router.Send(target, v)
	}
	return d.proxyFor(c).Send(target, v)
}

func (d *Dispatcher) recv(c *CoreCtrl, source int) (value.Value, error) {
	if d.isLocal(source) {
		return d.Router.Recv(source), nil
	}
	return d.proxyFor(c).Recv(source)
}

func (d *Dispatcher) sendRecv(c *CoreCtrl, target int, v value.Value) (value.Value, error) {
	if d.isLocal(target) {
		if err := d.Router.Send(target, v); err != nil {
			return value.NewNone(), err
		}
		return d.Router.Recv(d.globalID(c)), nil
	}
	return d.proxyFor(c).SendRecv(target, v)
}

// concat splits "a\x00b" back into its two halves and writes the joined
// result to the shared heap, visible to every core (spec.md §4.4).
func (d *Dispatcher) concat(packed string) (value.Value, string, error) {
	a, b := splitPacked(packed)
	joined := a + b
	ptr, err := d.SharedHeap.Alloc(len(joined)+1, nil, nil)
	if err != nil {
		return value.NewNone(), "", fmt.Errorf("mailbox: concat alloc: %w", err)
	}
	buf, err := d.SharedHeap.Payload(ptr)
	if err != nil {
		return value.NewNone(), "", err
	}
	copy(buf, joined)
	buf[len(joined)] = 0
	return value.NewString(ptr), "", nil
}

func splitPacked(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// doMath implements the MATHS table (spec.md §4.3), the one surface
// where the host performs a computation the device's interpreter can't
// do locally.
func (d *Dispatcher) doMath(op interp.MathOp, x float64) (float64, error) {
	switch op {
	case interp.MathSqrt:
		return math.Sqrt(x), nil
	case interp.MathSin:
		return math.Sin(x), nil
	case interp.MathCos:
		return math.Cos(x), nil
	case interp.MathTan:
		return math.Tan(x), nil
	case interp.MathAsin:
		return math.Asin(x), nil
	case interp.MathAcos:
		return math.Acos(x), nil
	case interp.MathAtan:
		return math.Atan(x), nil
	case interp.MathSinh:
		return math.Sinh(x), nil
	case interp.MathCosh:
		return math.Cosh(x), nil
	case interp.MathTanh:
		return math.Tanh(x), nil
	case interp.MathFloor:
		return math.Floor(x), nil
	case interp.MathCeil:
		return math.Ceil(x), nil
	case interp.MathLog:
		return math.Log(x), nil
	case interp.MathLog10:
		return math.Log10(x), nil
	case interp.MathRandom:
		return rand.Float64(), nil
	default:
		return 0, fmt.Errorf("mailbox: unknown math op %d", op)
	}
}

func (d *Dispatcher) readValue() (value.Value, error) {
	line, err := d.readLine()
	if err != nil {
		return value.NewNone(), err
	}
	var i int64
	if _, err := fmt.Sscanf(line, "%d", &i); err == nil {
		return value.NewInt(i), nil
	}
	var f float64
	if _, err := fmt.Sscanf(line, "%f", &f); err == nil {
		return value.NewReal(f), nil
	}
	return value.NewNone(), nil
}

func (d *Dispatcher) readLine() (string, error) {
	line, err := d.Input.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("mailbox: input read: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
