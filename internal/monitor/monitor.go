// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package monitor implements the host monitor loop (spec.md §4.5): a
// tight, non-blocking poll over every core's mailbox, run until no core
// is active. Grounded on the now-deleted teacher memorystore's
// background-goroutine supervisor shape (context.Context cancellation,
// a slice of per-unit worker state), generalized from "one goroutine per
// metric archiver" to "one goroutine per core, plus one poll loop over
// all of them."
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/mailbox"
)

// Core bundles one core's control block with its interpreter.
type Core struct {
	Ctrl    *mailbox.CoreCtrl
	Machine *interp.Machine
}

// Monitor owns the host-side poll loop plus one goroutine per active
// core running that core's interpreter (spec.md §4.5, §5's
// host-interpreter generalization).
type Monitor struct {
	Dispatcher *mailbox.Dispatcher
	Cores      []*Core
	Ledger     *mailbox.Ledger
	Metrics    *Metrics

	// YieldAfter is the number of consecutive idle poll passes (every
	// active core present but none busy) before the loop calls
	// runtime.Gosched, resolving spec.md §9's polling-vs-event-loop open
	// question in favor of a plain spin with a yield hint rather than a
	// condition variable: cores post requests far more often than the
	// scheduler would otherwise preempt this goroutine.
	YieldAfter int

	DisplayTiming bool
}

// New wires a Monitor over an already-constructed Dispatcher and set of
// cores.
func New(d *mailbox.Dispatcher, cores []*Core, ledger *mailbox.Ledger, metrics *Metrics) *Monitor {
	return &Monitor{
		Dispatcher: d,
		Cores:      cores,
		Ledger:     ledger,
		Metrics:    metrics,
		YieldAfter: 64,
	}
}

// Start launches one goroutine per core executing its program, each
// registered on wg so callers can wait for full program completion.
func (m *Monitor) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, c := range m.Cores {
		wg.Add(1)
		go m.runCore(ctx, c, wg)
	}
}

func (m *Monitor) runCore(ctx context.Context, c *Core, wg *sync.WaitGroup) {
	defer wg.Done()
	defer c.Ctrl.Deactivate()

	started := time.Now()
	if m.Ledger != nil {
		if err := m.Ledger.RecordStart(c.Ctrl.ID, started); err != nil {
			cclog.Warnf("monitor: ledger record start failed for core %d: %v", c.Ctrl.ID, err)
		}
	}

	stopOnCancel := make(chan struct{})
	defer close(stopOnCancel)
	go func() {
		select {
		case <-ctx.Done():
			c.Machine.Stop()
		case <-stopOnCancel:
		}
	}()

	_, err := c.Machine.Run(0)
	elapsed := time.Since(started)

	if err != nil {
		cclog.Errorf("monitor: error from core %d: %v", c.Ctrl.ID, err)
		if m.Ledger != nil {
			if lerr := m.Ledger.RecordError(c.Ctrl.ID, err.Error()); lerr != nil {
				cclog.Warnf("monitor: ledger record error failed for core %d: %v", c.Ctrl.ID, lerr)
			}
		}
	}

	if m.Ledger != nil {
		if lerr := m.Ledger.RecordStop(c.Ctrl.ID, time.Now(), elapsed); lerr != nil {
			cclog.Warnf("monitor: ledger record stop failed for core %d: %v", c.Ctrl.ID, lerr)
		}
	}

	if m.DisplayTiming {
		cclog.Infof("monitor: core %d finished in %s", c.Ctrl.ID, elapsed)
	}
	if m.Metrics != nil {
		m.Metrics.coresFinished.Inc()
	}
}

// Run drives the dispatcher's poll loop until every core has
// deactivated, yielding the goroutine between idle passes instead of
// busy-spinning the host CPU (spec.md §4.5).
func (m *Monitor) Run(ctx context.Context) {
	idle := 0
	for m.anyActive() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.Dispatcher.Poll()
		if m.Metrics != nil {
			m.Metrics.pollPasses.Inc()
		}

		busy := m.TotalActive()
		if m.Metrics != nil {
			m.Metrics.setBusyCores(busy)
		}

		if !m.anyBusy() {
			idle++
			if idle >= m.YieldAfter {
				runtime.Gosched()
				idle = 0
			}
		} else {
			idle = 0
		}
	}
}

func (m *Monitor) anyActive() bool {
	for _, c := range m.Cores {
		if c.Ctrl.Active() {
			return true
		}
	}
	return false
}

func (m *Monitor) anyBusy() bool {
	for _, c := range m.Cores {
		if c.Ctrl.Active() && c.Ctrl.Busy() {
			return true
		}
	}
	return false
}

// TotalActive returns the number of cores with core_run still set,
// exposed for the "active-core count" metric (spec.md §4.4).
func (m *Monitor) TotalActive() int {
	n := 0
	for _, c := range m.Cores {
		if c.Ctrl.Active() {
			n++
		}
	}
	return n
}
