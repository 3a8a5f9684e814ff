// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package monitor

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// StallThreshold is how long a core may sit active-but-idle (core_run
// set, core_busy clear) before the stall detector logs it, filling the
// gap spec.md §5's cancellation/timeouts section leaves open ("An
// unmatched send or receive deadlocks") with an observability aid
// rather than new semantics.
const StallThreshold = 30 * time.Second

// Scheduler runs the periodic stall detector on a gocron schedule
// instead of a hand-rolled time.Ticker, per SPEC_FULL.md's DOMAIN STACK
// wiring for go-co-op/gocron/v2. A periodic shared-heap GC sweep was
// deliberately not added here: heap.Heap.GC marks live chunks from a
// single symtab.Table's roots, but the shared heap is reachable from
// every core's table at once (spec.md §4.2) — sweeping against only one
// core's roots would free chunks another core still references. GC
// stays driven by heap.Alloc's existing retry-with-the-caller's-table
// path.
type Scheduler struct {
	sched gocron.Scheduler
}

// NewScheduler starts the stall-detector job watching mon. Callers must
// call Shutdown to stop it.
func NewScheduler(mon *Monitor) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	idleSince := make(map[int]time.Time)

	if _, err := sched.NewJob(
		gocron.DurationJob(5*time.Second),
		gocron.NewTask(func() {
			now := time.Now()
			for _, c := range mon.Cores {
				if !c.Ctrl.Active() || c.Ctrl.Busy() {
					delete(idleSince, c.Ctrl.ID)
					continue
				}
				since, seen := idleSince[c.Ctrl.ID]
				if !seen {
					idleSince[c.Ctrl.ID] = now
					continue
				}
				if now.Sub(since) >= StallThreshold {
					cclog.Warnf("monitor: core %d active but idle for %s (possible unmatched send/recv)", c.Ctrl.ID, now.Sub(since))
				}
			}
		}),
	); err != nil {
		return nil, err
	}

	sched.Start()
	return &Scheduler{sched: sched}, nil
}

// Shutdown stops the scheduler's jobs.
func (s *Scheduler) Shutdown() error { return s.sched.Shutdown() }
