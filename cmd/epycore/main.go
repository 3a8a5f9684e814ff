// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/epicore/epycore/internal/comms"
	"github.com/epicore/epycore/internal/config"
	"github.com/epicore/epycore/internal/heap"
	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/loader"
	"github.com/epicore/epycore/internal/mailbox"
	"github.com/epicore/epycore/internal/monitor"
	"github.com/epicore/epycore/internal/symtab"
	epycorenats "github.com/epicore/epycore/pkg/nats"
	"github.com/epicore/epycore/pkg/runtimeEnv"
)

const (
	defaultSymbolTableSize = 1024
	defaultLocalHeapSize   = 1 << 16
	defaultSharedHeapSize  = 1 << 20
	defaultStackSize       = 1 << 16
)

func main() {
	var flagGops bool
	var flagConfigFile string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default runtime options by those specified in `config.json`")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := config.Init(flagConfigFile); err != nil {
		cclog.Fatalf("config: %s", err.Error())
	}

	ledger, err := mailbox.OpenLedger(config.Keys.LedgerPath)
	if err != nil {
		cclog.Fatalf("mailbox: %s", err.Error())
	}
	defer ledger.Close()

	sharedHeapSize := config.Keys.SharedHeapSize
	if sharedHeapSize <= 0 {
		sharedHeapSize = defaultSharedHeapSize
	}
	sharedHeap := heap.NewHeap(sharedHeapSize)

	var natsClient *epycorenats.Client
	if config.Keys.NATS.Address != "" {
		natsClient, err = epycorenats.NewClient(&config.Keys.NATS)
		if err != nil {
			cclog.Fatalf("nats: %s", err.Error())
		}
		defer natsClient.Close()
	}

	activeCores := activeCoreCount()

	cores, ctrls, err := buildCores(sharedHeap, activeCores)
	if err != nil {
		cclog.Fatalf("epycore: %s", err.Error())
	}

	dispatcher := mailbox.NewDispatcher(ctrls, sharedHeap, config.Keys.NodeID, config.Keys.CoresPerNode, os.Stdin)
	dispatcher.Ledger = ledger
	for _, c := range cores {
		if p := natsProxy(c.Ctrl.ID, activeCores, natsClient); p != nil {
			dispatcher.Proxies[c.Ctrl.ID] = p
		}
	}

	metrics := monitor.NewMetrics()
	dispatcher.Metrics = metrics

	mon := monitor.New(dispatcher, cores, ledger, metrics)
	mon.DisplayTiming = config.Keys.DisplayTiming

	sched, err := monitor.NewScheduler(mon)
	if err != nil {
		cclog.Fatalf("monitor: scheduler: %s", err.Error())
	}
	defer sched.Shutdown()

	// Because config.Keys.MetricsAddr may be a privileged port, the
	// listener is established first, then the user/group is dropped, and
	// only after that does the metrics server start serving.
	metricsListener, err := net.Listen("tcp", config.Keys.MetricsAddr)
	if err != nil {
		cclog.Fatalf("metrics: listen on %s failed: %s", config.Keys.MetricsAddr, err.Error())
	}

	if config.Keys.User != "" || config.Keys.Group != "" {
		if err := runtimeEnv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
			cclog.Fatalf("epycore: drop privileges: %s", err.Error())
		}
	}

	metricsSrv := &http.Server{Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.Serve(metricsListener); err != nil && err != http.ErrServerClosed {
			cclog.Errorf("metrics: serve on %s failed: %s", config.Keys.MetricsAddr, err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	mon.Start(ctx, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGUSR1 {
				checkpointSharedHeap(sharedHeap)
				continue
			}
			runtimeEnv.SystemdNotifiy(false, "shutting down")
			cancel()
			return
		}
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	for _, c := range cores {
		if p := dispatcher.Proxies[c.Ctrl.ID]; p != nil {
			p.Close()
		}
	}

	cclog.Info("epycore: graceful shutdown completed")
}

// activeCoreCount returns the true cluster-wide count of cores this run
// activates (spec.md §4.3's numActiveCores), which only equals
// CoresPerNode*nodes when intentActive leaves nothing inactive (spec.md
// §8 Scenario 1 is the spec's own example of a run that doesn't).
// config.Init always leaves IntentActive populated (either decoded from
// the config file or defaulted to all-true), so this never double-counts
// against an empty slice.
func activeCoreCount() int {
	n := 0
	for _, active := range config.Keys.IntentActive {
		if active {
			n++
		}
	}
	return n
}

// buildCores constructs one interpreter and control block per locally
// active core (spec.md §6's intentActive[TOTAL_CORES], restricted to
// this node's slice), loading each core's device binary via
// internal/loader.
func buildCores(sharedHeap *heap.Heap, activeCores int) ([]*monitor.Core, []*mailbox.CoreCtrl, error) {
	symSize := config.Keys.SymbolTableSize
	if symSize <= 0 {
		symSize = defaultSymbolTableSize
	}
	localHeapSize := config.Keys.LocalHeapSize
	if localHeapSize <= 0 {
		localHeapSize = defaultLocalHeapSize
	}

	binPath, err := loader.Resolve(context.Background(), loader.Options{
		BinName:  config.Keys.BinName,
		BinPath:  config.Keys.BinPath,
		BinS3URI: config.Keys.BinS3URI,
		LoadElf:  config.Keys.LoadElf,
		LoadSrec: config.Keys.LoadSrec,
	})
	if err != nil {
		return nil, nil, err
	}
	code, err := os.ReadFile(binPath)
	if err != nil {
		return nil, nil, err
	}

	var cores []*monitor.Core
	var ctrls []*mailbox.CoreCtrl
	for i := 0; i < config.Keys.CoresPerNode; i++ {
		globalID := comms.GlobalID(config.Keys.NodeID, i, config.Keys.CoresPerNode)
		if globalID < len(config.Keys.IntentActive) && !config.Keys.IntentActive[globalID] {
			continue
		}

		ctrl := mailbox.NewCoreCtrl(i)
		host := mailbox.NewCoreHost(ctrl)

		symbols := symtab.New(symSize)
		stack := heap.NewStack()
		localHeap := heap.NewHeap(localHeapSize)

		machine := interp.NewMachine(code, symbols, stack, sharedHeap, localHeap, host)
		machine.CoreID = i
		machine.NumActiveCores = activeCores

		cores = append(cores, &monitor.Core{Ctrl: ctrl, Machine: machine})
		ctrls = append(ctrls, ctrl)
	}
	return cores, ctrls, nil
}

// checkpointSharedHeap dumps the shared heap's chunk table on SIGUSR1, for
// postmortem inspection of a stuck or leaking run without stopping it.
func checkpointSharedHeap(sharedHeap *heap.Heap) {
	if config.Keys.CheckpointDir == "" {
		cclog.Warn("epycore: SIGUSR1 received but checkpoint-dir is not configured, skipping")
		return
	}
	if err := os.MkdirAll(config.Keys.CheckpointDir, 0o755); err != nil {
		cclog.Errorf("epycore: checkpoint dir: %s", err.Error())
		return
	}
	path := filepath.Join(config.Keys.CheckpointDir, fmt.Sprintf("shared-heap-%d.avro", time.Now().Unix()))
	if err := sharedHeap.Checkpoint(path); err != nil {
		cclog.Errorf("epycore: checkpoint: %s", err.Error())
	}
}

func natsProxy(localID, activeCores int, client *epycorenats.Client) *comms.Proxy {
	if client == nil {
		return nil
	}
	globalID := comms.GlobalID(config.Keys.NodeID, localID, config.Keys.CoresPerNode)
	p, err := comms.NewProxy(client, globalID, config.Keys.CoresPerNode, activeCores)
	if err != nil {
		cclog.Errorf("comms: proxy for core %d: %s", localID, err.Error())
		return nil
	}
	return p
}
