// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the runtime configuration a monitor
// process needs to bring up a mesh of accelerator cores: the environment
// spec.md §6 lists (forceCodeOnCore, forceCodeOnShared, forceDataOnShared,
// displayTiming, loadElf, loadSrec, intentActive[TOTAL_CORES], coreProcs,
// hostProcs) plus the ambient additions a real deployment needs (the NATS
// address backing internal/comms, a Prometheus listen address, a
// checkpoint directory for internal/heap, and the sqlite ledger path for
// internal/mailbox). Grounded on the teacher's config.go/schema.go/
// validate.go split (defaulted literal + JSON-Schema-validated override).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/epicore/epycore/pkg/nats"
)

// Keys is the process-wide runtime configuration, defaulted below and
// optionally overridden by Init from a JSON file.
var Keys = RuntimeConfig{
	TotalCores:   16,
	CoresPerNode: 16,
	NodeID:       0,
	CoreProcs:    1,
	HostProcs:    1,
	BinName:      "epycore",
	BinPath:      ".",
	MetricsAddr:  ":9401",
	LedgerPath:   "./var/epycore-ledger.db",
}

// RuntimeConfig is the runtime core's environment (spec.md §6).
type RuntimeConfig struct {
	// Identity and topology.
	NodeID       int    `json:"node-id"`
	TotalCores   int    `json:"total-cores"`
	CoresPerNode int    `json:"cores-per-node"`
	IntentActive []bool `json:"intent-active,omitempty"`

	// Process placement (spec.md §6's coreProcs/hostProcs): how many
	// cores run under on-device cooperative threads vs. as host-side
	// interpreter goroutines (spec.md §5's "host-interpreter mode").
	CoreProcs int `json:"core-procs"`
	HostProcs int `json:"host-procs"`

	// Placement flags (spec.md §6).
	ForceCodeOnCore   bool `json:"force-code-on-core"`
	ForceCodeOnShared bool `json:"force-code-on-shared"`
	ForceDataOnShared bool `json:"force-data-on-shared"`
	DisplayTiming     bool `json:"display-timing"`
	LoadElf           bool `json:"load-elf"`
	LoadSrec          bool `json:"load-srec"`

	// Device binary location (spec.md §6's "External Interfaces").
	BinName string `json:"bin-name"`
	BinPath string `json:"bin-path"`
	// BinS3URI optionally resolves the device binary from an S3 object
	// (e.g. "s3://bucket/key") before falling back to BinPath, the
	// supplemented remote-artifact-fetch feature (SPEC_FULL.md).
	BinS3URI string `json:"bin-s3-uri,omitempty"`

	// Shared memory region sizing (spec.md §6's shared layout table).
	SharedHeapSize  int `json:"shared-heap-size"`
	LocalHeapSize   int `json:"local-heap-size"`
	StackSize       int `json:"stack-size"`
	SymbolTableSize int `json:"symbol-table-size"`

	// Ambient services.
	NATS          nats.NatsConfig `json:"nats"`
	MetricsAddr   string          `json:"metrics-addr"`
	CheckpointDir string          `json:"checkpoint-dir,omitempty"`
	LedgerPath    string          `json:"ledger-path"`

	// User/Group are dropped into after startup via runtimeEnv.DropPrivileges,
	// once the metrics listener and shared memory regions are already open.
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// Init loads and validates path (if present; a missing file is not an
// error, matching the teacher's "defaults only" behavior), decoding over
// Keys's defaults.
func Init(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if len(Keys.IntentActive) == 0 {
				Keys.IntentActive = make([]bool, Keys.TotalCores)
				for i := range Keys.IntentActive {
					Keys.IntentActive[i] = true
				}
			}
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := Validate(configSchema, raw); err != nil {
		return fmt.Errorf("config: validate %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	if Keys.TotalCores <= 0 {
		return fmt.Errorf("config: total-cores must be positive")
	}
	if Keys.CoresPerNode <= 0 {
		Keys.CoresPerNode = Keys.TotalCores
	}
	if len(Keys.IntentActive) == 0 {
		Keys.IntentActive = make([]bool, Keys.TotalCores)
		for i := range Keys.IntentActive {
			Keys.IntentActive[i] = true
		}
	}

	cclog.Infof("config: loaded %s (node %d, %d cores/node)", path, Keys.NodeID, Keys.CoresPerNode)
	return nil
}
