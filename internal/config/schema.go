// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// configSchema validates the runtime configuration file against
// spec.md §6's environment, matching the teacher's embedded-JSON-Schema
// idiom (internal/config/schema.go + validate.go in the original).
var configSchema = `
{
  "type": "object",
  "properties": {
    "node-id": {
      "description": "This node's rank within the cluster (spec.md §4.6 globalId = nodeId*TOTAL_CORES + localId).",
      "type": "integer",
      "minimum": 0
    },
    "total-cores": {
      "description": "TOTAL_CORES across the whole cluster.",
      "type": "integer",
      "minimum": 1
    },
    "cores-per-node": {
      "description": "Cores on this node; when omitted, the built-in default of 16 is kept.",
      "type": "integer",
      "minimum": 1
    },
    "intent-active": {
      "description": "Per-core activation flags (spec.md §6 intentActive[TOTAL_CORES]).",
      "type": "array",
      "items": { "type": "boolean" }
    },
    "core-procs": {
      "description": "Cores executed as cooperative on-device threads.",
      "type": "integer",
      "minimum": 0
    },
    "host-procs": {
      "description": "Cores executed as host-side interpreter goroutines (spec.md §5 host-interpreter mode).",
      "type": "integer",
      "minimum": 0
    },
    "force-code-on-core": { "type": "boolean" },
    "force-code-on-shared": { "type": "boolean" },
    "force-data-on-shared": { "type": "boolean" },
    "display-timing": { "type": "boolean" },
    "load-elf": { "type": "boolean" },
    "load-srec": { "type": "boolean" },
    "bin-name": { "type": "string" },
    "bin-path": { "type": "string" },
    "bin-s3-uri": { "type": "string" },
    "shared-heap-size": { "type": "integer", "minimum": 0 },
    "local-heap-size": { "type": "integer", "minimum": 0 },
    "stack-size": { "type": "integer", "minimum": 0 },
    "symbol-table-size": { "type": "integer", "minimum": 0 },
    "nats": {
      "type": "object",
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" }
      }
    },
    "metrics-addr": { "type": "string" },
    "checkpoint-dir": { "type": "string" },
    "ledger-path": { "type": "string" },
    "user": { "type": "string" },
    "group": { "type": "string" }
  },
  "required": ["total-cores"]
}`
