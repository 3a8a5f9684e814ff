// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

// NatsConfig holds the configuration for connecting to a NATS server.
// Embedded as internal/config.RuntimeConfig.NATS; internal/config owns
// schema validation and decoding for the whole runtime config (see
// internal/config/schema.go's "nats" properties), so this package
// carries only the field set, not its own Init/schema pair.
type NatsConfig struct {
	Address       string `json:"address"`         // NATS server address (e.g., "nats://localhost:4222")
	Username      string `json:"username"`        // Username for authentication (optional)
	Password      string `json:"password"`        // Password for authentication (optional)
	CredsFilePath string `json:"creds-file-path"` // Path to credentials file (optional)
}
