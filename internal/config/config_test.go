// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Keys = RuntimeConfig{TotalCores: 16, CoresPerNode: 16}
	require.NoError(t, Init(filepath.Join(t.TempDir(), "does-not-exist.json")))
	assert.Equal(t, 16, Keys.TotalCores)
}

func TestInitOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeFile(path, `{
		"node-id": 2,
		"total-cores": 32,
		"cores-per-node": 16,
		"core-procs": 12,
		"host-procs": 4,
		"display-timing": true,
		"nats": {"address": "nats://127.0.0.1:4222"}
	}`))

	Keys = RuntimeConfig{}
	require.NoError(t, Init(path))

	assert.Equal(t, 2, Keys.NodeID)
	assert.Equal(t, 32, Keys.TotalCores)
	assert.Equal(t, 16, Keys.CoresPerNode)
	assert.True(t, Keys.DisplayTiming)
	assert.Equal(t, "nats://127.0.0.1:4222", Keys.NATS.Address)
	assert.Len(t, Keys.IntentActive, 32)
	for _, active := range Keys.IntentActive {
		assert.True(t, active)
	}
}

func TestInitRejectsMissingTotalCores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeFile(path, `{"node-id": 0}`))

	Keys = RuntimeConfig{}
	assert.Error(t, Init(path))
}

func TestInitRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeFile(path, `{"total-cores": 16, "bogus-field": 1}`))

	Keys = RuntimeConfig{}
	assert.Error(t, Init(path))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
