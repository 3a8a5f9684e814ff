// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicore/epycore/internal/value"
)

func TestResolveAllocatesOnFirstUse(t *testing.T) {
	tab := New(8)
	e, err := tab.Resolve(1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Allocated, e.State)
	assert.Equal(t, value.NewInt(0), e.Value)

	// A second resolve at the same id/level returns the same entry.
	e2, err := tab.Resolve(1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, e, e2)
}

func TestLetWritesThroughAlias(t *testing.T) {
	tab := New(8)
	_, err := tab.Resolve(10, 0, false) // caller's argument symbol
	require.NoError(t, err)
	require.NoError(t, tab.Let(10, 0, value.NewInt(7)))

	require.NoError(t, tab.BindAlias(5, 1, 10)) // formal param 5 at level 1 aliases 10 at level 0
	require.NoError(t, tab.Let(5, 1, value.NewInt(99)))

	e, err := tab.Resolve(10, 0, false)
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(99), e.Value)
}

func TestLetNoAliasSkipsAliasEntries(t *testing.T) {
	tab := New(8)
	_, err := tab.Resolve(10, 0, false)
	require.NoError(t, err)
	require.NoError(t, tab.Let(10, 0, value.NewInt(1)))
	require.NoError(t, tab.BindAlias(5, 1, 10))

	require.NoError(t, tab.LetNoAlias(5, 1, value.NewInt(42)))

	e, err := tab.Resolve(10, 0, false)
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(1), e.Value, "LETNOALIAS must not write through an alias")
}

func TestClearToLevelReclaimsCallFrame(t *testing.T) {
	tab := New(8)
	_, err := tab.Resolve(1, 0, false)
	require.NoError(t, err)
	_, err = tab.Resolve(2, 1, false)
	require.NoError(t, err)
	_, err = tab.Resolve(3, 1, false)
	require.NoError(t, err)

	tab.ClearToLevel(1)

	assert.Equal(t, 0, tab.CountAtOrAbove(1))
	assert.Equal(t, 1, tab.CountAtOrAbove(0))
}

// TestFnCallThenReturnLeavesNoCallFrameSymbols exercises spec.md §8's
// invariant: after a function call completes (FNCALL followed by
// RETURN), no symbol remains allocated at or above the callee's level.
func TestFnCallThenReturnLeavesNoCallFrameSymbols(t *testing.T) {
	tab := New(16)
	callerLevel := uint8(0)
	calleeLevel := callerLevel + 1

	_, err := tab.Resolve(1, callerLevel, false)
	require.NoError(t, err)
	require.NoError(t, tab.BindAlias(2, calleeLevel, 1))
	_, err = tab.Resolve(3, calleeLevel, false) // a callee-local variable
	require.NoError(t, err)

	require.Equal(t, 2, tab.CountAtOrAbove(calleeLevel))

	tab.ClearToLevel(calleeLevel) // RETURN's clearVariablesToLevel

	assert.Equal(t, 0, tab.CountAtOrAbove(calleeLevel))
	assert.Equal(t, 1, tab.CountAtOrAbove(callerLevel))
}

func TestCapacityExceeded(t *testing.T) {
	tab := New(1)
	_, err := tab.Resolve(1, 0, false)
	require.NoError(t, err)

	_, err = tab.Resolve(2, 0, false)
	require.Error(t, err)
	var capErr *ErrCapacityExceeded
	assert.ErrorAs(t, err, &capErr)
	assert.Equal(t, 1, capErr.Capacity)
}

func TestSnapshotIsACopy(t *testing.T) {
	tab := New(4)
	_, err := tab.Resolve(1, 0, false)
	require.NoError(t, err)

	snap := tab.Snapshot()
	require.Len(t, snap, 1)
	snap[0].ID = 99

	e, err := tab.Resolve(1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), e.ID, "mutating a snapshot must not affect the table")
}
