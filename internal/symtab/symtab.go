// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package symtab implements the per-execution symbol table described in
// spec.md §3/§4.1: a flat, fixed-capacity table of entries addressed by
// 16-bit id and call-frame level, with ALIAS entries delegating
// resolution one level up (reference-passing semantics for function
// arguments).
//
// The locking discipline mirrors the teacher's Level tree in
// internal/memorystore/level.go: take a read lock for the common case
// (an already-ALLOCATED entry), escalate to a write lock only when a
// slot must be claimed, and re-check after escalating because another
// goroutine may have claimed it first. Unlike that tree, resolution here
// is level-indexed rather than selector-keyed, since a symbol level is a
// call-frame depth (spec.md §3), not a hierarchical path.
package symtab

import (
	"fmt"
	"sync"

	"github.com/epicore/epycore/internal/value"
)

// State is the lifecycle state of a symbol table entry.
type State uint8

const (
	Unallocated State = iota
	Allocated
	Alias
)

// MaxCallStackDepth bounds fnLevel and alias-chase recursion (spec.md §4.3).
const MaxCallStackDepth = 10

// Entry is one symbol_node (spec.md §3).
type Entry struct {
	ID    uint16
	Alias uint16
	State State
	Level uint8
	Value value.Value
}

// ErrCapacityExceeded is returned when the table has no UNALLOCATED slot
// left and cannot append one; spec.md §4.1 calls this a fatal runtime
// error.
type ErrCapacityExceeded struct{ Capacity int }

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("symbol table capacity (%d) exceeded", e.Capacity)
}

// Table is a per-execution symbol table (one per core on device, one per
// host-side worker thread when host-interpreter mode is enabled, per
// spec.md §5).
type Table struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// New creates a table pre-sized to capacity entries; capacity is fixed at
// program load per spec.md §3 ("Entries are kept in a contiguous table of
// size fixed at program load").
func New(capacity int) *Table {
	return &Table{entries: make([]Entry, 0, capacity), capacity: capacity}
}

// Resolve implements the resolve(id, level, follow_alias) contract of
// spec.md §4.1: return the matching entry if present (chasing one ALIAS
// hop per call level when followAlias is set), else claim the first
// UNALLOCATED slot (or append), initialised to {Allocated, level, INT 0}.
func (t *Table) Resolve(id uint16, level uint8, followAlias bool) (*Entry, error) {
	if e, ok := t.find(id, level); ok {
		if followAlias && e.State == Alias && level > 0 {
			return t.Resolve(e.Alias, level-1, true)
		}
		return e, nil
	}

	e, isAlias, aliasID, err := t.claimOrAllocate(id, level)
	if err != nil {
		return nil, err
	}
	if followAlias && isAlias && level > 0 {
		return t.Resolve(aliasID, level-1, true)
	}
	return e, nil
}

// claimOrAllocate takes the write lock, re-checks (another goroutine in
// host-interpreter mode, spec.md §5, may have allocated this id/level
// while we waited), and otherwise claims a free slot or appends one.
func (t *Table) claimOrAllocate(id uint16, level uint8) (e *Entry, isAlias bool, aliasID uint16, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.indexLocked(id, level); idx >= 0 {
		ent := &t.entries[idx]
		return ent, ent.State == Alias, ent.Alias, nil
	}

	for i := range t.entries {
		if t.entries[i].State == Unallocated {
			t.entries[i] = Entry{ID: id, State: Allocated, Level: level, Value: value.NewInt(0)}
			return &t.entries[i], false, 0, nil
		}
	}

	if len(t.entries) >= t.capacity {
		return nil, false, 0, &ErrCapacityExceeded{Capacity: t.capacity}
	}

	t.entries = append(t.entries, Entry{ID: id, State: Allocated, Level: level, Value: value.NewInt(0)})
	return &t.entries[len(t.entries)-1], false, 0, nil
}

func (t *Table) find(id uint16, level uint8) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx := t.indexLocked(id, level); idx >= 0 {
		return &t.entries[idx], true
	}
	return nil, false
}

// indexLocked must be called with mu held (read or write).
func (t *Table) indexLocked(id uint16, level uint8) int {
	for i := range t.entries {
		e := &t.entries[i]
		if e.ID != id {
			continue
		}
		if e.State == Unallocated {
			continue
		}
		if e.Level == 0 || e.Level == level {
			return i
		}
	}
	return -1
}

// BindAlias sets the callee's formal parameter (at level lvl+1) to
// reference the caller's argument symbol at level lvl, implementing
// spec.md §4.3's "Function call" by-reference argument passing.
func (t *Table) BindAlias(formalID uint16, calleeLevel uint8, argID uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.indexLocked(formalID, calleeLevel); idx >= 0 {
		t.entries[idx].State = Alias
		t.entries[idx].Alias = argID
		return nil
	}

	if len(t.entries) >= t.capacity {
		return &ErrCapacityExceeded{Capacity: t.capacity}
	}
	t.entries = append(t.entries, Entry{
		ID: formalID, Alias: argID, State: Alias, Level: calleeLevel,
	})
	return nil
}

// LetNoAlias writes value to the symbol unless it currently resolves as
// an ALIAS, per LETNOALIAS's parameter-passing semantics (spec.md §4.3).
func (t *Table) LetNoAlias(id uint16, level uint8, v value.Value) error {
	e, err := t.Resolve(id, level, false)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.State == Alias {
		return nil
	}
	e.Value = v
	if e.State == Unallocated {
		e.State = Allocated
		e.Level = level
	}
	return nil
}

// Let writes value to the symbol, following alias chains per spec.md
// §4.3 (LET always performs the write, even through an alias — it is
// LETNOALIAS that treats aliases specially).
func (t *Table) Let(id uint16, level uint8, v value.Value) error {
	e, err := t.Resolve(id, level, true)
	if err != nil {
		return err
	}
	t.mu.Lock()
	e.Value = v
	t.mu.Unlock()
	return nil
}

// ClearToLevel releases all entries with Level >= level, reclaiming the
// call frame on function return (spec.md §3/§4.3's clearVariablesToLevel).
func (t *Table) ClearToLevel(level uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].Level >= level {
			t.entries[i] = Entry{State: Unallocated}
		}
	}
}

// Len returns the number of slots currently tracked (allocated or not),
// used by tests to assert the post-RETURN invariant of spec.md §8.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of all entries currently tracked, used by the
// heap's mark-sweep GC to compute the set of live roots (spec.md §4.2).
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// CountAtOrAbove reports how many entries at Level >= level are not
// Unallocated — used to check the "FNCALL then RETURN leaves no symbols
// at level >= call-level+1" invariant (spec.md §8).
func (t *Table) CountAtOrAbove(level uint8) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].Level >= level && t.entries[i].State != Unallocated {
			n++
		}
	}
	return n
}
