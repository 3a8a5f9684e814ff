// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package interp implements the stack-less, token-dispatched bytecode
// evaluator (spec.md §4.3): the flat instruction stream, the per-execution
// state, the expression sub-grammar, and the opcode handlers. It is
// written fresh in the teacher's small-method idiom (see DESIGN.md),
// grounded op-by-op on original_source/interpreter/interpreter.c's
// handle* function family for exact control-flow shape.
package interp

import (
	"fmt"

	"github.com/epicore/epycore/internal/heap"
	"github.com/epicore/epycore/internal/symtab"
	"github.com/epicore/epycore/internal/value"
)

// Host is the set of services the interpreter cannot perform locally and
// must request from the host monitor over the mailbox (spec.md §1/§4.4):
// standard I/O, transcendental math, inter-node communication, and
// cross-core string heap operations. internal/mailbox implements this
// for a real core; tests can supply a fake.
type Host interface {
	Display(s string) error
	Input() (value.Value, error)
	InputString() (string, error)
	// Concat performs "a"+"b" string concatenation (or string+numeric
	// formatting) on the host's shared heap and returns the resulting
	// string's pointer.
	Concat(a, b string) (uint64, error)
	Math(op MathOp, x float64) (float64, error)
	Send(target int, v value.Value) error
	Recv(source int) (value.Value, error)
	SendRecv(target int, v value.Value) (value.Value, error)
	Bcast(source int, v value.Value) (value.Value, error)
	Reduce(op ReduceOp, v value.Value) (value.Value, error)
	Sync() error
}

// NativeFunc is a registered native function invoked by the NATIVE
// opcode/token with packed argument expressions (spec.md §4.3).
type NativeFunc func(m *Machine, args []value.Value) (value.Value, error)

// MaxCallStackDepth matches symtab.MaxCallStackDepth (spec.md §4.3).
const MaxCallStackDepth = symtab.MaxCallStackDepth

// Machine is the interpreter's per-execution state (spec.md §4.3):
// (ip, length, code, stopFlag, symbolTable, currentEntries, coreId,
// numActiveCores, fnLevel).
type Machine struct {
	code []byte
	ip   uint32

	Symbols    *symtab.Table
	Stack      *heap.Stack
	SharedHeap *heap.Heap
	LocalHeap  *heap.Heap
	Host       Host
	Natives    map[byte]NativeFunc

	CoreID         int
	NumActiveCores int
	fnLevel        uint8

	stopFlag bool

	// watermarks[lvl] records the stack cursor at function-entry for
	// level lvl, used to bulk-free stack memory on RETURN.
	watermarks [MaxCallStackDepth + 1]uint64
}

// NewMachine constructs a Machine ready to run code.
func NewMachine(code []byte, symbols *symtab.Table, stack *heap.Stack, sharedHeap, localHeap *heap.Heap, host Host) *Machine {
	return &Machine{
		code:       code,
		Symbols:    symbols,
		Stack:      stack,
		SharedHeap: sharedHeap,
		LocalHeap:  localHeap,
		Host:       host,
		Natives:    make(map[byte]NativeFunc),
	}
}

// RegisterNative installs a native function under code, for the NATIVE
// opcode/token.
func (m *Machine) RegisterNative(code byte, fn NativeFunc) { m.Natives[code] = fn }

// Run interprets m.code starting at ip until STOP, a RETURN/RETURN_EXP
// halts the current invocation, or the stream is exhausted (spec.md
// §4.3's process(code, ip, len)). It returns the RETURN_EXP value, if any.
func (m *Machine) Run(ip uint32) (value.Value, error) {
	m.ip = ip
	for int(m.ip) < len(m.code) && !m.stopFlag {
		op := Opcode(m.code[m.ip])
		m.ip++
		ret, halt, err := m.dispatch(op)
		if err != nil {
			return value.NewNone(), err
		}
		if halt {
			return ret, nil
		}
	}
	return value.NewNone(), nil
}

// Stop implements the STOP opcode: a nonzero stopFlag terminates the
// current process() invocation after the current opcode (spec.md §4.3).
func (m *Machine) Stop() { m.stopFlag = true }

func (m *Machine) dispatch(op Opcode) (ret value.Value, halt bool, err error) {
	switch op {
	case OpLet:
		return value.NewNone(), false, m.handleLet(false)
	case OpLetNoAlias:
		return value.NewNone(), false, m.handleLet(true)
	case OpArraySet:
		return value.NewNone(), false, m.handleArraySet()
	case OpDimArray:
		return value.NewNone(), false, m.handleDimArray(false)
	case OpDimSharedArray:
		return value.NewNone(), false, m.handleDimArray(true)
	case OpIf:
		return value.NewNone(), false, m.handleIf(false)
	case OpIfElse:
		return value.NewNone(), false, m.handleIf(true)
	case OpFor:
		v, halt, err := m.handleFor()
		return v, halt, err
	case OpGoto:
		m.ip = uint32(m.readU16())
		return value.NewNone(), false, nil
	case OpFnCall:
		_, err := m.handleFnCall()
		return value.NewNone(), false, err
	case OpReturn:
		v, err := m.handleReturn(false)
		return v, true, err
	case OpReturnExp:
		v, err := m.handleReturn(true)
		return v, true, err
	case OpStop:
		m.Stop()
		return value.NewNone(), true, nil
	case OpInput:
		return value.NewNone(), false, m.handleInput(false)
	case OpInputString:
		return value.NewNone(), false, m.handleInput(true)
	case OpSend:
		return value.NewNone(), false, m.handleSend()
	case OpRecv:
		return value.NewNone(), false, m.handleRecv()
	case OpSendRecv:
		return value.NewNone(), false, m.handleSendRecv()
	case OpBcast:
		return value.NewNone(), false, m.handleBcast()
	case OpReduction:
		return value.NewNone(), false, m.handleReduction()
	case OpSync:
		return value.NewNone(), false, m.Host.Sync()
	case OpNative:
		_, err := m.handleNative()
		return value.NewNone(), false, err
	case OpFree:
		return value.NewNone(), false, m.handleFree()
	case OpGC:
		m.SharedHeap.GC(m.Symbols)
		return value.NewNone(), false, nil
	default:
		return value.NewNone(), false, fmt.Errorf("interp: unknown opcode %d at ip=%d", op, m.ip-1)
	}
}

// --- byte-stream reader helpers (flat instruction stream, spec.md §4.3) ---

func (m *Machine) readByte() byte {
	b := m.code[m.ip]
	m.ip++
	return b
}

func (m *Machine) readU16() uint16 {
	v := uint16(m.code[m.ip]) | uint16(m.code[m.ip+1])<<8
	m.ip += 2
	return v
}

func (m *Machine) readI32() int32 {
	v := int32(m.code[m.ip]) | int32(m.code[m.ip+1])<<8 | int32(m.code[m.ip+2])<<16 | int32(m.code[m.ip+3])<<24
	m.ip += 4
	return v
}

func (m *Machine) readF32() float32 {
	bits := uint32(m.readI32())
	return float32FromBits(bits)
}

func (m *Machine) readString() string {
	start := m.ip
	for m.code[m.ip] != 0 {
		m.ip++
	}
	s := string(m.code[start:m.ip])
	m.ip++ // skip null terminator
	return s
}
