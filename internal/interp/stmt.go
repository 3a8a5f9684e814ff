package interp

import "github.com/epicore/epycore/internal/value"

// This file implements the statement-opcode handlers that Machine.dispatch
// (machine.go) routes to, grounded op-by-op on original_source/interpreter/interpreter.c's
// handle* function family: handleLet, handleIf, handleFor, handleFnCall,
// handleDimArray, handleArraySet, handleSend/Recv/SendRecv, handleBcast,
// handleReduction, handleInput and handleFreeMemory. Each handler reads
// its own operands directly off the flat instruction stream via the
// Machine reader helpers, mirroring the original's direct code[ip++]
// indexing rather than a parsed AST.

// handleLet implements LET/LETNOALIAS: write an expression's value into a
// symbol (spec.md §4.3).
func (m *Machine) handleLet(noAlias bool) error {
	id := m.readU16()
	v, err := m.Eval()
	if err != nil {
		return err
	}
	if noAlias {
		return m.Symbols.LetNoAlias(id, m.fnLevel, v)
	}
	return m.Symbols.Let(id, m.fnLevel, v)
}

// handleArraySet implements ARRAYSET: evaluate an index list and an rhs
// expression, then write the element, extending the array in place when
// its bounds allow (spec.md §4.3).
func (m *Machine) handleArraySet() error {
	id := m.readU16()
	numIdx := int(m.readByte())
	idx, err := m.readIndexList(numIdx)
	if err != nil {
		return err
	}
	rhs, err := m.Eval()
	if err != nil {
		return err
	}
	ptr, elemOff, weighted, _, err := m.resolveArraySlot(id, idx, true)
	if err != nil {
		return err
	}
	return m.writeArrayElement(ptr, elemOff, weighted, rhs)
}

// handleDimArray implements DIMARRAY/DIMSHAREDARRAY: allocate a fresh
// array block sized by numDims dimension expressions and bind it to a
// symbol (spec.md §3/§4.3).
func (m *Machine) handleDimArray(shared bool) error {
	id := m.readU16()
	numDims := int(m.readByte())
	extendable := m.readByte() != 0
	elemReal := m.readByte() != 0

	dims := make([]int32, numDims)
	for i := 0; i < numDims; i++ {
		v, err := m.Eval()
		if err != nil {
			return err
		}
		dims[i] = int32(v.Num)
	}

	h := m.LocalHeap
	if shared {
		h = m.SharedHeap
	}
	ptr, err := m.allocArray(h, dims, extendable, elemReal)
	if err != nil {
		return err
	}
	return m.Symbols.Let(id, m.fnLevel, value.NewArray(ptr))
}

// handleIf implements IF/IFELSE. Both branches are laid out elsewhere in
// the instruction stream as ordinary code ending in a GOTO back to the
// join point, so taking a branch is just an ip jump; a branch that itself
// contains a RETURN halts normally once the outer Run loop reaches it
// (spec.md §4.3).
func (m *Machine) handleIf(hasElse bool) error {
	cond, err := m.Eval()
	if err != nil {
		return err
	}
	thenAddr := m.readU16()
	var elseAddr uint16
	if hasElse {
		elseAddr = m.readU16()
	}
	if cond.Bool() {
		m.ip = uint32(thenAddr)
	} else if hasElse {
		m.ip = uint32(elseAddr)
	}
	return nil
}

// handleFor implements FOR: a counted loop over [start, end] by step,
// re-executing a fixed-length body region for each iteration (spec.md
// §4.3). A RETURN inside the body halts the loop and is propagated to the
// caller as a halt, same as any other RETURN.
func (m *Machine) handleFor() (value.Value, bool, error) {
	varID := m.readU16()
	start, err := m.Eval()
	if err != nil {
		return value.NewNone(), false, err
	}
	end, err := m.Eval()
	if err != nil {
		return value.NewNone(), false, err
	}
	step, err := m.Eval()
	if err != nil {
		return value.NewNone(), false, err
	}
	bodyLen := m.readU16()
	bodyStart := m.ip
	bodyEnd := bodyStart + uint32(bodyLen)

	stepN := step.Num
	if stepN == 0 {
		stepN = 1
	}

	for v := start.Num; (stepN > 0 && v <= end.Num) || (stepN < 0 && v >= end.Num); v += stepN {
		if err := m.Symbols.Let(varID, m.fnLevel, value.NewInt(v)); err != nil {
			return value.NewNone(), false, err
		}
		ret, halted, err := m.runBlock(bodyStart, bodyEnd)
		if err != nil {
			return value.NewNone(), false, err
		}
		if halted {
			m.ip = bodyEnd
			return ret, true, nil
		}
	}
	m.ip = bodyEnd
	return value.NewNone(), false, nil
}

// runBlock executes opcodes in [start, end) using the ordinary dispatch
// loop, used by FOR to re-run its body each iteration without disturbing
// the caller's notion of "the rest of the program" beyond the block.
func (m *Machine) runBlock(start, end uint32) (value.Value, bool, error) {
	m.ip = start
	for m.ip < end && !m.stopFlag {
		op := Opcode(m.code[m.ip])
		m.ip++
		ret, halt, err := m.dispatch(op)
		if err != nil {
			return value.NewNone(), false, err
		}
		if halt {
			return ret, true, nil
		}
	}
	return value.NewNone(), false, nil
}

// handleFnCall implements FNCALL: bind arguments by reference at the
// callee's level (spec.md §4.1's ALIAS mechanism), run the function body
// as a nested program via Run (a RETURN there halts only that nested
// Run, not the caller's), then reclaim the callee's symbols and stack
// memory (spec.md §3/§4.3's call-frame teardown). It doubles as an
// expression (TokFnCall) and a statement (OpFnCall), matching the
// original's single handleFnCall used from both contexts.
func (m *Machine) handleFnCall() (value.Value, error) {
	targetAddr := m.readU16()
	numArgs := int(m.readByte())

	calleeLevel := m.fnLevel + 1
	if calleeLevel > MaxCallStackDepth {
		return value.NewNone(), NewRuntimeError(ErrCallStackTooDeep, "call stack depth %d exceeds maximum %d", calleeLevel, MaxCallStackDepth)
	}

	for i := 0; i < numArgs; i++ {
		formalID := m.readU16()
		argID := m.readU16()
		if err := m.Symbols.BindAlias(formalID, calleeLevel, argID); err != nil {
			return value.NewNone(), err
		}
	}

	m.watermarks[calleeLevel] = m.Stack.Watermark()

	savedLevel := m.fnLevel
	savedIP := m.ip
	m.fnLevel = calleeLevel

	ret, err := m.Run(uint32(targetAddr))

	m.Symbols.ClearToLevel(calleeLevel)
	m.Stack.FreeWatermark(m.watermarks[calleeLevel])
	m.fnLevel = savedLevel
	m.ip = savedIP

	return ret, err
}

// handleReturn implements RETURN/RETURNEXP: the caller's dispatch loop
// translates the returned value into a halt, unwinding the nearest
// enclosing Run (spec.md §4.3).
func (m *Machine) handleReturn(hasExp bool) (value.Value, error) {
	if !hasExp {
		return value.NewNone(), nil
	}
	return m.Eval()
}

// handleInput implements INPUT/INPUTSTRING: request a value from the
// host's standard input service and bind it to a symbol (spec.md §4.4).
func (m *Machine) handleInput(isString bool) error {
	id := m.readU16()
	if isString {
		s, err := m.Host.InputString()
		if err != nil {
			return err
		}
		ptr, err := m.allocString(s)
		if err != nil {
			return err
		}
		return m.Symbols.Let(id, m.fnLevel, value.NewString(ptr))
	}
	v, err := m.Host.Input()
	if err != nil {
		return err
	}
	return m.Symbols.Let(id, m.fnLevel, v)
}

// handleSend implements SEND: fire-and-forget, point-to-point (spec.md
// §4.6).
func (m *Machine) handleSend() error {
	target, err := m.Eval()
	if err != nil {
		return err
	}
	v, err := m.Eval()
	if err != nil {
		return err
	}
	return m.Host.Send(int(target.Num), v)
}

// handleRecv implements RECV: blocking point-to-point receive bound to a
// symbol (spec.md §4.6).
func (m *Machine) handleRecv() error {
	id := m.readU16()
	source, err := m.Eval()
	if err != nil {
		return err
	}
	v, err := m.Host.Recv(int(source.Num))
	if err != nil {
		return err
	}
	return m.Symbols.Let(id, m.fnLevel, v)
}

// handleSendRecv implements SENDRECV: a combined send-then-receive
// exchange with a single peer (spec.md §4.6).
func (m *Machine) handleSendRecv() error {
	id := m.readU16()
	target, err := m.Eval()
	if err != nil {
		return err
	}
	payload, err := m.Eval()
	if err != nil {
		return err
	}
	v, err := m.Host.SendRecv(int(target.Num), payload)
	if err != nil {
		return err
	}
	return m.Symbols.Let(id, m.fnLevel, v)
}

// handleBcast implements BCAST: a collective broadcast from source to
// every active core (spec.md §4.6).
func (m *Machine) handleBcast() error {
	id := m.readU16()
	source, err := m.Eval()
	if err != nil {
		return err
	}
	payload, err := m.Eval()
	if err != nil {
		return err
	}
	v, err := m.Host.Bcast(int(source.Num), payload)
	if err != nil {
		return err
	}
	return m.Symbols.Let(id, m.fnLevel, v)
}

// handleReduction implements REDUCTION: a collective SUM/MIN/MAX/PRODUCT
// across every active core's contributed value (spec.md §4.6).
func (m *Machine) handleReduction() error {
	id := m.readU16()
	op := ReduceOp(m.readByte())
	contribution, err := m.Eval()
	if err != nil {
		return err
	}
	v, err := m.Host.Reduce(op, contribution)
	if err != nil {
		return err
	}
	return m.Symbols.Let(id, m.fnLevel, v)
}

// handleNative implements NATIVE: invoke a registered native function
// with a packed argument list (spec.md §4.3). It doubles as an
// expression (TokNative) and a statement (OpNative).
func (m *Machine) handleNative() (value.Value, error) {
	code := m.readByte()
	numArgs := int(m.readByte())
	args := make([]value.Value, numArgs)
	for i := 0; i < numArgs; i++ {
		v, err := m.Eval()
		if err != nil {
			return value.NewNone(), err
		}
		args[i] = v
	}
	fn, ok := m.Natives[code]
	if !ok {
		return value.NewNone(), NewRuntimeError(ErrUnsupportedOperands, "no native registered for code %d", code)
	}
	return fn(m, args)
}

// handleFree implements FREE: explicitly release a STRING/ARRAY symbol's
// heap block ahead of the next GC pass (spec.md §4.2).
func (m *Machine) handleFree() error {
	id := m.readU16()
	e, err := m.Symbols.Resolve(id, m.fnLevel, true)
	if err != nil {
		return err
	}
	if e.Value.Kind != value.String && e.Value.Kind != value.ArrayKind {
		return nil
	}
	return m.heapFor(e.Value.Ptr).Free(e.Value.Ptr)
}
