package interp

import (
	"encoding/binary"
	"math"

	"github.com/epicore/epycore/internal/heap"
	"github.com/epicore/epycore/internal/value"
)

// allocString copies a Go string onto the local heap as a
// null-terminated byte sequence, per spec.md §4.1 ("STRING values are
// held by pointer to heap bytes, null-terminated").
func (m *Machine) allocString(s string) (uint64, error) {
	ptr, err := m.LocalHeap.Alloc(len(s)+1, nil, m.Symbols)
	if err != nil {
		return 0, NewRuntimeError(ErrHeapOutOfMemory, "%s", err.Error())
	}
	buf, err := m.LocalHeap.Payload(ptr)
	if err != nil {
		return 0, err
	}
	copy(buf, s)
	buf[len(s)] = 0
	return ptr, nil
}

func (m *Machine) readHeapString(ptr uint64) (string, error) {
	buf, err := m.LocalHeap.Payload(ptr)
	if err != nil {
		return "", err
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), nil
}

// heapFor determines which concrete heap backs ptr. Both heaps share the
// same [length][inUse][payload] addressing scheme (spec.md §4.2), so the
// machine tries the local heap first (the common case for per-core
// arrays) and falls back to the shared heap for DIMSHAREDARRAY-allocated
// arrays.
func (m *Machine) heapFor(ptr uint64) *heap.Heap {
	if _, err := m.LocalHeap.Payload(ptr); err == nil {
		return m.LocalHeap
	}
	return m.SharedHeap
}

// readArrayHeader decodes the [numDims|extendable|elemReal][dims...]
// prefix of an array's heap block (spec.md §3) and returns the header
// plus the byte offset where element data begins.
func (m *Machine) readArrayHeader(ptr uint64) (value.ArrayHeader, int, error) {
	buf, err := m.heapFor(ptr).Payload(ptr)
	if err != nil {
		return value.ArrayHeader{}, 0, err
	}
	numDims, extendable, elemReal := value.DecodeHeaderByte(buf[0])
	dims := make([]int32, numDims)
	off := 1
	for i := 0; i < numDims; i++ {
		dims[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	return value.ArrayHeader{NumDims: numDims, Extendable: extendable, ElemReal: elemReal, Dims: dims}, off, nil
}

// allocArray lays out a fresh array block of the given dims on h, per
// spec.md §3's header format, zero-initialised.
func (m *Machine) allocArray(h *heap.Heap, dims []int32, extendable, elemReal bool) (uint64, error) {
	elemBytes := int(value.Product(dims)) * 4
	size := 1 + len(dims)*4 + elemBytes
	ptr, err := h.Alloc(size, nil, m.Symbols)
	if err != nil {
		return 0, NewRuntimeError(ErrHeapOutOfMemory, "%s", err.Error())
	}
	buf, err := h.Payload(ptr)
	if err != nil {
		return 0, err
	}
	hdr := value.ArrayHeader{NumDims: len(dims), Extendable: extendable, ElemReal: elemReal}
	buf[0] = hdr.EncodeHeaderByte()
	off := 1
	for _, d := range dims {
		binary.LittleEndian.PutUint32(buf[off:], uint32(d))
		off += 4
	}
	return ptr, nil
}

// extendArray grows ptr's bounding box to fit idx, copying prior element
// data (spec.md §4.3's array-extension invariant), and returns the new
// pointer (callers must rebind the owning symbol to it). The grown array
// stays on whichever heap ptr already lives on.
func (m *Machine) extendArray(ptr uint64, idx []int32) (uint64, error) {
	h := m.heapFor(ptr)
	hdr, elemOff, err := m.readArrayHeader(ptr)
	if err != nil {
		return 0, err
	}
	newDims := value.ExtendedDims(hdr.Dims, idx)

	oldBuf, err := h.Payload(ptr)
	if err != nil {
		return 0, err
	}
	oldElemData := append([]byte(nil), oldBuf[elemOff:]...)

	newPtr, err := m.allocArray(h, newDims, hdr.Extendable, hdr.ElemReal)
	if err != nil {
		return 0, err
	}
	newBuf, err := h.Payload(newPtr)
	if err != nil {
		return 0, err
	}
	_, newElemOff, _ := m.readArrayHeader(newPtr)

	// Copy prior contents element-by-element, remapping old weighted
	// index -> new weighted index (dims differ, so a flat byte copy
	// would scramble row-major order).
	copyArrayContents(hdr.Dims, newDims, oldElemData, newBuf[newElemOff:])

	_ = h.Free(ptr)
	return newPtr, nil
}

// copyArrayContents walks every index of the old (smaller) dims and
// copies its 4-byte element into the corresponding slot of the new
// (grown) dims.
func copyArrayContents(oldDims, newDims []int32, oldData, newData []byte) {
	total := int(value.Product(oldDims))
	idx := make([]int32, len(oldDims))
	for linear := 0; linear < total; linear++ {
		rem := linear
		for i := len(oldDims) - 1; i >= 0; i-- {
			idx[i] = int32(rem) % oldDims[i]
			rem /= int(oldDims[i])
		}
		oldWeighted, _ := value.WeightedIndex(oldDims, idx)
		newWeighted, _ := value.WeightedIndex(newDims, idx)
		copy(newData[newWeighted*4:newWeighted*4+4], oldData[oldWeighted*4:oldWeighted*4+4])
	}
}

func (m *Machine) writeArrayElement(ptr uint64, elemOff int, weighted int64, v value.Value) error {
	buf, err := m.heapFor(ptr).Payload(ptr)
	if err != nil {
		return err
	}
	off := elemOff + int(weighted)*4
	if off+4 > len(buf) {
		return NewRuntimeError(ErrArrIndexExceedSize, "array write out of allocated bounds")
	}
	var bits uint32
	if v.Kind == value.Real {
		bits = math.Float32bits(float32(v.Flt))
	} else {
		bits = uint32(v.Num)
	}
	binary.LittleEndian.PutUint32(buf[off:], bits)
	return nil
}

func (m *Machine) readArrayElement(ptr uint64, elemOff int, weighted int64, isReal bool) (value.Value, error) {
	buf, err := m.heapFor(ptr).Payload(ptr)
	if err != nil {
		return value.NewNone(), err
	}
	off := elemOff + int(weighted)*4
	if off+4 > len(buf) {
		return value.NewNone(), NewRuntimeError(ErrArrIndexExceedSize, "array read out of allocated bounds")
	}
	bits := binary.LittleEndian.Uint32(buf[off:])
	if isReal {
		return value.NewReal(float64(math.Float32frombits(bits))), nil
	}
	return value.NewInt(int64(int32(bits))), nil
}

// evalArrayLiteral evaluates an ARRAYLITERAL node: a packed list of
// element expressions, optionally followed by a repetition count (spec.md
// §4.3's array-literal grammar, e.g. [1, 2, 3] or [0]*10). It allocates a
// fresh one-dimensional array on the local heap and fills it in.
func (m *Machine) evalArrayLiteral() (value.Value, error) {
	numElems := int(m.readU16())
	repeat := int(m.readU16())
	if repeat == 0 {
		repeat = 1
	}

	elems := make([]value.Value, numElems)
	elemReal := false
	for i := 0; i < numElems; i++ {
		v, err := m.Eval()
		if err != nil {
			return value.NewNone(), err
		}
		elems[i] = v
		if v.Kind == value.Real {
			elemReal = true
		}
	}

	total := numElems * repeat
	ptr, err := m.allocArray(m.LocalHeap, []int32{int32(total)}, true, elemReal)
	if err != nil {
		return value.NewNone(), err
	}
	_, elemOff, err := m.readArrayHeader(ptr)
	if err != nil {
		return value.NewNone(), err
	}
	for r := 0; r < repeat; r++ {
		for i, v := range elems {
			if err := m.writeArrayElement(ptr, elemOff, int64(r*numElems+i), v); err != nil {
				return value.NewNone(), err
			}
		}
	}
	return value.NewArray(ptr), nil
}

// evalArrayAccess evaluates an ARRAYACCESS node: the array symbol
// followed by one index expression per dimension present. When
// allowExtend is set (an ARRAYSET target) and the array is EXTENDABLE,
// an out-of-bounds index grows the array's bounding box in place rather
// than erroring, per spec.md §4.3's array-extension invariant; otherwise
// an out-of-bounds index is ERR_ARR_INDEX_EXCEED_SIZE.
func (m *Machine) evalArrayAccess(allowExtend bool) (value.Value, error) {
	id := m.readU16()
	numIdx := int(m.readByte())
	idx, err := m.readIndexList(numIdx)
	if err != nil {
		return value.NewNone(), err
	}

	ptr, elemOff, weighted, hdr, err := m.resolveArraySlot(id, idx, allowExtend)
	if err != nil {
		return value.NewNone(), err
	}
	return m.readArrayElement(ptr, elemOff, weighted, hdr.ElemReal)
}

// readIndexList evaluates n index expressions, rejecting negative values.
func (m *Machine) readIndexList(n int) ([]int32, error) {
	idx := make([]int32, n)
	for i := 0; i < n; i++ {
		v, err := m.Eval()
		if err != nil {
			return nil, err
		}
		if v.Num < 0 {
			return nil, NewRuntimeError(ErrNegArrIndex, "negative array index %d", v.Num)
		}
		idx[i] = int32(v.Num)
	}
	return idx, nil
}

// resolveArraySlot resolves symbol id to its current array pointer,
// grows it in place when idx exceeds its bounds and growth is permitted,
// and returns the weighted element offset to read or write.
func (m *Machine) resolveArraySlot(id uint16, idx []int32, allowExtend bool) (ptr uint64, elemOff int, weighted int64, hdr value.ArrayHeader, err error) {
	entry, err := m.Symbols.Resolve(id, m.fnLevel, true)
	if err != nil {
		return 0, 0, 0, hdr, err
	}
	ptr = entry.Value.Ptr

	hdr, elemOff, err = m.readArrayHeader(ptr)
	if err != nil {
		return 0, 0, 0, hdr, err
	}
	if len(idx) > hdr.NumDims {
		return 0, 0, 0, hdr, NewRuntimeError(ErrTooManyArrIndex, "too many array indices: got %d, array has %d dimensions", len(idx), hdr.NumDims)
	}

	exceeds := false
	for i, ix := range idx {
		if i < len(hdr.Dims) && ix >= hdr.Dims[i] {
			exceeds = true
			break
		}
	}
	if exceeds {
		if !allowExtend || !hdr.Extendable {
			return 0, 0, 0, hdr, NewRuntimeError(ErrArrIndexExceedSize, "array index exceeds allocated dimension")
		}
		newPtr, err := m.extendArray(ptr, idx)
		if err != nil {
			return 0, 0, 0, hdr, err
		}
		if err := m.Symbols.Let(id, m.fnLevel, value.NewArray(newPtr)); err != nil {
			return 0, 0, 0, hdr, err
		}
		ptr = newPtr
		hdr, elemOff, err = m.readArrayHeader(ptr)
		if err != nil {
			return 0, 0, 0, hdr, err
		}
	}

	weighted, err = value.WeightedIndex(hdr.Dims, idx)
	if err != nil {
		return 0, 0, 0, hdr, NewRuntimeError(ErrArrIndexExceedSize, "%s", err.Error())
	}
	return ptr, elemOff, weighted, hdr, nil
}
