package heap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/epicore/epycore/internal/symtab"
	"github.com/epicore/epycore/internal/value"
)

// chunkHeaderSize is len(u32 length) + len(u8 inUse), the layout spec.md
// §4.2 mandates: [length: u32][inUse: u8][payload…].
const chunkHeaderSize = 5

// Heap is the host's shared heap backing strings and arrays, visible to
// every core via its own base (spec.md §4.2). Mutated only while the
// host is servicing the owning core's mailbox command, so a single mutex
// per heap is sufficient — no per-chunk locking is needed (the core is
// guaranteed quiescent then, per spec.md §5).
type Heap struct {
	mu     sync.Mutex
	region []byte
}

// NewHeap creates a heap of the given size, laid out as one free chunk
// spanning the whole region.
func NewHeap(size int) *Heap {
	h := &Heap{region: make([]byte, size)}
	h.putHeader(0, size-chunkHeaderSize, false)
	return h
}

func (h *Heap) putHeader(off, length int, inUse bool) {
	binary.LittleEndian.PutUint32(h.region[off:], uint32(length))
	if inUse {
		h.region[off+4] = 1
	} else {
		h.region[off+4] = 0
	}
}

func (h *Heap) header(off int) (length int, inUse bool) {
	return int(binary.LittleEndian.Uint32(h.region[off:])), h.region[off+4] != 0
}

// Alloc performs a first-fit scan from the start of the region, splitting
// the chunk found when it is larger than needed (spec.md §4.2), and
// returns the absolute offset of the chunk's payload. When no chunk fits
// and table is non-nil, Alloc runs GC over table's reachable symbols and
// retries the scan once; currentSymbols is accepted for interface
// symmetry with the spec's heap_alloc contract and is not used.
func (h *Heap) Alloc(size int, currentSymbols []*symtab.Entry, table *symtab.Table) (uint64, error) {
	h.mu.Lock()
	addr, err := h.allocLocked(size)
	h.mu.Unlock()
	if err == nil {
		return addr, nil
	}

	if table != nil {
		h.GC(table)
		h.mu.Lock()
		addr, err = h.allocLocked(size)
		h.mu.Unlock()
		if err == nil {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("heap: out of memory allocating %d bytes: %w", size, err)
}

func (h *Heap) allocLocked(size int) (uint64, error) {
	off := 0
	for off+chunkHeaderSize <= len(h.region) {
		length, inUse := h.header(off)
		if !inUse && length >= size {
			if length-size > chunkHeaderSize {
				// Split: shrink this chunk to size, create a free chunk
				// after it with the remainder.
				splitOff := off + chunkHeaderSize + size
				remaining := length - size - chunkHeaderSize
				h.putHeader(splitOff, remaining, false)
				h.putHeader(off, size, true)
			} else {
				h.putHeader(off, length, true)
			}
			return uint64(off + chunkHeaderSize), nil
		}
		off += chunkHeaderSize + length
	}
	return 0, fmt.Errorf("no chunk of size %d available", size)
}

// Free marks the chunk at ptr (a payload address, as returned by Alloc)
// as no longer in use. It does not coalesce with neighbors; the linear
// scan in Alloc treats runs of adjacent free chunks as independently
// allocatable, matching the original's simple first-fit allocator.
func (h *Heap) Free(ptr uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := int(ptr) - chunkHeaderSize
	if off < 0 || off+chunkHeaderSize > len(h.region) {
		return fmt.Errorf("heap: free of invalid pointer 0x%x", ptr)
	}
	length, _ := h.header(off)
	h.putHeader(off, length, false)
	return nil
}

// Payload returns a view of the allocated bytes at ptr.
func (h *Heap) Payload(ptr uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := int(ptr) - chunkHeaderSize
	if off < 0 || off+chunkHeaderSize > len(h.region) {
		return nil, fmt.Errorf("heap: invalid pointer 0x%x", ptr)
	}
	length, inUse := h.header(off)
	if !inUse {
		return nil, fmt.Errorf("heap: read of freed pointer 0x%x", ptr)
	}
	return h.region[off+chunkHeaderSize : off+chunkHeaderSize+length], nil
}

// GC performs a mark-sweep over every ARRAY/STRING pointer reachable from
// table's roots, freeing chunks that no live symbol references
// (spec.md §4.2's gc(table) contract, invoked here by the GC opcode or
// implicitly by Alloc on out-of-memory).
func (h *Heap) GC(table *symtab.Table) {
	live := map[uint64]bool{}
	for _, e := range table.Snapshot() {
		if e.Value.Kind == value.String || e.Value.Kind == value.ArrayKind {
			live[e.Value.Ptr] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	off := 0
	for off+chunkHeaderSize <= len(h.region) {
		length, inUse := h.header(off)
		ptr := uint64(off + chunkHeaderSize)
		if inUse && !live[ptr] {
			h.putHeader(off, length, false)
		}
		off += chunkHeaderSize + length
	}
}

// Size returns the total region size in bytes.
func (h *Heap) Size() int { return len(h.region) }
