package interp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/epicore/epycore/internal/heap"
	"github.com/epicore/epycore/internal/symtab"
	"github.com/epicore/epycore/internal/value"
)

// fakeHost is a minimal interp.Host double exercising the evaluator and
// opcode handlers without a real mailbox/dispatcher (spec.md §4.4).
// Concat allocates onto the same local heap literal strings use, so
// string equality/read-back behaves the way it would against a real
// core's heap.
type fakeHost struct {
	heap *heap.Heap

	displayed []string
	inputs    []value.Value
	strInputs []string
	sent      []sentMsg

	recvFunc     func(source int) (value.Value, error)
	sendRecvFunc func(target int, v value.Value) (value.Value, error)
	bcastFunc    func(source int, v value.Value) (value.Value, error)
	reduceFunc   func(op ReduceOp, v value.Value) (value.Value, error)

	syncCalls   int
	randomValue float64
}

type sentMsg struct {
	target int
	v      value.Value
}

func newFakeHost(h *heap.Heap) *fakeHost {
	return &fakeHost{heap: h, randomValue: 0.5}
}

func (f *fakeHost) Display(s string) error { f.displayed = append(f.displayed, s); return nil }

func (f *fakeHost) Input() (value.Value, error) {
	if len(f.inputs) == 0 {
		return value.NewNone(), fmt.Errorf("fakeHost: no queued input")
	}
	v := f.inputs[0]
	f.inputs = f.inputs[1:]
	return v, nil
}

func (f *fakeHost) InputString() (string, error) {
	if len(f.strInputs) == 0 {
		return "", fmt.Errorf("fakeHost: no queued string input")
	}
	s := f.strInputs[0]
	f.strInputs = f.strInputs[1:]
	return s, nil
}

func (f *fakeHost) Concat(a, b string) (uint64, error) {
	s := a + b
	ptr, err := f.heap.Alloc(len(s)+1, nil, nil)
	if err != nil {
		return 0, err
	}
	buf, err := f.heap.Payload(ptr)
	if err != nil {
		return 0, err
	}
	copy(buf, s)
	buf[len(s)] = 0
	return ptr, nil
}

func (f *fakeHost) Math(op MathOp, x float64) (float64, error) {
	switch op {
	case MathSqrt:
		return math.Sqrt(x), nil
	case MathSin:
		return math.Sin(x), nil
	case MathCos:
		return math.Cos(x), nil
	case MathTan:
		return math.Tan(x), nil
	case MathAsin:
		return math.Asin(x), nil
	case MathAcos:
		return math.Acos(x), nil
	case MathAtan:
		return math.Atan(x), nil
	case MathSinh:
		return math.Sinh(x), nil
	case MathCosh:
		return math.Cosh(x), nil
	case MathTanh:
		return math.Tanh(x), nil
	case MathFloor:
		return math.Floor(x), nil
	case MathCeil:
		return math.Ceil(x), nil
	case MathLog:
		return math.Log(x), nil
	case MathLog10:
		return math.Log10(x), nil
	case MathRandom:
		return f.randomValue, nil
	default:
		return 0, fmt.Errorf("fakeHost: unsupported math op %d", op)
	}
}

func (f *fakeHost) Send(target int, v value.Value) error {
	f.sent = append(f.sent, sentMsg{target, v})
	return nil
}

func (f *fakeHost) Recv(source int) (value.Value, error) {
	if f.recvFunc != nil {
		return f.recvFunc(source)
	}
	return value.NewNone(), fmt.Errorf("fakeHost: no recv behavior configured")
}

func (f *fakeHost) SendRecv(target int, v value.Value) (value.Value, error) {
	if f.sendRecvFunc != nil {
		return f.sendRecvFunc(target, v)
	}
	return value.NewNone(), fmt.Errorf("fakeHost: no sendrecv behavior configured")
}

func (f *fakeHost) Bcast(source int, v value.Value) (value.Value, error) {
	if f.bcastFunc != nil {
		return f.bcastFunc(source, v)
	}
	return value.NewNone(), fmt.Errorf("fakeHost: no bcast behavior configured")
}

func (f *fakeHost) Reduce(op ReduceOp, v value.Value) (value.Value, error) {
	if f.reduceFunc != nil {
		return f.reduceFunc(op, v)
	}
	return value.NewNone(), fmt.Errorf("fakeHost: no reduce behavior configured")
}

func (f *fakeHost) Sync() error { f.syncCalls++; return nil }

// newTestMachine wires a Machine against fresh, generously sized symbol
// table/stack/heaps and a fakeHost, enough headroom that tests can focus
// on one opcode/expression at a time.
func newTestMachine(code []byte) (*Machine, *fakeHost) {
	symbols := symtab.New(64)
	stack := heap.NewStack()
	sharedHeap := heap.NewHeap(4096)
	localHeap := heap.NewHeap(4096)
	host := newFakeHost(localHeap)
	m := NewMachine(code, symbols, stack, sharedHeap, localHeap, host)
	return m, host
}

// --- hand-assembled bytecode helpers ---

func u16b(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func i32b(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func tokInt(v int32) []byte { return cat([]byte{byte(TokInteger)}, i32b(v)) }

func tokReal(v float32) []byte {
	return cat([]byte{byte(TokReal)}, i32b(int32(math.Float32bits(v))))
}

func tokBool(b bool) []byte {
	v := byte(0)
	if b {
		v = 1
	}
	return []byte{byte(TokBoolean), v}
}

func tokNone() []byte { return []byte{byte(TokNone)} }

func tokString(s string) []byte {
	return cat([]byte{byte(TokString)}, []byte(s), []byte{0})
}

func tokIdent(id uint16) []byte { return cat([]byte{byte(TokIdentifier)}, u16b(id)) }

func tokBin(tok Token, lhs, rhs []byte) []byte { return cat([]byte{byte(tok)}, lhs, rhs) }

func tokUnary(tok Token, x []byte) []byte { return cat([]byte{byte(tok)}, x) }
