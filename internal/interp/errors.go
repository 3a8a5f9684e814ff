package interp

import "fmt"

// ErrCode is the one-byte error code that crosses the mailbox in
// data[1] when a core raises core_command=3 (spec.md §7).
type ErrCode uint8

const (
	ErrNone ErrCode = iota
	ErrStrOnlyTestEQ
	ErrNoneOnlyTestEQ
	ErrOnlyAdditionStr
	ErrNegArrIndex
	ErrArrIndexExceedSize
	ErrTooManyArrIndex
	ErrSymbolTableFull
	ErrCallStackTooDeep
	ErrUnsupportedOperands
	ErrRealPowReal
	ErrHeapOutOfMemory
)

// messages mirrors device-support.c's error-code-to-message table: a
// small fixed array translating a one-byte code into a human string for
// the host to print as "Error from core <id>: <message>".
var messages = map[ErrCode]string{
	ErrNone:                "no error",
	ErrStrOnlyTestEQ:       "strings only support == and != comparisons",
	ErrNoneOnlyTestEQ:      "none only supports ==, != and is comparisons",
	ErrOnlyAdditionStr:     "only + is supported on string operands",
	ErrNegArrIndex:         "negative array index",
	ErrArrIndexExceedSize:  "array index exceeds declared size",
	ErrTooManyArrIndex:     "too many array indices for this array's dimensions",
	ErrSymbolTableFull:     "symbol table capacity exceeded",
	ErrCallStackTooDeep:    "maximum call stack depth exceeded",
	ErrUnsupportedOperands: "unsupported operand combination",
	ErrRealPowReal:         "real base with real exponent is not supported",
	ErrHeapOutOfMemory:     "heap allocation failed: out of memory",
}

// Message returns the human-readable string for c.
func (c ErrCode) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return "unknown error"
}

// RuntimeError is the typed error carried through the evaluator and
// mapped 1:1 onto the mailbox's single-byte error code (spec.md §7).
// A plain wrapped `error` can't cross that boundary as one byte, which
// is why this type exists distinct from the ambient fmt.Errorf-wrapping
// style used elsewhere in this repo.
type RuntimeError struct {
	code ErrCode
	msg  string
}

func NewRuntimeError(code ErrCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *RuntimeError) Error() string { return e.msg }
func (e *RuntimeError) Code() ErrCode { return e.code }
