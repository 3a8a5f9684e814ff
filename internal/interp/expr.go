package interp

import (
	"math"

	"github.com/epicore/epycore/internal/value"
)

// Eval evaluates one expression node starting at the current ip and
// returns its value, advancing ip past the node (spec.md §4.3's
// getExpressionValue/computeExpressionResult, kept as the single
// recursive-descent entry point the original's mutually recursive
// functions collapse into in this rewrite).
func (m *Machine) Eval() (value.Value, error) {
	tok := Token(m.readByte())
	switch tok {
	case TokInteger:
		return value.NewInt(int64(m.readI32())), nil
	case TokReal:
		return value.NewReal(float64(m.readF32())), nil
	case TokBoolean:
		return value.NewBool(m.readByte() != 0), nil
	case TokString:
		s := m.readString()
		ptr, err := m.allocString(s)
		return value.NewString(ptr), err
	case TokNone:
		return value.NewNone(), nil
	case TokCoreID:
		return value.NewInt(int64(m.CoreID)), nil
	case TokNumCores:
		return value.NewInt(int64(m.NumActiveCores)), nil
	case TokLen:
		return m.evalLen()
	case TokArrayLiteral:
		return m.evalArrayLiteral()
	case TokIdentifier:
		return m.evalIdentifier()
	case TokArrayAccess:
		return m.evalArrayAccess(false)
	case TokNot:
		v, err := m.Eval()
		if err != nil {
			return value.NewNone(), err
		}
		return value.NewBool(!v.Bool()), nil
	case TokAnd, TokOr:
		return m.evalLogical(tok)
	case TokMaths:
		return m.evalMaths()
	case TokRandom:
		f, err := m.Host.Math(MathRandom, 0)
		return value.NewReal(f), err
	case TokLet:
		return m.evalLetExpr()
	case TokFnCall:
		return m.handleFnCall()
	case TokNative:
		return m.handleNative()
	case TokAdd, TokSub, TokMul, TokDiv, TokMod, TokPow,
		TokEQ, TokNEQ, TokGT, TokGEQ, TokLT, TokLEQ, TokIs:
		return m.evalBinary(tok)
	default:
		return value.NewNone(), NewRuntimeError(ErrUnsupportedOperands, "interp: unknown expression token %d", tok)
	}
}

func (m *Machine) evalLogical(tok Token) (value.Value, error) {
	lhs, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	if tok == TokAnd && !lhs.Bool() {
		rhs, err := m.Eval() // still must advance ip past rhs node
		_ = rhs
		return value.NewBool(false), err
	}
	if tok == TokOr && lhs.Bool() {
		rhs, err := m.Eval()
		_ = rhs
		return value.NewBool(true), err
	}
	rhs, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	return value.NewBool(rhs.Bool()), nil
}

func (m *Machine) evalBinary(tok Token) (value.Value, error) {
	lhs, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	rhs, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	return m.compute(tok, lhs, rhs)
}

// compute implements spec.md §4.3's arithmetic promotion and comparison
// semantics.
func (m *Machine) compute(tok Token, lhs, rhs value.Value) (value.Value, error) {
	if tok == TokIs {
		return value.NewBool(value.Is(lhs, rhs)), nil
	}

	if lhs.Kind == value.String || rhs.Kind == value.String {
		return m.computeString(tok, lhs, rhs)
	}

	if lhs.Kind == value.None || rhs.Kind == value.None {
		switch tok {
		case TokEQ:
			return value.NewBool(value.Is(lhs, rhs)), nil
		case TokNEQ:
			return value.NewBool(!value.Is(lhs, rhs)), nil
		default:
			return value.NewNone(), NewRuntimeError(ErrNoneOnlyTestEQ, "none only supports == and !=")
		}
	}

	if !lhs.IsNumeric() || !rhs.IsNumeric() {
		return value.NewNone(), NewRuntimeError(ErrUnsupportedOperands, "unsupported operand combination for %d", tok)
	}

	real := lhs.Kind == value.Real || rhs.Kind == value.Real
	switch tok {
	case TokEQ, TokNEQ, TokGT, TokGEQ, TokLT, TokLEQ:
		var cmp int
		if real {
			a, b := lhs.AsFloat(), rhs.AsFloat()
			cmp = compareFloat(a, b)
		} else {
			cmp = compareInt(lhs.Num, rhs.Num)
		}
		return value.NewBool(evalCompare(tok, cmp)), nil
	}

	if real {
		a, b := lhs.AsFloat(), rhs.AsFloat()
		switch tok {
		case TokAdd:
			return value.NewReal(a + b), nil
		case TokSub:
			return value.NewReal(a - b), nil
		case TokMul:
			return value.NewReal(a * b), nil
		case TokDiv:
			return value.NewReal(a / b), nil
		case TokMod:
			return value.NewReal(math.Mod(a, b)), nil
		case TokPow:
			if lhs.Kind == value.Real && rhs.Kind == value.Real {
				return value.NewNone(), NewRuntimeError(ErrRealPowReal, "real base with real exponent is unsupported")
			}
			// real base, integer exponent: repeated multiplication
			// (spec.md §4.3 "Power operator").
			return value.NewReal(powRepeated(a, rhs.Num)), nil
		}
	}

	a, b := lhs.Num, rhs.Num
	switch tok {
	case TokAdd:
		return value.NewInt(a + b), nil
	case TokSub:
		return value.NewInt(a - b), nil
	case TokMul:
		return value.NewInt(a * b), nil
	case TokDiv:
		return value.NewInt(a / b), nil
	case TokMod:
		return value.NewInt(a % b), nil
	case TokPow:
		return value.NewInt(powRepeatedInt(a, b)), nil
	}
	return value.NewNone(), NewRuntimeError(ErrUnsupportedOperands, "unsupported operator %d", tok)
}

// powRepeatedInt implements 0**0 == 1 by convention (spec.md §4.3).
func powRepeatedInt(base, exp int64) int64 {
	if exp <= 0 {
		return 1
	}
	r := int64(1)
	for i := int64(0); i < exp; i++ {
		r *= base
	}
	return r
}

func powRepeated(base float64, exp int64) float64 {
	if exp <= 0 {
		return 1
	}
	r := 1.0
	for i := int64(0); i < exp; i++ {
		r *= base
	}
	return r
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func evalCompare(tok Token, cmp int) bool {
	switch tok {
	case TokEQ:
		return cmp == 0
	case TokNEQ:
		return cmp != 0
	case TokGT:
		return cmp > 0
	case TokGEQ:
		return cmp >= 0
	case TokLT:
		return cmp < 0
	case TokLEQ:
		return cmp <= 0
	}
	return false
}

// computeString implements STRING + STRING concatenation and
// STRING + other numeric-formatting concatenation via the host
// service, and rejects any non-ADD comparison other than EQ/NEQ
// (spec.md §4.3/§7: ERR_STR_ONLYTEST_EQ, ERR_ONLY_ADDITION_STR).
func (m *Machine) computeString(tok Token, lhs, rhs value.Value) (value.Value, error) {
	switch tok {
	case TokEQ, TokNEQ:
		if lhs.Kind != value.String || rhs.Kind != value.String {
			return value.NewNone(), NewRuntimeError(ErrStrOnlyTestEQ, "strings only support == and !=")
		}
		a, err := m.readHeapString(lhs.Ptr)
		if err != nil {
			return value.NewNone(), err
		}
		b, err := m.readHeapString(rhs.Ptr)
		if err != nil {
			return value.NewNone(), err
		}
		eq := a == b
		if tok == TokNEQ {
			eq = !eq
		}
		return value.NewBool(eq), nil
	case TokAdd:
		as, err := m.stringForm(lhs)
		if err != nil {
			return value.NewNone(), err
		}
		bs, err := m.stringForm(rhs)
		if err != nil {
			return value.NewNone(), err
		}
		ptr, err := m.Host.Concat(as, bs)
		return value.NewString(ptr), err
	default:
		return value.NewNone(), NewRuntimeError(ErrOnlyAdditionStr, "only + is supported on string operands")
	}
}

// stringForm renders v the way Concat needs it: the literal string
// content if v is itself a STRING, else the %d/%f/true-false/NONE/0x%x
// formatting of spec.md §4.3.
func (m *Machine) stringForm(v value.Value) (string, error) {
	if v.Kind == value.String {
		return m.readHeapString(v.Ptr)
	}
	return v.Format(), nil
}

func (m *Machine) evalMaths() (value.Value, error) {
	op := MathOp(m.readByte())
	x, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	r, err := m.Host.Math(op, x.AsFloat())
	if err != nil {
		return value.NewNone(), err
	}
	return value.NewReal(r), nil
}

func (m *Machine) evalLetExpr() (value.Value, error) {
	id := m.readU16()
	v, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	if err := m.Symbols.Let(id, m.fnLevel, v); err != nil {
		return value.NewNone(), err
	}
	return v, nil
}

func (m *Machine) evalIdentifier() (value.Value, error) {
	id := m.readU16()
	e, err := m.Symbols.Resolve(id, m.fnLevel, true)
	if err != nil {
		return value.NewNone(), err
	}
	return e.Value, nil
}

func (m *Machine) evalLen() (value.Value, error) {
	arr, err := m.Eval()
	if err != nil {
		return value.NewNone(), err
	}
	hdr, _, err := m.readArrayHeader(arr.Ptr)
	if err != nil {
		return value.NewNone(), err
	}
	return value.NewInt(value.Product(hdr.Dims)), nil
}
