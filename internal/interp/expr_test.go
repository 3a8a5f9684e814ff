package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicore/epycore/internal/value"
)

func evalCode(t *testing.T, code []byte) (value.Value, *Machine, *fakeHost) {
	t.Helper()
	m, host := newTestMachine(code)
	v, err := m.Eval()
	require.NoError(t, err)
	return v, m, host
}

func TestEvalArithmeticIntPromotion(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokAdd, tokInt(2), tokInt(3)))
	assert.Equal(t, value.NewInt(5), v)
}

func TestEvalArithmeticRealPromotion(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokAdd, tokInt(2), tokReal(1.5)))
	assert.Equal(t, value.NewReal(3.5), v)
}

func TestEvalDivModInt(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokDiv, tokInt(7), tokInt(2)))
	assert.Equal(t, value.NewInt(3), v)

	v, _, _ = evalCode(t, tokBin(TokMod, tokInt(7), tokInt(2)))
	assert.Equal(t, value.NewInt(1), v)
}

func TestEvalPowRealBaseIntExponent(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokPow, tokReal(2), tokInt(3)))
	assert.Equal(t, value.NewReal(8), v)
}

func TestEvalPowIntZeroExponentIsOne(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokPow, tokInt(5), tokInt(0)))
	assert.Equal(t, value.NewInt(1), v)
}

func TestEvalPowRealBaseRealExponentErrors(t *testing.T) {
	m, _ := newTestMachine(tokBin(TokPow, tokReal(2), tokReal(3)))
	_, err := m.Eval()
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrRealPowReal, rerr.Code())
}

func TestEvalComparisons(t *testing.T) {
	cases := []struct {
		tok  Token
		lhs  int32
		rhs  int32
		want bool
	}{
		{TokLT, 2, 3, true},
		{TokLT, 3, 2, false},
		{TokGT, 3, 2, true},
		{TokGEQ, 3, 3, true},
		{TokLEQ, 2, 3, true},
		{TokEQ, 3, 3, true},
		{TokNEQ, 3, 3, false},
	}
	for _, c := range cases {
		v, _, _ := evalCode(t, tokBin(c.tok, tokInt(c.lhs), tokInt(c.rhs)))
		assert.Equal(t, value.NewBool(c.want), v)
	}
}

func TestEvalStringConcat(t *testing.T) {
	v, m, _ := evalCode(t, tokBin(TokAdd, tokString("ab"), tokString("cd")))
	require.Equal(t, value.String, v.Kind)
	s, err := m.readHeapString(v.Ptr)
	require.NoError(t, err)
	assert.Equal(t, "abcd", s)
}

func TestEvalStringPlusNumberFormats(t *testing.T) {
	v, m, _ := evalCode(t, tokBin(TokAdd, tokString("n="), tokInt(5)))
	s, err := m.readHeapString(v.Ptr)
	require.NoError(t, err)
	assert.Equal(t, "n=5", s)
}

func TestEvalStringEquality(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokEQ, tokString("x"), tokString("x")))
	assert.Equal(t, value.NewBool(true), v)
}

func TestEvalStringOnlySupportsAddAndEquality(t *testing.T) {
	m, _ := newTestMachine(tokBin(TokLT, tokString("a"), tokString("b")))
	_, err := m.Eval()
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrOnlyAdditionStr, rerr.Code())
}

func TestEvalNoneOnlySupportsEqualityComparisons(t *testing.T) {
	v, _, _ := evalCode(t, tokBin(TokEQ, tokNone(), tokNone()))
	assert.Equal(t, value.NewBool(true), v)

	m, _ := newTestMachine(tokBin(TokLT, tokNone(), tokInt(1)))
	_, err := m.Eval()
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrNoneOnlyTestEQ, rerr.Code())
}

func TestEvalLogicalAndShortCircuits(t *testing.T) {
	// The rhs node is still consumed to keep ip correct, but its value
	// must not influence the short-circuited result.
	code := tokBin(TokAnd, tokBool(false), tokBin(TokDiv, tokInt(1), tokInt(1)))
	v, m, _ := evalCode(t, code)
	assert.Equal(t, value.NewBool(false), v)
	assert.Equal(t, uint32(len(code)), m.ip)
}

func TestEvalLogicalOrShortCircuits(t *testing.T) {
	code := tokBin(TokOr, tokBool(true), tokBool(false))
	v, m, _ := evalCode(t, code)
	assert.Equal(t, value.NewBool(true), v)
	assert.Equal(t, uint32(len(code)), m.ip)
}

func TestEvalNot(t *testing.T) {
	v, _, _ := evalCode(t, tokUnary(TokNot, tokBool(true)))
	assert.Equal(t, value.NewBool(false), v)
}

func TestEvalIsComparesIdenticalIdentifierValues(t *testing.T) {
	code := tokBin(TokIs, tokIdent(1), tokIdent(1))
	m, _ := newTestMachine(code)
	ptr, err := m.allocString("shared")
	require.NoError(t, err)
	require.NoError(t, m.Symbols.Let(1, 0, value.NewString(ptr)))
	v, err := m.Eval()
	require.NoError(t, err)
	assert.Equal(t, value.NewBool(true), v)
}

func TestEvalCoreIDAndNumCores(t *testing.T) {
	m, _ := newTestMachine([]byte{byte(TokCoreID)})
	m.CoreID = 3
	v, err := m.Eval()
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(3), v)

	m2, _ := newTestMachine([]byte{byte(TokNumCores)})
	m2.NumActiveCores = 4
	v2, err := m2.Eval()
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(4), v2)
}

func TestEvalMathsSqrt(t *testing.T) {
	code := cat([]byte{byte(TokMaths), byte(MathSqrt)}, tokReal(16))
	v, _, _ := evalCode(t, code)
	assert.Equal(t, value.NewReal(4), v)
}

func TestEvalRandomUsesHostRandomValue(t *testing.T) {
	m, host := newTestMachine([]byte{byte(TokRandom)})
	host.randomValue = 0.25
	v, err := m.Eval()
	require.NoError(t, err)
	assert.Equal(t, value.NewReal(0.25), v)
}

func TestEvalLetExpressionBindsAndReturnsValue(t *testing.T) {
	code := cat([]byte{byte(TokLet)}, u16b(7), tokInt(42))
	v, m, _ := evalCode(t, code)
	assert.Equal(t, value.NewInt(42), v)
	e, err := m.Symbols.Resolve(7, 0, false)
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(42), e.Value)
}

func TestEvalNativeInvokesRegisteredFunction(t *testing.T) {
	code := cat([]byte{byte(TokNative), 9, 2}, tokInt(2), tokInt(3))
	m, _ := newTestMachine(code)
	m.RegisterNative(9, func(mm *Machine, args []value.Value) (value.Value, error) {
		return value.NewInt(args[0].Num + args[1].Num), nil
	})
	v, err := m.Eval()
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(5), v)
}

func TestEvalLenOfArrayLiteral(t *testing.T) {
	lit := cat([]byte{byte(TokArrayLiteral)}, u16b(3), u16b(1), tokInt(1), tokInt(2), tokInt(3))
	code := tokUnary(TokLen, lit)
	v, _, _ := evalCode(t, code)
	assert.Equal(t, value.NewInt(3), v)
}
