package interp

// Opcode is the leading byte of each bytecode instruction (spec.md §4.3).
type Opcode byte

const (
	OpLet Opcode = iota + 1
	OpLetNoAlias
	OpArraySet
	OpDimArray
	OpDimSharedArray
	OpIf
	OpIfElse
	OpFor
	OpGoto
	OpFnCall
	OpReturn
	OpReturnExp
	OpStop
	OpInput
	OpInputString
	OpSend
	OpRecv
	OpSendRecv
	OpBcast
	OpReduction
	OpSync
	OpNative
	OpFree
	OpGC
)

// Token is the leading byte of each expression sub-grammar node
// (spec.md §4.3's "Expression sub-grammar tokens").
type Token byte

const (
	TokInteger Token = iota + 1
	TokReal
	TokBoolean
	TokString
	TokNone
	TokCoreID
	TokNumCores
	TokLen
	TokArrayLiteral
	TokIdentifier
	TokArrayAccess
	TokAdd
	TokSub
	TokMul
	TokDiv
	TokMod
	TokPow
	TokEQ
	TokNEQ
	TokGT
	TokGEQ
	TokLT
	TokLEQ
	TokAnd
	TokOr
	TokNot
	TokIs
	TokMaths
	TokRandom
	TokLet
	TokFnCall
	TokNative
)

// MathOp is the one-operand transcendental math opcode embedded in a
// MATHS token (spec.md §4.3's MATHS table).
type MathOp byte

const (
	MathSqrt MathOp = iota
	MathSin
	MathCos
	MathTan
	MathAsin
	MathAcos
	MathAtan
	MathSinh
	MathCosh
	MathTanh
	MathFloor
	MathCeil
	MathLog
	MathLog10
	MathRandom
)

// ReduceOp is the collective-reduction operator (spec.md §4.6).
type ReduceOp byte

const (
	ReduceSum ReduceOp = iota
	ReduceMin
	ReduceMax
	ReduceProduct
)
