package mailbox

import (
	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/value"
)

// CoreHost implements internal/interp.Host for one core, posting every
// request through its CoreCtrl so the host monitor's poll loop is the
// single place that actually performs I/O, math, and collective
// operations (spec.md §4.4/§4.5).
type CoreHost struct {
	ctrl *CoreCtrl
}

// NewCoreHost returns a Host bound to ctrl.
func NewCoreHost(ctrl *CoreCtrl) *CoreHost { return &CoreHost{ctrl: ctrl} }

func (h *CoreHost) Display(s string) error {
	h.ctrl.ArgStr = s
	h.ctrl.raise(CmdDisplay)
	return h.ctrl.Err
}

func (h *CoreHost) Input() (value.Value, error) {
	h.ctrl.raise(CmdInput)
	return h.ctrl.Result, h.ctrl.Err
}

func (h *CoreHost) InputString() (string, error) {
	h.ctrl.raise(CmdInputString)
	return h.ctrl.ResultStr, h.ctrl.Err
}

func (h *CoreHost) Concat(a, b string) (uint64, error) {
	h.ctrl.ArgStr = a + "\x00" + b
	h.ctrl.raise(CmdConcat)
	return h.ctrl.Result.Ptr, h.ctrl.Err
}

func (h *CoreHost) Math(op interp.MathOp, x float64) (float64, error) {
	h.ctrl.MathOp = op
	h.ctrl.ArgA = value.NewReal(x)
	h.ctrl.raise(CmdMath)
	return h.ctrl.Result.Flt, h.ctrl.Err
}

func (h *CoreHost) Send(target int, v value.Value) error {
	h.ctrl.Target = target
	h.ctrl.ArgA = v
	h.ctrl.raise(CmdSend)
	return h.ctrl.Err
}

func (h *CoreHost) Recv(source int) (value.Value, error) {
	h.ctrl.Target = source
	h.ctrl.raise(CmdRecv)
	return h.ctrl.Result, h.ctrl.Err
}

func (h *CoreHost) SendRecv(target int, v value.Value) (value.Value, error) {
	h.ctrl.Target = target
	h.ctrl.ArgA = v
	h.ctrl.raise(CmdSendRecv)
	return h.ctrl.Result, h.ctrl.Err
}

func (h *CoreHost) Bcast(source int, v value.Value) (value.Value, error) {
	h.ctrl.Target = source
	h.ctrl.ArgA = v
	h.ctrl.raise(CmdBcast)
	return h.ctrl.Result, h.ctrl.Err
}

func (h *CoreHost) Reduce(op interp.ReduceOp, v value.Value) (value.Value, error) {
	h.ctrl.ReduceOp = op
	h.ctrl.ArgA = v
	h.ctrl.raise(CmdReduce)
	return h.ctrl.Result, h.ctrl.Err
}

func (h *CoreHost) Sync() error {
	h.ctrl.raise(CmdSync)
	return h.ctrl.Err
}
