package mailbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicore/epycore/internal/heap"
	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/value"
)

func newTestDispatcher(cores []*CoreCtrl) *Dispatcher {
	return NewDispatcher(cores, heap.NewHeap(4096), 0, len(cores), strings.NewReader(""))
}

func TestDispatcherServiceConcat(t *testing.T) {
	c := NewCoreCtrl(0)
	d := newTestDispatcher([]*CoreCtrl{c})

	c.ArgStr = "foo\x00bar"
	c.Command = CmdConcat
	d.service(c)

	require.NoError(t, c.Err)
	require.Equal(t, value.String, c.Result.Kind)

	buf, err := d.SharedHeap.Payload(c.Result.Ptr)
	require.NoError(t, err)
	n := strings.IndexByte(string(buf), 0)
	assert.Equal(t, "foobar", string(buf[:n]))
}

func TestDispatcherServiceMath(t *testing.T) {
	c := NewCoreCtrl(0)
	d := newTestDispatcher([]*CoreCtrl{c})

	c.Command = CmdMath
	c.MathOp = interp.MathSqrt
	c.ArgA = value.NewReal(16)
	d.service(c)

	require.NoError(t, c.Err)
	assert.Equal(t, value.NewReal(4), c.Result)
}

func TestDispatcherServiceDisplay(t *testing.T) {
	c := NewCoreCtrl(0)
	d := newTestDispatcher([]*CoreCtrl{c})

	c.Command = CmdDisplay
	c.ArgStr = "hello"
	d.service(c)

	assert.NoError(t, c.Err)
}

func TestDispatcherServiceUnknownCommandErrors(t *testing.T) {
	c := NewCoreCtrl(0)
	d := newTestDispatcher([]*CoreCtrl{c})

	c.Command = Command(255)
	d.service(c)

	assert.Error(t, c.Err)
}

// TestDispatcherLocalSendRecvRoutesThroughRouter exercises the same-node
// point-to-point path (spec.md §4.6): isLocal must hold for two cores on
// the same node, and the router must carry the value between them without
// touching a comms proxy.
func TestDispatcherLocalSendRecvRoutesThroughRouter(t *testing.T) {
	c0 := NewCoreCtrl(0)
	c1 := NewCoreCtrl(1)
	d := newTestDispatcher([]*CoreCtrl{c0, c1})

	require.True(t, d.isLocal(1))

	require.NoError(t, d.send(c0, 1, value.NewInt(42)))
	v, err := d.recv(c1, 1)
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(42), v)
}

func TestDispatcherIsLocalDistinguishesNodes(t *testing.T) {
	d := newTestDispatcher([]*CoreCtrl{NewCoreCtrl(0), NewCoreCtrl(1)})
	d.CoresPerNode = 4
	assert.True(t, d.isLocal(3))
	assert.False(t, d.isLocal(4))
}

func TestDispatcherPollSkipsInactiveAndIdleCores(t *testing.T) {
	idle := NewCoreCtrl(0)
	inactive := NewCoreCtrl(1)
	inactive.Deactivate()
	d := newTestDispatcher([]*CoreCtrl{idle, inactive})

	d.Poll() // must not panic or service anything for idle/inactive cores
	assert.False(t, idle.Busy())
	assert.False(t, inactive.Busy())
}
