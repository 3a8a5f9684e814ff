package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicore/epycore/internal/value"
)

func TestNewCoreCtrlStartsIdleAndActive(t *testing.T) {
	c := NewCoreCtrl(3)
	assert.Equal(t, 3, c.ID)
	assert.False(t, c.Busy())
	assert.True(t, c.Active())
}

func TestDeactivateClearsActive(t *testing.T) {
	c := NewCoreCtrl(0)
	c.Deactivate()
	assert.False(t, c.Active())
}

// TestRaiseBlocksUntilServiced exercises the core<->host handshake (spec.md
// §4.4): raise sets busy and blocks; serviced writes the reply and wakes
// the waiting caller.
func TestRaiseBlocksUntilServiced(t *testing.T) {
	c := NewCoreCtrl(0)
	returned := make(chan struct{})

	go func() {
		c.raise(CmdDisplay)
		close(returned)
	}()

	require.Eventually(t, c.Busy, time.Second, time.Millisecond, "raise must mark the ctrl busy")
	assert.Equal(t, CmdDisplay, c.Command)

	c.serviced(value.NewInt(7), "ok", nil)

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("raise did not return after serviced")
	}
	assert.False(t, c.Busy())
	assert.Equal(t, value.NewInt(7), c.Result)
	assert.Equal(t, "ok", c.ResultStr)
	assert.NoError(t, c.Err)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "display", CmdDisplay.String())
	assert.Equal(t, "sendrecv", CmdSendRecv.String())
	assert.Equal(t, "unknown", Command(255).String())
}
