package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicore/epycore/internal/value"
)

func TestLocalRouterSendThenRecv(t *testing.T) {
	r := NewLocalRouter()
	require.NoError(t, r.Send(5, value.NewInt(42)))
	assert.Equal(t, value.NewInt(42), r.Recv(5))
}

func TestLocalRouterSendFullInboxErrors(t *testing.T) {
	r := NewLocalRouter()
	require.NoError(t, r.Send(1, value.NewInt(1)))
	err := r.Send(1, value.NewInt(2))
	assert.Error(t, err, "a second send before the first is drained must fail, not block")
}

func TestLocalRouterRecvBlocksUntilSend(t *testing.T) {
	r := NewLocalRouter()
	result := make(chan value.Value, 1)
	go func() { result <- r.Recv(9) }()

	require.NoError(t, r.Send(9, value.NewReal(1.5)))
	assert.Equal(t, value.NewReal(1.5), <-result)
}
