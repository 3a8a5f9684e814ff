package mailbox

import (
	"fmt"
	"sync"

	"github.com/epicore/epycore/internal/value"
)

// LocalRouter delivers SEND/RECV/SENDRECV point-to-point traffic between
// cores on the same node directly, without involving the inter-node
// comms proxy — the host monitor can see every local CoreCtrl, so it
// copies values between them the way real on-mesh hardware would route
// a message without leaving the chip (spec.md §4.6, local case).
type LocalRouter struct {
	mu      sync.Mutex
	inboxes map[int]chan value.Value
}

func NewLocalRouter() *LocalRouter {
	return &LocalRouter{inboxes: make(map[int]chan value.Value)}
}

func (r *LocalRouter) inbox(globalID int) chan value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.inboxes[globalID]
	if !ok {
		ch = make(chan value.Value, 1)
		r.inboxes[globalID] = ch
	}
	return ch
}

// Send delivers v to target's inbox without blocking the caller beyond a
// full inbox (mirrors the one-outstanding-message assumption spec.md
// §4.4's synchronous protocol makes).
func (r *LocalRouter) Send(target int, v value.Value) error {
	select {
	case r.inbox(target) <- v:
		return nil
	default:
		return fmt.Errorf("mailbox: local inbox for core %d full", target)
	}
}

// Recv blocks until a value arrives from source.
func (r *LocalRouter) Recv(source int) value.Value {
	return <-r.inbox(source)
}
