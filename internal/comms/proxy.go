package comms

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/epicore/epycore/internal/interp"
	"github.com/epicore/epycore/internal/value"
	epycorenats "github.com/epicore/epycore/pkg/nats"
)

// ReduceOp is interp's collective reduction operator, reused here rather
// than duplicated since this package already sits above internal/interp
// in the dependency graph (internal/mailbox wires the two together).
type ReduceOp = interp.ReduceOp

const (
	ReduceSum     = interp.ReduceSum
	ReduceMin     = interp.ReduceMin
	ReduceMax     = interp.ReduceMax
	ReduceProduct = interp.ReduceProduct
)

// foldReduce combines two contributions per op, promoting to REAL if
// either operand is REAL (the same promotion rule internal/interp's
// expression evaluator applies to binary arithmetic).
func foldReduce(op ReduceOp, a, b value.Value) value.Value {
	real := a.Kind == value.Real || b.Kind == value.Real
	if real {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case ReduceSum:
			return value.NewReal(x + y)
		case ReduceMin:
			if x < y {
				return value.NewReal(x)
			}
			return value.NewReal(y)
		case ReduceMax:
			if x > y {
				return value.NewReal(x)
			}
			return value.NewReal(y)
		case ReduceProduct:
			return value.NewReal(x * y)
		}
	}
	x, y := a.Num, b.Num
	switch op {
	case ReduceSum:
		return value.NewInt(x + y)
	case ReduceMin:
		if x < y {
			return value.NewInt(x)
		}
		return value.NewInt(y)
	case ReduceMax:
		if x > y {
			return value.NewInt(x)
		}
		return value.NewInt(y)
	case ReduceProduct:
		return value.NewInt(x * y)
	}
	return a
}

// DefaultTimeout bounds how long a collective or point-to-point op waits
// for its peers before giving up, matching the mailbox's own "don't hang
// the monitor forever" discipline (spec.md §4.5).
const DefaultTimeout = 30 * time.Second

// Proxy implements the SEND/RECV/SENDRECV/BCAST/REDUCE/SYNC half of
// internal/interp.Host that crosses node boundaries, standing in for the
// MPI-like substrate spec.md §4.6 assumes. It is grounded on
// pkg/nats/client.go's connection/subscription wrapper, generalized from
// "subscribe once, hand every message to a callback" to "subscribe once,
// route each message into the right waiter by source rank or collective
// sequence number".
type Proxy struct {
	client       *epycorenats.Client
	globalID     int
	coresPerNode int // stride used by ResolveRank (globalId = nodeId*coresPerNode + localId)
	activeCores  int // cluster-wide active core count REDUCE/SYNC wait for, distinct from coresPerNode under partial intentActive
	rank         int
	timeout      time.Duration
	inboxSub     *nats.Subscription

	mu      sync.Mutex
	inboxes map[int]chan value.Value // keyed by source globalId, for RECV/SENDRECV

	seq atomic.Int64 // collective call sequence, advanced in lockstep across ranks
}

// NewProxy subscribes globalID's point-to-point inbox and returns a ready
// Proxy. coresPerNode is the per-node stride ResolveRank divides by;
// activeCores is the true cluster-wide count of active cores REDUCE/SYNC
// wait on, which only equals coresPerNode when every core on every node
// is active (spec.md §6 intentActive may leave most cores unbuilt).
func NewProxy(client *epycorenats.Client, globalID, coresPerNode, activeCores int) (*Proxy, error) {
	p := &Proxy{
		client:       client,
		globalID:     globalID,
		coresPerNode: coresPerNode,
		activeCores:  activeCores,
		rank:         ResolveRank(globalID, coresPerNode),
		timeout:      DefaultTimeout,
		inboxes:      make(map[int]chan value.Value),
	}

	sub, err := client.Connection().Subscribe(p.inboxSubject(globalID), p.onInbox)
	if err != nil {
		return nil, fmt.Errorf("comms: subscribe inbox for global id %d: %w", globalID, err)
	}
	p.inboxSub = sub
	cclog.Infof("comms: proxy ready for global id %d (rank %d)", globalID, p.rank)
	return p, nil
}

// Close unsubscribes the proxy's point-to-point inbox.
func (p *Proxy) Close() error {
	if p.inboxSub == nil {
		return nil
	}
	return p.inboxSub.Unsubscribe()
}

func (p *Proxy) inboxSubject(globalID int) string {
	return fmt.Sprintf("epycore.core.%d.inbox", globalID)
}

func (p *Proxy) onInbox(msg *nats.Msg) {
	if len(msg.Data) < 9 {
		cclog.Warnf("comms: dropped undersized inbox message on %s", msg.Subject)
		return
	}
	source := int(int64frombytes(msg.Data[:8]))
	v, err := decodeValue(msg.Data[8:])
	if err != nil {
		cclog.Warnf("comms: %s", err)
		return
	}

	p.mu.Lock()
	ch, ok := p.inboxes[source]
	if !ok {
		ch = make(chan value.Value, 1)
		p.inboxes[source] = ch
	}
	p.mu.Unlock()

	select {
	case ch <- v:
	default:
		// Slot already holds an undelivered value; the sender violated
		// the one-outstanding-message-per-peer assumption spec.md §4.4
		// makes for the synchronous mailbox protocol. Drop rather than
		// block the NATS dispatch goroutine.
		cclog.Warnf("comms: inbox for source %d full, dropping message", source)
	}
}

func (p *Proxy) waitInbox(ctx context.Context, source int) (value.Value, error) {
	p.mu.Lock()
	ch, ok := p.inboxes[source]
	if !ok {
		ch = make(chan value.Value, 1)
		p.inboxes[source] = ch
	}
	p.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return value.NewNone(), fmt.Errorf("comms: recv from %d timed out: %w", source, ctx.Err())
	}
}

// Send implements point-to-point SEND (spec.md §4.6).
func (p *Proxy) Send(target int, v value.Value) error {
	payload := append(int64tobytes(int64(p.globalID)), encodeValue(v)...)
	return p.client.Publish(p.inboxSubject(target), payload)
}

// Recv implements point-to-point RECV, blocking until source's
// contribution arrives or the timeout elapses (spec.md §4.6).
func (p *Proxy) Recv(source int) (value.Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.waitInbox(ctx, source)
}

// SendRecv implements the combined exchange: send to target, then wait
// for target's reply, run concurrently so two ranks calling SendRecv on
// each other don't deadlock waiting in send-then-receive order (spec.md
// §4.6).
func (p *Proxy) SendRecv(target int, v value.Value) (value.Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var reply value.Value
	g.Go(func() error { return p.Send(target, v) })
	g.Go(func() error {
		r, err := p.waitInbox(gctx, target)
		reply = r
		return err
	})
	if err := g.Wait(); err != nil {
		return value.NewNone(), err
	}
	return reply, nil
}

// nextSeq advances the collective call counter. Every rank must issue
// collectives in the same order for the resulting sequence numbers to
// line up across the cluster — the same assumption MPI's collective
// calls make.
func (p *Proxy) nextSeq() int64 { return p.seq.Add(1) }

// Bcast implements the broadcast collective: source publishes once to a
// per-call subject, every rank (including source) waits on it (spec.md
// §4.6).
func (p *Proxy) Bcast(source int, v value.Value) (value.Value, error) {
	seq := p.nextSeq()
	subject := fmt.Sprintf("epycore.bcast.%d", seq)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	result := make(chan value.Value, 1)
	errc := make(chan error, 1)
	sub, err := p.client.Connection().Subscribe(subject, func(msg *nats.Msg) {
		dv, derr := decodeValue(msg.Data)
		if derr != nil {
			errc <- derr
			return
		}
		result <- dv
	})
	if err != nil {
		return value.NewNone(), fmt.Errorf("comms: bcast subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	if p.globalID == source {
		if err := p.client.Publish(subject, encodeValue(v)); err != nil {
			return value.NewNone(), err
		}
	}

	select {
	case dv := <-result:
		return dv, nil
	case err := <-errc:
		return value.NewNone(), err
	case <-ctx.Done():
		return value.NewNone(), fmt.Errorf("comms: bcast timed out: %w", ctx.Err())
	}
}

// Reduce implements the reduction collective (spec.md §4.6): every rank
// publishes its contribution to a per-call gather subject; the
// globalID==0 coordinator waits for activeCores contributions, folds them
// with op, and republishes the result for everyone (itself included) to
// pick up.
func (p *Proxy) Reduce(op ReduceOp, v value.Value) (value.Value, error) {
	seq := p.nextSeq()
	gatherSubject := fmt.Sprintf("epycore.reduce.%d.part", seq)
	resultSubject := fmt.Sprintf("epycore.reduce.%d.result", seq)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	resultCh := make(chan value.Value, 1)
	resultSub, err := p.client.Connection().Subscribe(resultSubject, func(msg *nats.Msg) {
		dv, derr := decodeValue(msg.Data)
		if derr == nil {
			select {
			case resultCh <- dv:
			default:
			}
		}
	})
	if err != nil {
		return value.NewNone(), fmt.Errorf("comms: reduce result subscribe: %w", err)
	}
	defer resultSub.Unsubscribe()

	var coordErr error
	if p.globalID == 0 {
		coordErr = p.coordinateReduce(ctx, op, v, gatherSubject, resultSubject)
	} else {
		coordErr = p.client.Publish(gatherSubject, encodeValue(v))
	}
	if coordErr != nil {
		return value.NewNone(), coordErr
	}

	select {
	case dv := <-resultCh:
		return dv, nil
	case <-ctx.Done():
		return value.NewNone(), fmt.Errorf("comms: reduce timed out: %w", ctx.Err())
	}
}

func (p *Proxy) coordinateReduce(ctx context.Context, op ReduceOp, own value.Value, gatherSubject, resultSubject string) error {
	parts := make(chan value.Value, p.activeCores)
	parts <- own // the coordinator's own contribution

	sub, err := p.client.Connection().Subscribe(gatherSubject, func(msg *nats.Msg) {
		dv, derr := decodeValue(msg.Data)
		if derr == nil {
			select {
			case parts <- dv:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("comms: reduce gather subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	acc := own
	for i := 1; i < p.activeCores; i++ {
		select {
		case v := <-parts:
			acc = foldReduce(op, acc, v)
		case <-ctx.Done():
			return fmt.Errorf("comms: reduce gather timed out with %d/%d parts: %w", i, p.activeCores, ctx.Err())
		}
	}
	return p.client.Publish(resultSubject, encodeValue(acc))
}

// Sync implements the SYNC barrier (spec.md §4.6): every rank arrives at
// a per-call subject, the globalID==0 coordinator counts activeCores
// arrivals then releases everyone.
func (p *Proxy) Sync() error {
	seq := p.nextSeq()
	arriveSubject := fmt.Sprintf("epycore.sync.%d.arrive", seq)
	releaseSubject := fmt.Sprintf("epycore.sync.%d.release", seq)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	released := make(chan struct{}, 1)
	relSub, err := p.client.Connection().Subscribe(releaseSubject, func(*nats.Msg) {
		select {
		case released <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("comms: sync release subscribe: %w", err)
	}
	defer relSub.Unsubscribe()

	if p.globalID == 0 {
		if err := p.coordinateSync(ctx, arriveSubject, releaseSubject); err != nil {
			return err
		}
	} else {
		if err := p.client.Publish(arriveSubject, nil); err != nil {
			return err
		}
	}

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("comms: sync timed out: %w", ctx.Err())
	}
}

func (p *Proxy) coordinateSync(ctx context.Context, arriveSubject, releaseSubject string) error {
	arrivals := make(chan struct{}, p.activeCores)
	arrivals <- struct{}{} // the coordinator's own arrival

	sub, err := p.client.Connection().Subscribe(arriveSubject, func(*nats.Msg) {
		select {
		case arrivals <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("comms: sync arrive subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for i := 1; i < p.activeCores; i++ {
		select {
		case <-arrivals:
		case <-ctx.Done():
			return fmt.Errorf("comms: sync arrivals timed out with %d/%d: %w", i, p.activeCores, ctx.Err())
		}
	}
	return p.client.Publish(releaseSubject, nil)
}

func int64tobytes(n int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	return b
}

func int64frombytes(b []byte) int64 {
	var n int64
	for i := 0; i < 8; i++ {
		n |= int64(b[i]) << (8 * i)
	}
	return n
}
