package soft

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/hostrt/backend"
)

type job struct {
	op      backend.Op
	tok     *Token
	waits   []backend.Token
	barrier bool
}

// Ordered is an in-order queue with a single worker goroutine.
type Ordered struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cond    *sync.Cond
	last    *Token
	pending []job
	wg      sync.WaitGroup
	mu      sync.Mutex
	kind    backend.Kind
	closed  bool

	// first failure since the last barrier; owned by loop
	failed error
}

// NewOrdered starts an in-order queue for kind.
func NewOrdered(kind backend.Kind) *Ordered {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Ordered{ctx: ctx, cancel: cancel, kind: kind}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Ordered) Kind() backend.Kind         { return q.kind }
func (q *Ordered) Ordering() backend.Ordering { return backend.InOrder }

func (q *Ordered) Enqueue(op backend.Op, waits []backend.Token) (backend.Token, error) {
	return q.enqueue(job{op: op, waits: waits})
}

// Barrier on an in-order queue is a no-op job: it cannot complete before any
// earlier job, and it fails if any job since the previous barrier failed.
func (q *Ordered) Barrier(waits []backend.Token) (backend.Token, error) {
	return q.enqueue(job{waits: waits, barrier: true})
}

func (q *Ordered) enqueue(j job) (backend.Token, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, backend.ErrQueueClosed
	}
	tok := newToken()
	j.tok = tok
	q.pending = append(q.pending, j)
	q.last = tok
	q.cond.Signal()
	return tok, nil
}

func (q *Ordered) Finish(ctx context.Context) error {
	q.mu.Lock()
	last := q.last
	q.mu.Unlock()
	if last == nil {
		return nil
	}
	select {
	case <-last.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Ordered) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cancel()
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

func (q *Ordered) loop() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := run(q.ctx, j.op, j.waits)
		switch {
		case j.barrier:
			if err == nil && q.failed != nil {
				err = fmt.Errorf("%w: %w", backend.ErrDependencyFailed, q.failed)
			}
			q.failed = nil
		case err != nil && q.failed == nil:
			q.failed = err
		}
		if err != nil {
			Logger().Debug("ordered op failed", zap.Stringer("kind", q.kind), zap.Stringer("token", j.tok), zap.Error(err))
		}
		j.tok.signal(err)
	}
}
