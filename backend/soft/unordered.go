package soft

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/hostrt/backend"
)

// Unordered is an out-of-order queue: each op starts as soon as its wait list
// is satisfied and a worker slot is free.
type Unordered struct {
	ctx         context.Context
	cancel      context.CancelFunc
	sem         *semaphore.Weighted
	outstanding map[*Token]struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	kind        backend.Kind
	closed      bool
}

// NewUnordered creates an out-of-order queue running at most workers ops at once.
func NewUnordered(kind backend.Kind, workers int) *Unordered {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Unordered{
		ctx:         ctx,
		cancel:      cancel,
		sem:         semaphore.NewWeighted(int64(workers)),
		outstanding: make(map[*Token]struct{}),
		kind:        kind,
	}
}

func (q *Unordered) Kind() backend.Kind         { return q.kind }
func (q *Unordered) Ordering() backend.Ordering { return backend.OutOfOrder }

func (q *Unordered) Enqueue(op backend.Op, waits []backend.Token) (backend.Token, error) {
	return q.start(op, waits, op != nil)
}

func (q *Unordered) Barrier(waits []backend.Token) (backend.Token, error) {
	if len(waits) == 0 {
		waits = q.snapshot()
	}
	return q.start(nil, waits, false)
}

// Outstanding returns the number of unfinished ops and barriers.
func (q *Unordered) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outstanding)
}

func (q *Unordered) snapshot() []backend.Token {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]backend.Token, 0, len(q.outstanding))
	for t := range q.outstanding {
		out = append(out, t)
	}
	return out
}

func (q *Unordered) start(op backend.Op, waits []backend.Token, gated bool) (backend.Token, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, backend.ErrQueueClosed
	}
	tok := newToken()
	q.outstanding[tok] = struct{}{}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		err := q.exec(op, waits, gated)
		if err != nil {
			Logger().Debug("unordered op failed", zap.Stringer("kind", q.kind), zap.Stringer("token", tok), zap.Error(err))
		}
		// signal before leaving the outstanding set so a concurrent
		// Barrier either sees the token or sees it completed
		tok.signal(err)
		q.mu.Lock()
		delete(q.outstanding, tok)
		q.mu.Unlock()
	}()
	return tok, nil
}

func (q *Unordered) exec(op backend.Op, waits []backend.Token, gated bool) error {
	if !gated {
		return run(q.ctx, op, waits)
	}
	if err := waitDeps(q.ctx, waits); err != nil {
		return err
	}
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)
	return call(q.ctx, op)
}

func (q *Unordered) Finish(ctx context.Context) error {
	tok, err := q.Barrier(nil)
	if err != nil {
		return err
	}
	return backend.Wait(ctx, tok)
}

func (q *Unordered) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
