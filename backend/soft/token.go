package soft

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/wippyai/hostrt/backend"
)

var tokenSeq atomic.Uint64

// Token is the completion token produced by soft queues.
type Token struct {
	done     chan struct{}
	err      error
	id       uint64
	released atomic.Bool
}

func newToken() *Token {
	return &Token{done: make(chan struct{}), id: tokenSeq.Add(1)}
}

func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Token) Release() { t.released.Store(true) }

// Released reports whether the holder has given the token back.
func (t *Token) Released() bool { return t.released.Load() }

// ID returns a process-unique sequence number.
func (t *Token) ID() uint64 { return t.id }

func (t *Token) String() string { return fmt.Sprintf("token#%d", t.id) }

func (t *Token) signal(err error) {
	t.err = err
	close(t.done)
}

// waitDeps blocks on waits. A failing dependency is reported wrapped in
// backend.ErrDependencyFailed; cancellation of ctx is reported as is.
func waitDeps(ctx context.Context, waits []backend.Token) error {
	if err := backend.WaitAll(ctx, waits); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", backend.ErrDependencyFailed, err)
	}
	return nil
}

func call(ctx context.Context, op backend.Op) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if op == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("op panicked: %v", r)
		}
	}()
	return op(ctx)
}

func run(ctx context.Context, op backend.Op, waits []backend.Token) error {
	if err := waitDeps(ctx, waits); err != nil {
		return err
	}
	return call(ctx, op)
}
