// Package backend defines the contracts a device runtime must satisfy to host
// hostrt queues: completion tokens, queues with a fixed ordering discipline,
// and devices that create them.
//
// The core never performs compute or render work itself. It hands opaque Ops
// to a backend Queue together with the tokens they must wait for, and gets a
// Token back that signals completion.
package backend

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind names the backend family a queue executes on.
type Kind uint8

const (
	KindCompute Kind = iota
	KindRender

	NumKinds = 2
)

func (k Kind) String() string {
	switch k {
	case KindCompute:
		return "compute"
	case KindRender:
		return "render"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Other returns the opposite backend kind.
func (k Kind) Other() Kind {
	if k == KindCompute {
		return KindRender
	}
	return KindCompute
}

// Ordering is a queue's completion discipline.
type Ordering uint8

const (
	// InOrder queues complete work in submission order.
	InOrder Ordering = iota
	// OutOfOrder queues order work only through explicit wait lists.
	OutOfOrder
)

func (o Ordering) String() string {
	if o == InOrder {
		return "in-order"
	}
	return "out-of-order"
}

// DeviceType classifies a device.
type DeviceType uint8

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
	DeviceAccelerator
)

func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	case DeviceAccelerator:
		return "accelerator"
	}
	return "unknown"
}

// ErrDependencyFailed is wrapped by the error of work skipped because one of
// its wait tokens failed.
var ErrDependencyFailed = stderrors.New("dependency failed")

// ErrQueueClosed is returned when enqueueing onto a closed queue.
var ErrQueueClosed = stderrors.New("queue closed")

// Token is a backend completion token. Done is closed once the work it stands
// for has finished; Err is meaningful only after that.
type Token interface {
	Done() <-chan struct{}
	Err() error

	// Release gives the token back to the backend. The core releases a token
	// when the fence or event holding it is re-signaled or destroyed.
	Release()
}

// Op is one unit of backend work.
type Op func(ctx context.Context) error

// Queue executes Ops on one backend.
type Queue interface {
	Kind() Kind
	Ordering() Ordering

	// Enqueue schedules op to run after every token in waits has signaled.
	// On an in-order queue op also runs after all previously enqueued work.
	// A nil op completes as soon as its dependencies do.
	Enqueue(op Op, waits []Token) (Token, error)

	// Barrier returns a token that signals once waits have signaled. With an
	// empty wait list it covers all work currently outstanding on the queue.
	// On an in-order queue it always covers all previously enqueued work.
	Barrier(waits []Token) (Token, error)

	// Finish blocks until all enqueued work has completed.
	Finish(ctx context.Context) error

	// Close stops the queue. Work still waiting on dependencies is abandoned.
	Close() error
}

// Device creates queues for the backends it supports.
type Device interface {
	Name() string
	Type() DeviceType
	Supports(Kind) bool
	NewQueue(kind Kind, ordering Ordering) (Queue, error)
	Close() error
}

// Wait blocks until tok signals or ctx is done and returns the token's error.
func Wait(ctx context.Context, tok Token) error {
	select {
	case <-tok.Done():
		return tok.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll waits for every token in order and returns the first failure.
// Nil tokens are skipped.
func WaitAll(ctx context.Context, toks []Token) error {
	for _, t := range toks {
		if t == nil {
			continue
		}
		if err := Wait(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Signaled reports whether tok has completed without blocking.
func Signaled(tok Token) bool {
	select {
	case <-tok.Done():
		return true
	default:
		return false
	}
}

// Completed returns a token that is already signaled with err.
func Completed(err error) Token {
	return completed{err: err}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

type completed struct {
	err error
}

func (c completed) Done() <-chan struct{} { return closedChan }
func (c completed) Err() error            { return c.err }
func (c completed) Release()              {}
