package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

type chanToken struct {
	done chan struct{}
	err  error
}

func (c *chanToken) Done() <-chan struct{} { return c.done }
func (c *chanToken) Err() error            { return c.err }
func (c *chanToken) Release()              {}

func TestWait(t *testing.T) {
	tok := &chanToken{done: make(chan struct{})}
	if Signaled(tok) {
		t.Fatal("fresh token should not be signaled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Wait(ctx, tok); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait on pending token = %v", err)
	}

	tok.err = errors.New("boom")
	close(tok.done)
	if !Signaled(tok) {
		t.Fatal("closed token should be signaled")
	}
	if err := Wait(context.Background(), tok); err == nil || err.Error() != "boom" {
		t.Fatalf("Wait = %v, want boom", err)
	}
}

func TestWaitAll(t *testing.T) {
	fail := errors.New("second")
	toks := []Token{Completed(nil), nil, Completed(fail), Completed(errors.New("third"))}
	if err := WaitAll(context.Background(), toks); !errors.Is(err, fail) {
		t.Fatalf("WaitAll = %v, want first failure", err)
	}
	if err := WaitAll(context.Background(), nil); err != nil {
		t.Fatalf("empty WaitAll = %v", err)
	}
}

func TestKind(t *testing.T) {
	if KindCompute.Other() != KindRender || KindRender.Other() != KindCompute {
		t.Fatal("Other should flip kinds")
	}
	if KindRender.String() != "render" || InOrder.String() != "in-order" || DeviceGPU.String() != "gpu" {
		t.Fatal("unexpected names")
	}
}
