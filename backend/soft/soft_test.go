package soft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/hostrt/backend"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// gated returns an op that reports start on started and blocks until gate closes.
func gated(started chan<- struct{}, gate <-chan struct{}, fn func()) backend.Op {
	return func(ctx context.Context) error {
		if started != nil {
			close(started)
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
		if fn != nil {
			fn()
		}
		return nil
	}
}

func TestOrderedCompletesInSubmissionOrder(t *testing.T) {
	ctx := testCtx(t)
	q := NewOrdered(backend.KindRender)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}

	started := make(chan struct{})
	gate := make(chan struct{})
	tok1, err := q.Enqueue(gated(started, gate, record(1)), nil)
	if err != nil {
		t.Fatal(err)
	}
	tok2, err := q.Enqueue(func(context.Context) error { record(2)(); return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if backend.Signaled(tok2) {
		t.Fatal("second op completed before the first")
	}
	close(gate)
	if err := q.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if !backend.Signaled(tok1) || !backend.Signaled(tok2) {
		t.Fatal("tokens not signaled after Finish")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v", order)
	}
}

func TestOrderedBarrierCoversPriorWork(t *testing.T) {
	ctx := testCtx(t)
	q := NewOrdered(backend.KindRender)
	defer q.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	if _, err := q.Enqueue(gated(started, gate, nil), nil); err != nil {
		t.Fatal(err)
	}
	bar, err := q.Barrier(nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if backend.Signaled(bar) {
		t.Fatal("barrier passed while prior work pending")
	}
	close(gate)
	if err := backend.Wait(ctx, bar); err != nil {
		t.Fatal(err)
	}
}

func TestOrderedBarrierReportsPriorFailure(t *testing.T) {
	ctx := testCtx(t)
	q := NewOrdered(backend.KindRender)
	defer q.Close()

	boom := errors.New("boom")
	ok := func(context.Context) error { return nil }
	if _, err := q.Enqueue(func(context.Context) error { return boom }, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ok, nil); err != nil {
		t.Fatal(err)
	}
	bar, err := q.Barrier(nil)
	if err != nil {
		t.Fatal(err)
	}
	err = backend.Wait(ctx, bar)
	if !errors.Is(err, backend.ErrDependencyFailed) || !errors.Is(err, boom) {
		t.Fatalf("barrier err = %v", err)
	}

	// the failure is reported once
	if _, err := q.Enqueue(ok, nil); err != nil {
		t.Fatal(err)
	}
	bar, err = q.Barrier(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Wait(ctx, bar); err != nil {
		t.Fatalf("barrier after recovery: %v", err)
	}
}

func TestUnorderedIndependentOpsOverlap(t *testing.T) {
	ctx := testCtx(t)
	q := NewUnordered(backend.KindCompute, 4)
	defer q.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	tok1, _ := q.Enqueue(gated(started, gate, nil), nil)
	tok2, _ := q.Enqueue(func(context.Context) error { return nil }, nil)

	<-started
	if err := backend.Wait(ctx, tok2); err != nil {
		t.Fatalf("independent op: %v", err)
	}
	if backend.Signaled(tok1) {
		t.Fatal("gated op completed early")
	}
	close(gate)
	if err := backend.Wait(ctx, tok1); err != nil {
		t.Fatal(err)
	}
}

func TestUnorderedExplicitWait(t *testing.T) {
	ctx := testCtx(t)
	q := NewUnordered(backend.KindCompute, 4)
	defer q.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	tok1, _ := q.Enqueue(gated(started, gate, nil), nil)

	ran := make(chan struct{})
	tok2, _ := q.Enqueue(func(context.Context) error { close(ran); return nil }, []backend.Token{tok1})

	<-started
	select {
	case <-ran:
		t.Fatal("dependent op ran before its dependency")
	default:
	}
	if backend.Signaled(tok2) {
		t.Fatal("dependent token signaled early")
	}
	close(gate)
	if err := backend.Wait(ctx, tok2); err != nil {
		t.Fatal(err)
	}
	<-ran
}

func TestUnorderedBarrierWithoutWaitsCoversOutstanding(t *testing.T) {
	ctx := testCtx(t)
	q := NewUnordered(backend.KindCompute, 2)
	defer q.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	tok1, _ := q.Enqueue(gated(started, gate, nil), nil)
	<-started

	bar, err := q.Barrier(nil)
	if err != nil {
		t.Fatal(err)
	}
	if backend.Signaled(bar) {
		t.Fatal("barrier passed while op outstanding")
	}
	close(gate)
	if err := backend.Wait(ctx, bar); err != nil {
		t.Fatal(err)
	}
	if !backend.Signaled(tok1) {
		t.Fatal("barrier passed before covered op")
	}
}

func TestUnorderedDependencyFailure(t *testing.T) {
	ctx := testCtx(t)
	q := NewUnordered(backend.KindCompute, 2)
	defer q.Close()

	boom := errors.New("boom")
	tok1, _ := q.Enqueue(func(context.Context) error { return boom }, nil)

	ran := false
	tok2, _ := q.Enqueue(func(context.Context) error { ran = true; return nil }, []backend.Token{tok1})

	if err := backend.Wait(ctx, tok1); !errors.Is(err, boom) {
		t.Fatalf("tok1 err = %v", err)
	}
	err := backend.Wait(ctx, tok2)
	if !errors.Is(err, backend.ErrDependencyFailed) || !errors.Is(err, boom) {
		t.Fatalf("tok2 err = %v", err)
	}
	if ran {
		t.Fatal("op ran despite failed dependency")
	}
}

func TestUnorderedWorkerBound(t *testing.T) {
	ctx := testCtx(t)
	q := NewUnordered(backend.KindCompute, 1)
	defer q.Close()

	started1 := make(chan struct{})
	gate := make(chan struct{})
	tok1, _ := q.Enqueue(gated(started1, gate, nil), nil)
	<-started1

	started2 := make(chan struct{})
	tok2, _ := q.Enqueue(gated(started2, closedGate(), nil), nil)
	select {
	case <-started2:
		t.Fatal("second op started with a single worker busy")
	default:
	}
	close(gate)
	if err := backend.WaitAll(ctx, []backend.Token{tok1, tok2}); err != nil {
		t.Fatal(err)
	}
}

func closedGate() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func TestPanicIsReported(t *testing.T) {
	ctx := testCtx(t)
	for _, q := range []backend.Queue{NewOrdered(backend.KindRender), NewUnordered(backend.KindCompute, 1)} {
		tok, err := q.Enqueue(func(context.Context) error { panic("kaboom") }, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := backend.Wait(ctx, tok); err == nil {
			t.Fatalf("%s: expected error from panicking op", q.Ordering())
		}
		q.Close()
	}
}

func TestClosedQueueRejects(t *testing.T) {
	for _, q := range []backend.Queue{NewOrdered(backend.KindRender), NewUnordered(backend.KindCompute, 1)} {
		if err := q.Close(); err != nil {
			t.Fatal(err)
		}
		if err := q.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
		if _, err := q.Enqueue(nil, nil); !errors.Is(err, backend.ErrQueueClosed) {
			t.Fatalf("%s: err = %v", q.Ordering(), err)
		}
		if _, err := q.Barrier(nil); !errors.Is(err, backend.ErrQueueClosed) {
			t.Fatalf("%s barrier: err = %v", q.Ordering(), err)
		}
	}
}

func TestCloseAbandonsBlockedWork(t *testing.T) {
	q := NewOrdered(backend.KindRender)
	never := make(chan struct{})
	tok, _ := q.Enqueue(gated(nil, never, nil), nil)
	q.Close()
	if !backend.Signaled(tok) {
		t.Fatal("token not signaled after close")
	}
	if !errors.Is(tok.Err(), context.Canceled) {
		t.Fatalf("err = %v", tok.Err())
	}
}

func TestTokenRelease(t *testing.T) {
	tok := newToken()
	if tok.Err() != nil {
		t.Fatal("pending token reports error")
	}
	if tok.Released() {
		t.Fatal("fresh token released")
	}
	tok.Release()
	if !tok.Released() {
		t.Fatal("Release not recorded")
	}
	other := newToken()
	if other.ID() == tok.ID() {
		t.Fatal("token ids collide")
	}
}

func TestDevice(t *testing.T) {
	dev := NewDevice("cpu0", backend.DeviceCPU, WithWorkers(3))
	if dev.Name() != "cpu0" || dev.Type() != backend.DeviceCPU || dev.Workers() != 3 {
		t.Fatalf("device = %s %s %d", dev.Name(), dev.Type(), dev.Workers())
	}
	if !dev.Supports(backend.KindCompute) || !dev.Supports(backend.KindRender) {
		t.Fatal("default device should support both kinds")
	}

	tests := []struct {
		kind     backend.Kind
		ordering backend.Ordering
	}{
		{backend.KindRender, backend.InOrder},
		{backend.KindCompute, backend.OutOfOrder},
		{backend.KindCompute, backend.InOrder},
	}
	for _, tt := range tests {
		q, err := dev.NewQueue(tt.kind, tt.ordering)
		if err != nil {
			t.Fatal(err)
		}
		if q.Kind() != tt.kind || q.Ordering() != tt.ordering {
			t.Errorf("queue = %s/%s, want %s/%s", q.Kind(), q.Ordering(), tt.kind, tt.ordering)
		}
		q.Close()
	}

	computeOnly := NewDevice("k", backend.DeviceAccelerator, WithKinds(backend.KindCompute))
	if computeOnly.Supports(backend.KindRender) {
		t.Fatal("WithKinds not applied")
	}
	if _, err := computeOnly.NewQueue(backend.KindRender, backend.InOrder); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}
