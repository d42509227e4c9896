package runtime

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/config"
	"github.com/wippyai/hostrt/resource"
)

// storeGX exports memory and "k"; it stores gx into the first argument.
var storeGX = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x09, 0x01, 0x60, 0x05, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x0e, 0x02,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x01, 'k', 0x00, 0x00,
	0x0a, 0x0e, 0x01, 0x0c, 0x00,
	0x20, 0x00, 0x28, 0x02, 0x00,
	0x20, 0x02,
	0x36, 0x02, 0x00,
	0x0b,
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	return newContextWith(t, nil, opts...)
}

func newContextWith(t *testing.T, mutate func(*config.Config), opts ...Option) *Context {
	t.Helper()
	cfg := config.Default()
	cfg.Memory.Allocator = "heap"
	cfg.CommandBuffer.MaxSize = 1 << 20
	// out-of-order tests hold one op while another runs
	cfg.Compute.Workers = 4
	if mutate != nil {
		mutate(cfg)
	}
	ctx := context.Background()
	c, err := New(ctx, cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })
	return c
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// mustHandle wraps a create call: mustHandle(t)(c.CreateEvent()).
func mustHandle(t *testing.T) func(resource.Handle, error) resource.Handle {
	t.Helper()
	return func(h resource.Handle, err error) resource.Handle {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return h
	}
}

func newQueue(t *testing.T, c *Context, qt hostrt.QueueType) resource.Handle {
	t.Helper()
	return mustHandle(t)(c.CreateQueue(c.DefaultDevice(), qt))
}

func newBuffer(t *testing.T, c *Context, size uint64) resource.Handle {
	t.Helper()
	return mustHandle(t)(c.CreateBuffer(BufferDesc{Size: size}))
}

func newEvent(t *testing.T, c *Context) resource.Handle {
	t.Helper()
	return mustHandle(t)(c.CreateEvent())
}

// record creates a command buffer for qt, records fn into it and ends it.
func record(t *testing.T, c *Context, qt hostrt.QueueType, fn func(cb resource.Handle)) resource.Handle {
	t.Helper()
	cb := mustHandle(t)(c.CreateCommandBuffer(qt))
	must(t, c.Begin(cb))
	fn(cb)
	must(t, c.End(cb))
	return cb
}

// read maps h for reading and returns a copy of its contents.
func read(t *testing.T, c *Context, h resource.Handle) []byte {
	t.Helper()
	ctx := testCtx(t)
	var (
		m   *Mapping
		err error
	)
	if h.Type() == resource.TypeImage {
		m, err = c.MapImage(ctx, h, gputypes.MapModeRead)
	} else {
		m, err = c.MapBuffer(ctx, h, gputypes.MapModeRead, 0, 0)
	}
	if err != nil {
		t.Fatalf("map %s: %v", h, err)
	}
	out := append([]byte(nil), m.Bytes()...)
	must(t, c.Unmap(m))
	return out
}

// gate returns a func pipeline body that blocks until release is called and
// then writes val into the first four bytes of its first argument.
func gate(val uint32) (body func(ctx context.Context, group [3]uint32, args [][]byte) error, started <-chan struct{}, release func()) {
	ch := make(chan struct{})
	st := make(chan struct{})
	body = func(ctx context.Context, _ [3]uint32, args [][]byte) error {
		close(st)
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if len(args) > 0 {
			binary.LittleEndian.PutUint32(args[0], val)
		}
		return nil
	}
	return body, st, func() { close(ch) }
}
