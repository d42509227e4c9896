package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/cmdbuf"
	"github.com/wippyai/hostrt/command"
	"github.com/wippyai/hostrt/config"
	hrterrors "github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/fence"
	"github.com/wippyai/hostrt/pipeline"
	"github.com/wippyai/hostrt/resource"
)

func TestFillWaitRead(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueCompute)
	buf := newBuffer(t, c, 64)
	ev := newEvent(t, c)

	cb := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
		must(t, c.RecordFillBuffer(cb, buf, 8, 16, []byte{0xab, 0xcd}, ev))
	})
	must(t, c.Submit(ctx, q, cb))
	must(t, c.WaitEvent(ctx, ev))

	if st, _ := c.EventStatus(ev); st != fence.StatusComplete {
		t.Fatalf("status = %s", st)
	}
	got := read(t, c, buf)
	want := make([]byte, 64)
	for i := 8; i < 24; i += 2 {
		want[i], want[i+1] = 0xab, 0xcd
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("buffer = %x\nwant     %x", got, want)
	}
}

func TestTransferChain(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueRender)
	a := newBuffer(t, c, 16)
	b := newBuffer(t, c, 16)
	out := newBuffer(t, c, 20)
	img := mustHandle(t)(c.CreateImage(ImageDesc{Format: gputypes.TextureFormatRGBA8Unorm, Size: gputypes.NewExtent2D(2, 2)}))
	done := newEvent(t, c)

	data := []byte("0123456789abcdef")
	cb := record(t, c, hostrt.QueueRender, func(cb resource.Handle) {
		must(t, c.RecordWriteBuffer(cb, a, 0, data, resource.Invalid))
		must(t, c.RecordCopyBuffer(cb, a, 0, b, 0, 16, resource.Invalid))
		must(t, c.RecordCopyBufferToImage(cb, b, 0, img, resource.Invalid))
		must(t, c.RecordCopyImageToBuffer(cb, img, out, 4, resource.Invalid))
		must(t, c.RecordSignalEvent(cb, done))
	})
	// re-recording after submit must not affect issued work
	must(t, c.Submit(ctx, q, cb))
	must(t, c.Begin(cb))
	must(t, c.RecordNop(cb))
	must(t, c.End(cb))

	must(t, c.WaitEvent(ctx, done))
	got := read(t, c, out)
	if !bytes.Equal(got[4:], data) || !bytes.Equal(got[:4], make([]byte, 4)) {
		t.Fatalf("out = %q", got)
	}
	if got := read(t, c, img); !bytes.Equal(got, data) {
		t.Fatalf("image = %q", got)
	}
}

func TestSubmitPreconditions(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	rq := newQueue(t, c, hostrt.QueueRender)
	cq := newQueue(t, c, hostrt.QueueCompute)

	building := mustHandle(t)(c.CreateCommandBuffer(hostrt.QueueCompute))
	must(t, c.Begin(building))
	ready := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
		must(t, c.RecordNop(cb))
	})

	tests := []struct {
		name  string
		queue resource.Handle
		cb    resource.Handle
		want  error
	}{
		{"not submit ready", cq, building, hrterrors.ErrInvalidState},
		{"queue type mismatch", rq, ready, hrterrors.ErrInvalidArgument},
		{"not a queue", ready, ready, hrterrors.ErrInvalidArgument},
		{"not a command buffer", cq, cq, hrterrors.ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Submit(ctx, tc.queue, tc.cb)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var se *SubmitError
			if errors.As(err, &se) {
				t.Fatalf("precondition failure reported as %v", se)
			}
		})
	}
	must(t, c.Submit(ctx, cq, ready))
}

func TestSubmitErrors(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueCompute)
	buf := newBuffer(t, c, 16)
	stale := newBuffer(t, c, 16)
	must(t, c.DestroyBuffer(stale))
	ev := newEvent(t, c)
	never := newEvent(t, c)
	draw := mustHandle(t)(c.CreatePipeline(PipelineDesc{Kind: pipeline.KindClear}))

	tests := []struct {
		name   string
		record func(cb resource.Handle, b *cmdbuf.Buffer)
		want   error
		tag    cmdbuf.Tag
	}{
		{"unknown tag", func(_ resource.Handle, b *cmdbuf.Buffer) {
			must(t, b.Append(99, nil))
		}, hrterrors.ErrNotImplemented, 99},
		{"tag incompatible with queue", func(_ resource.Handle, b *cmdbuf.Buffer) {
			must(t, b.Append(command.TagDraw, nil))
		}, hrterrors.ErrInvalidArgument, command.TagDraw},
		{"truncated payload", func(_ resource.Handle, b *cmdbuf.Buffer) {
			must(t, b.Append(command.TagSignalEvent, []byte{1, 2}))
		}, hrterrors.ErrInvalidArgument, command.TagSignalEvent},
		{"stale handle", func(cb resource.Handle, _ *cmdbuf.Buffer) {
			must(t, c.RecordFillBuffer(cb, stale, 0, 4, []byte{1}, resource.Invalid))
		}, hrterrors.ErrInvalidArgument, command.TagFillBuffer},
		{"wrong object type", func(cb resource.Handle, _ *cmdbuf.Buffer) {
			must(t, c.RecordFillBuffer(cb, ev, 0, 4, []byte{1}, resource.Invalid))
		}, hrterrors.ErrInvalidArgument, command.TagFillBuffer},
		{"out of range", func(cb resource.Handle, _ *cmdbuf.Buffer) {
			must(t, c.RecordCopyBuffer(cb, buf, 8, buf, 0, 9, resource.Invalid))
		}, hrterrors.ErrInvalidArgument, command.TagCopyBuffer},
		{"offset overflow", func(cb resource.Handle, _ *cmdbuf.Buffer) {
			must(t, c.RecordFillBuffer(cb, buf, math.MaxUint64, 2, []byte{1}, resource.Invalid))
		}, hrterrors.ErrInvalidArgument, command.TagFillBuffer},
		{"wait on unsignaled event", func(cb resource.Handle, _ *cmdbuf.Buffer) {
			must(t, c.RecordWaitEvents(cb, never))
		}, hrterrors.ErrInvalidState, command.TagWaitEvents},
		{"render pipeline in dispatch", func(cb resource.Handle, _ *cmdbuf.Buffer) {
			must(t, c.RecordDispatch(cb, draw, [3]uint32{1, 1, 1}, nil, resource.Invalid))
		}, hrterrors.ErrInvalidArgument, command.TagDispatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cb := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
				b, err := c.CommandBuffer(cb)
				if err != nil {
					t.Fatal(err)
				}
				must(t, c.RecordNop(cb))
				tc.record(cb, b)
				must(t, c.RecordSignalEvent(cb, ev))
			})
			err := c.Submit(ctx, q, cb)
			var se *SubmitError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *SubmitError", err)
			}
			if se.Index != 1 || se.Issued != 1 || se.Offset != cmdbuf.HeaderSize || se.Tag != tc.tag {
				t.Errorf("submit error = %+v", se)
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("cause = %v, want %v", se.Cause, tc.want)
			}
		})
	}
}

func TestSubmitRejectsMappedResource(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueCompute)
	buf := newBuffer(t, c, 8)
	m, err := c.MapBuffer(ctx, buf, gputypes.MapModeWrite, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	cb := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
		must(t, c.RecordFillBuffer(cb, buf, 0, 8, []byte{7}, resource.Invalid))
	})
	if err := c.Submit(ctx, q, cb); !errors.Is(err, hrterrors.ErrInvalidState) {
		t.Fatalf("submit touching mapped buffer: %v", err)
	}
	must(t, c.Unmap(m))
	must(t, c.Submit(ctx, q, cb))
	must(t, c.FinishQueue(ctx, q))
	if got := read(t, c, buf); !bytes.Equal(got, bytes.Repeat([]byte{7}, 8)) {
		t.Fatalf("buffer = %x", got)
	}
}

func TestDispatchFunc(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueCompute)
	buf := newBuffer(t, c, 4*8)
	ev := newEvent(t, c)

	p := mustHandle(t)(c.CreatePipeline(PipelineDesc{
		Kind: pipeline.KindFunc,
		Func: func(_ context.Context, g [3]uint32, args [][]byte) error {
			binary.LittleEndian.PutUint32(args[0][g[0]*4:], g[0]+1)
			return nil
		},
	}))
	cb := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
		must(t, c.RecordDispatch(cb, p, [3]uint32{8, 1, 1}, []resource.Handle{buf}, ev))
	})
	must(t, c.Submit(ctx, q, cb))
	must(t, c.WaitEvent(ctx, ev))

	got := read(t, c, buf)
	for i := range 8 {
		if v := binary.LittleEndian.Uint32(got[i*4:]); v != uint32(i+1) {
			t.Fatalf("group %d wrote %d", i, v)
		}
	}
}

func TestDispatchFailurePropagates(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueCompute)
	buf := newBuffer(t, c, 4)
	failed := newEvent(t, c)
	after := newEvent(t, c)

	boom := errors.New("boom")
	p := mustHandle(t)(c.CreatePipeline(PipelineDesc{
		Kind: pipeline.KindFunc,
		Func: func(context.Context, [3]uint32, [][]byte) error { return boom },
	}))
	cb := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
		must(t, c.RecordDispatch(cb, p, [3]uint32{1, 1, 1}, []resource.Handle{buf}, failed))
		must(t, c.RecordWaitEvents(cb, failed))
		must(t, c.RecordFillBuffer(cb, buf, 0, 4, []byte{1}, after))
	})
	must(t, c.Submit(ctx, q, cb))

	err := c.WaitEvent(ctx, failed)
	if !errors.Is(err, boom) || !errors.Is(err, hrterrors.ErrBackendRejected) {
		t.Fatalf("wait on failed dispatch: %v", err)
	}
	if st, _ := c.EventStatus(failed); st != fence.StatusFailed {
		t.Errorf("status = %s", st)
	}
	if err := c.WaitEvent(ctx, after); !errors.Is(err, boom) {
		t.Fatalf("dependent fill: %v", err)
	}
}

func TestDispatchWasmKernel(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueCompute)
	buf := newBuffer(t, c, 4)
	ev := newEvent(t, c)

	k := mustHandle(t)(c.CreateKernel(ctx, storeGX, "k"))
	p := mustHandle(t)(c.CreatePipeline(PipelineDesc{Kind: pipeline.KindWasm, Kernel: k}))
	cb := record(t, c, hostrt.QueueCompute, func(cb resource.Handle) {
		must(t, c.RecordDispatch(cb, p, [3]uint32{7, 1, 1}, []resource.Handle{buf}, ev))
	})
	must(t, c.Submit(ctx, q, cb))
	must(t, c.WaitEvent(ctx, ev))

	if v := binary.LittleEndian.Uint32(read(t, c, buf)); v != 7 {
		t.Fatalf("kernel stored %d, want 7", v)
	}
	info, _ := c.KernelInfo(k)
	if info.Calls() != 1 {
		t.Errorf("calls = %d", info.Calls())
	}
}

func putVertex(dst []byte, x, y float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(x))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(y))
}

func TestDraw(t *testing.T) {
	ctx := testCtx(t)
	c := newContext(t)
	q := newQueue(t, c, hostrt.QueueRender)
	img := mustHandle(t)(c.CreateImage(ImageDesc{Format: gputypes.TextureFormatBGRA8Unorm, Size: gputypes.NewExtent2D(4, 4)}))
	vbuf := newBuffer(t, c, 16)
	vs := mustHandle(t)(c.CreateVertexSource(VertexSourceDesc{Buffer: vbuf, Format: gputypes.VertexFormatFloat32x2}))
	ev := newEvent(t, c)

	bg := mustHandle(t)(c.CreatePipeline(PipelineDesc{Kind: pipeline.KindClear, Color: [4]byte{1, 2, 3, 4}}))
	points := mustHandle(t)(c.CreatePipeline(PipelineDesc{Kind: pipeline.KindPoints, Color: [4]byte{255, 0, 0, 255}}))

	verts := make([]byte, 16)
	putVertex(verts, -1, 1)
	putVertex(verts[8:], 0.9, -0.9)
	cb := record(t, c, hostrt.QueueRender, func(cb resource.Handle) {
		must(t, c.RecordWriteBuffer(cb, vbuf, 0, verts, resource.Invalid))
		must(t, c.RecordDraw(cb, bg, resource.Invalid, img, 0, 0, 1, resource.Invalid))
		must(t, c.RecordDraw(cb, points, vs, img, 0, 2, 1, ev))
	})
	must(t, c.Submit(ctx, q, cb))
	must(t, c.WaitEvent(ctx, ev))

	px := read(t, c, img)
	red := []byte{0, 0, 255, 255}
	background := []byte{3, 2, 1, 4}
	for i := range 16 {
		want := background
		if i == 0 || i == 15 {
			want = red
		}
		if got := px[i*4 : i*4+4]; !bytes.Equal(got, want) {
			t.Errorf("pixel %d = %v, want %v", i, got, want)
		}
	}

	t.Run("range beyond vertex source", func(t *testing.T) {
		cb := record(t, c, hostrt.QueueRender, func(cb resource.Handle) {
			must(t, c.RecordDraw(cb, points, vs, img, 1, 2, 1, resource.Invalid))
		})
		if err := c.Submit(ctx, q, cb); !errors.Is(err, hrterrors.ErrInvalidArgument) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestDisassemble(t *testing.T) {
	c := newContext(t)
	buf := newBuffer(t, c, 8)
	cb := record(t, c, hostrt.QueueTransfer, func(cb resource.Handle) {
		must(t, c.RecordNop(cb))
		must(t, c.RecordFillBuffer(cb, buf, 0, 8, []byte{1}, resource.Invalid))
	})
	var sb strings.Builder
	must(t, c.Disassemble(&sb, cb))
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "Nop") || !strings.Contains(lines[1], "FillBuffer") {
		t.Fatalf("listing:\n%s", sb.String())
	}
}

func TestSubmitMetrics(t *testing.T) {
	ctx := testCtx(t)
	c := newContextWith(t, func(cfg *config.Config) { cfg.Metrics.Enabled = true })
	q := newQueue(t, c, hostrt.QueueTransfer)
	cb := record(t, c, hostrt.QueueTransfer, func(cb resource.Handle) {
		must(t, c.RecordNop(cb))
		must(t, c.RecordNop(cb))
	})
	must(t, c.Submit(ctx, q, cb))
	body := scrape(t, c)
	for _, want := range []string{
		`hostrt_submissions_total{queue="transfer",status="ok"} 1`,
		`hostrt_commands_issued_total{command="Nop"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
}
