package scenario

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/pipeline"
	"github.com/wippyai/hostrt/resource"
	"github.com/wippyai/hostrt/runtime"
)

var imageFormats = map[string]gputypes.TextureFormat{
	"rgba8unorm": gputypes.TextureFormatRGBA8Unorm,
	"bgra8unorm": gputypes.TextureFormatBGRA8Unorm,
	"r8unorm":    gputypes.TextureFormatR8Unorm,
}

var vertexFormats = map[string]gputypes.VertexFormat{
	"float32":   gputypes.VertexFormatFloat32,
	"float32x2": gputypes.VertexFormatFloat32x2,
	"float32x4": gputypes.VertexFormatFloat32x4,
}

// Env holds the objects a scenario created in a Context.
type Env struct {
	c       *runtime.Context
	s       *Scenario
	handles map[string]resource.Handle
	// cmdbufs holds one recorded command buffer per submission.
	cmdbufs []resource.Handle
}

// Handle returns the handle created for a declared name.
func (e *Env) Handle(name string) (resource.Handle, bool) {
	h, ok := e.handles[name]
	return h, ok
}

// CommandBuffers returns the recorded command buffer of every submission.
func (e *Env) CommandBuffers() []resource.Handle { return e.cmdbufs }

func (e *Env) h(name string) resource.Handle {
	if name == "" {
		return resource.Invalid
	}
	if h, ok := e.handles[name]; ok {
		return h
	}
	return resource.Invalid
}

func (e *Env) hs(names []string) []resource.Handle {
	out := make([]resource.Handle, len(names))
	for i, n := range names {
		out[i] = e.h(n)
	}
	return out
}

// Build creates every declared object on the default device and records one
// command buffer per submission. Nothing is submitted.
func Build(ctx context.Context, c *runtime.Context, s *Scenario) (*Env, error) {
	e := &Env{c: c, s: s, handles: make(map[string]resource.Handle)}
	if err := e.create(ctx); err != nil {
		return nil, err
	}
	for i, sub := range s.Submissions {
		cb, err := e.record(sub)
		if err != nil {
			return nil, fmt.Errorf("submission %d: %w", i, err)
		}
		e.cmdbufs = append(e.cmdbufs, cb)
	}
	return e, nil
}

func (e *Env) create(ctx context.Context) error {
	c := e.c
	dev := c.DefaultDevice()
	for _, q := range e.s.Queues {
		qt, _ := hostrt.ParseQueueType(q.Type)
		h, err := c.CreateQueue(dev, qt)
		if err != nil {
			return fmt.Errorf("queue %s: %w", q.Name, err)
		}
		e.handles[q.Name] = h
	}
	for _, b := range e.s.Buffers {
		h, err := c.CreateBuffer(runtime.BufferDesc{
			Size:   b.Size,
			Usage:  gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage | gputypes.BufferUsageVertex,
			Shared: b.Shared,
		})
		if err != nil {
			return fmt.Errorf("buffer %s: %w", b.Name, err)
		}
		e.handles[b.Name] = h
		if b.Init != "" {
			if err := e.initBuffer(ctx, h, b); err != nil {
				return fmt.Errorf("buffer %s: %w", b.Name, err)
			}
		}
	}
	for _, i := range e.s.Images {
		h, err := c.CreateImage(runtime.ImageDesc{
			Format: imageFormats[i.Format],
			Size:   gputypes.NewExtent2D(i.Width, i.Height),
			Usage:  gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageRenderAttachment,
			Shared: i.Shared,
		})
		if err != nil {
			return fmt.Errorf("image %s: %w", i.Name, err)
		}
		e.handles[i.Name] = h
	}
	for _, v := range e.s.VertexSources {
		h, err := c.CreateVertexSource(runtime.VertexSourceDesc{
			Buffer: e.h(v.Buffer),
			Offset: v.Offset,
			Stride: v.Stride,
			Format: vertexFormats[v.Format],
		})
		if err != nil {
			return fmt.Errorf("vertex source %s: %w", v.Name, err)
		}
		e.handles[v.Name] = h
	}
	for _, k := range e.s.Kernels {
		path := k.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.s.dir, path)
		}
		wasm, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "kernel "+k.Name)
		}
		h, err := c.CreateKernel(ctx, wasm, k.Entry)
		if err != nil {
			return fmt.Errorf("kernel %s: %w", k.Name, err)
		}
		e.handles[k.Name] = h
	}
	for _, p := range e.s.Pipelines {
		h, err := c.CreatePipeline(runtime.PipelineDesc{
			Name:   p.Name,
			Kind:   pipeline.Kind(p.Kind),
			Kernel: e.h(p.Kernel),
			Color:  p.Color,
		})
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
		e.handles[p.Name] = h
	}
	for _, name := range e.s.Events {
		h, err := c.CreateEvent()
		if err != nil {
			return fmt.Errorf("event %s: %w", name, err)
		}
		e.handles[name] = h
	}
	for _, f := range e.s.Fences {
		h, err := c.CreateFence(e.h(f.Queue))
		if err != nil {
			return fmt.Errorf("fence %s: %w", f.Name, err)
		}
		if f.Link != "" {
			if err := c.LinkFence(h, e.h(f.Link)); err != nil {
				return fmt.Errorf("fence %s: %w", f.Name, err)
			}
		}
		e.handles[f.Name] = h
	}
	return nil
}

func (e *Env) initBuffer(ctx context.Context, h resource.Handle, b Buffer) error {
	data, err := decodeHex(b.Init)
	if err != nil {
		return err
	}
	if uint64(len(data)) > b.Size {
		return errors.InvalidArgument(errors.PhaseConfig, "init",
			fmt.Sprintf("%d bytes do not fit in %d", len(data), b.Size))
	}
	m, err := e.c.MapBuffer(ctx, h, gputypes.MapModeWrite, 0, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(m.Bytes(), data)
	return e.c.Unmap(m)
}

func (e *Env) record(sub Submission) (resource.Handle, error) {
	q, err := e.c.QueueInfo(e.h(sub.Queue))
	if err != nil {
		return resource.Invalid, err
	}
	cb, err := e.c.CreateCommandBuffer(q.Type())
	if err != nil {
		return resource.Invalid, err
	}
	if err := e.c.Begin(cb); err != nil {
		return resource.Invalid, err
	}
	for i, cmd := range sub.Commands {
		if err := e.recordCommand(cb, cmd); err != nil {
			return resource.Invalid, fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
	}
	return cb, e.c.End(cb)
}

func (e *Env) recordCommand(cb resource.Handle, cmd Command) error {
	c := e.c
	ev := e.h(cmd.Event)
	switch cmd.Op {
	case OpNop:
		return c.RecordNop(cb)
	case OpCopyBuffer:
		return c.RecordCopyBuffer(cb, e.h(cmd.Src), cmd.SrcOffset, e.h(cmd.Dst), cmd.DstOffset, cmd.Size, ev)
	case OpFillBuffer:
		pattern, err := decodeHex(cmd.Pattern)
		if err != nil {
			return err
		}
		return c.RecordFillBuffer(cb, e.h(cmd.Dst), cmd.DstOffset, cmd.Size, pattern, ev)
	case OpWriteBuffer:
		data, err := decodeHex(cmd.Data)
		if err != nil {
			return err
		}
		return c.RecordWriteBuffer(cb, e.h(cmd.Dst), cmd.DstOffset, data, ev)
	case OpCopyBufferToImage:
		return c.RecordCopyBufferToImage(cb, e.h(cmd.Src), cmd.SrcOffset, e.h(cmd.Dst), ev)
	case OpCopyImageToBuffer:
		return c.RecordCopyImageToBuffer(cb, e.h(cmd.Src), e.h(cmd.Dst), cmd.DstOffset, ev)
	case OpDispatch:
		groups := cmd.Groups
		if groups == [3]uint32{} {
			groups = [3]uint32{1, 1, 1}
		}
		return c.RecordDispatch(cb, e.h(cmd.Pipeline), groups, e.hs(cmd.Args), ev)
	case OpDraw:
		return c.RecordDraw(cb, e.h(cmd.Pipeline), e.h(cmd.Vertices), e.h(cmd.Target),
			cmd.First, cmd.Count, cmd.Instances, ev)
	case OpInsertFence:
		return c.RecordInsertFence(cb, e.h(cmd.Fence), e.hs(cmd.Events)...)
	case OpSignalEvent:
		return c.RecordSignalEvent(cb, ev)
	case OpWaitEvents:
		return c.RecordWaitEvents(cb, e.hs(cmd.Events)...)
	case OpAcquireShared:
		return c.RecordAcquireShared(cb, ev, e.hs(cmd.Resources)...)
	case OpReleaseShared:
		return c.RecordReleaseShared(cb, ev, e.hs(cmd.Resources)...)
	}
	return errors.NotImplemented(errors.PhaseConfig, "record", cmd.Op)
}

// Check is the outcome of one expectation.
type Check struct {
	Resource string
	Offset   uint64
	Want     []byte
	Got      []byte
}

func (c Check) OK() bool { return bytes.Equal(c.Want, c.Got) }

func (c Check) String() string {
	status := "ok"
	if !c.OK() {
		status = fmt.Sprintf("got %x", c.Got)
	}
	return fmt.Sprintf("%s+%d want %x: %s", c.Resource, c.Offset, c.Want, status)
}

// Result summarizes a run.
type Result struct {
	Name        string
	Submissions int
	// Commands counts commands issued, including those before a failure.
	Commands int
	Elapsed  time.Duration
	Checks   []Check
}

// Failed returns the checks whose bytes did not match.
func (r *Result) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}

// Run builds s in c and runs it. See Env.Run.
func Run(ctx context.Context, c *runtime.Context, s *Scenario) (*Result, error) {
	env, err := Build(ctx, c, s)
	if err != nil {
		return &Result{Name: s.Name}, err
	}
	return env.Run(ctx)
}

// Run submits every recorded submission in order, waits for the listed events
// and evaluates expectations. A submission failure stops the run and is
// returned together with the partial result.
func (e *Env) Run(ctx context.Context) (*Result, error) {
	c, s := e.c, e.s
	start := time.Now()
	res := &Result{Name: s.Name}
	defer func() { res.Elapsed = time.Since(start) }()

	for i, sub := range s.Submissions {
		err := c.Submit(ctx, e.h(sub.Queue), e.cmdbufs[i])
		if err != nil {
			var se *runtime.SubmitError
			if stderrors.As(err, &se) {
				res.Commands += se.Issued
			}
			Logger().Warn("submission failed", zap.String("scenario", s.Name), zap.Int("index", i), zap.Error(err))
			return res, fmt.Errorf("submission %d: %w", i, err)
		}
		res.Submissions++
		res.Commands += len(sub.Commands)
	}
	if len(s.Wait) > 0 {
		if err := c.WaitEvents(ctx, e.hs(s.Wait)...); err != nil {
			return res, err
		}
	}
	for _, x := range s.Expect {
		chk, err := e.check(ctx, x)
		if err != nil {
			return res, err
		}
		res.Checks = append(res.Checks, chk)
	}
	Logger().Info("scenario finished",
		zap.String("scenario", s.Name),
		zap.Int("submissions", res.Submissions),
		zap.Int("commands", res.Commands),
		zap.Int("failed_checks", len(res.Failed())))
	return res, nil
}

// Read returns a copy of the contents of a declared buffer or image once
// all work writing it has completed.
func (e *Env) Read(ctx context.Context, name string) ([]byte, error) {
	h, ok := e.handles[name]
	if !ok {
		return nil, errors.InvalidArgument(errors.PhaseMap, "read", fmt.Sprintf("%q is not declared", name))
	}
	var (
		m   *runtime.Mapping
		err error
	)
	switch h.Type() {
	case resource.TypeImage:
		m, err = e.c.MapImage(ctx, h, gputypes.MapModeRead)
	case resource.TypeBuffer:
		m, err = e.c.MapBuffer(ctx, h, gputypes.MapModeRead, 0, 0)
	default:
		return nil, errors.InvalidArgument(errors.PhaseMap, "read", fmt.Sprintf("%q is a %s", name, h.Type()))
	}
	if err != nil {
		return nil, err
	}
	data := bytes.Clone(m.Bytes())
	return data, e.c.Unmap(m)
}

func (e *Env) check(ctx context.Context, x Expect) (Check, error) {
	want, err := decodeHex(x.Hex)
	if err != nil {
		return Check{}, err
	}
	chk := Check{Resource: x.Resource, Offset: x.Offset, Want: want}
	data, err := e.Read(ctx, x.Resource)
	if err != nil {
		return chk, err
	}
	if x.Offset < uint64(len(data)) {
		end := min(x.Offset+uint64(len(want)), uint64(len(data)))
		chk.Got = data[x.Offset:end]
	}
	return chk, nil
}

// Dump builds s in c and writes the disassembly of every recorded submission.
func Dump(ctx context.Context, w io.Writer, c *runtime.Context, s *Scenario) error {
	env, err := Build(ctx, c, s)
	if err != nil {
		return err
	}
	for i, sub := range s.Submissions {
		if _, err := fmt.Fprintf(w, "; submission %d on %s\n", i, sub.Queue); err != nil {
			return err
		}
		if err := c.Disassemble(w, env.cmdbufs[i]); err != nil {
			return err
		}
	}
	return nil
}
