package runtime

import (
	"context"
	"fmt"
	"slices"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/command"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/fence"
	"github.com/wippyai/hostrt/pipeline"
	"github.com/wippyai/hostrt/resource"
)

// inRange reports whether [off, off+size) lies within n bytes.
func inRange(off, size, n uint64) bool {
	return off <= n && size <= n-off
}

func (x *executor) event(h resource.Handle) (*fence.Event, error) {
	if command.Absent(h) {
		return nil, nil
	}
	return x.c.events.Get(h)
}

// signaled resolves events that must already be associated with work.
func (x *executor) signaled(op string, hs []resource.Handle) ([]backend.Token, error) {
	toks := make([]backend.Token, 0, len(hs))
	for _, h := range hs {
		e, err := x.c.events.Get(h)
		if err != nil {
			return nil, err
		}
		if e.Token() == nil {
			return nil, errors.StateDetail(errors.PhaseSubmit, op, fmt.Sprintf("%s was never signaled", h))
		}
		toks = append(toks, e.Token())
	}
	return toks, nil
}

func (x *executor) buffer(op string, h resource.Handle) (*Buffer, error) {
	if h.Type() != resource.TypeBuffer {
		return nil, wrongType(errors.PhaseSubmit, op, h, resource.TypeBuffer)
	}
	b, err := x.c.buffers.Get(h)
	if err != nil {
		return nil, err
	}
	if b.mapped {
		return nil, errors.StateDetail(errors.PhaseSubmit, op, fmt.Sprintf("%s is mapped", h))
	}
	return b, nil
}

func (x *executor) image(op string, h resource.Handle) (*Image, error) {
	if h.Type() != resource.TypeImage {
		return nil, wrongType(errors.PhaseSubmit, op, h, resource.TypeImage)
	}
	img, err := x.c.images.Get(h)
	if err != nil {
		return nil, err
	}
	if img.mapped {
		return nil, errors.StateDetail(errors.PhaseSubmit, op, fmt.Sprintf("%s is mapped", h))
	}
	return img, nil
}

func (x *executor) storage(op string, h resource.Handle) (*storage, error) {
	s, err := x.c.resolveStorage(errors.PhaseSubmit, op, h)
	if err != nil {
		return nil, err
	}
	if s.mapped {
		return nil, errors.StateDetail(errors.PhaseSubmit, op, fmt.Sprintf("%s is mapped", h))
	}
	return s, nil
}

func (x *executor) pipeline(op string, h resource.Handle, stage hostrt.QueueType) (*Pipeline, error) {
	if h.Type() != resource.TypePipeline {
		return nil, wrongType(errors.PhaseSubmit, op, h, resource.TypePipeline)
	}
	p, err := x.c.pipes.Get(h)
	if err != nil {
		return nil, err
	}
	if p.p.Stage != stage {
		return nil, errors.InvalidArgument(errors.PhaseSubmit, op,
			fmt.Sprintf("%s runs on %s queues", h, p.p.Stage))
	}
	return p, nil
}

func outOfRange(op string, off, size, n uint64) error {
	return errors.InvalidArgument(errors.PhaseSubmit, op,
		fmt.Sprintf("range %d+%d exceeds %d bytes", off, size, n))
}

// issue enqueues op after the submission's waits and the acquire
// dependencies of every resource it touches, records it as their latest use
// and signals ev with it.
func (x *executor) issue(op backend.Op, ev *fence.Event, touched ...*storage) error {
	deps := slices.Clone(x.waits)
	uniq := touched[:0:0]
	for _, s := range touched {
		if !slices.Contains(uniq, s) {
			uniq = append(uniq, s)
		}
	}
	for _, s := range uniq {
		d, err := s.Acquire(x.q.q)
		if err != nil {
			return err
		}
		deps = append(deps, d...)
	}
	tok, err := x.q.q.Enqueue(op, deps)
	if err != nil {
		return errors.FromBackend(errors.PhaseSubmit, "enqueue", err)
	}
	for _, s := range uniq {
		if _, err := s.Release(x.q.q, tok); err != nil {
			return err
		}
	}
	x.issued = append(x.issued, tok)
	if ev != nil {
		ev.Signal(tok)
	}
	return nil
}

func (x *executor) copyBuffer(p *command.CopyBuffer) error {
	const op = "copy-buffer"
	src, err := x.buffer(op, p.Src)
	if err != nil {
		return err
	}
	dst, err := x.buffer(op, p.Dst)
	if err != nil {
		return err
	}
	if !inRange(p.SrcOffset, p.Size, uint64(len(src.mem))) {
		return outOfRange(op, p.SrcOffset, p.Size, uint64(len(src.mem)))
	}
	if !inRange(p.DstOffset, p.Size, uint64(len(dst.mem))) {
		return outOfRange(op, p.DstOffset, p.Size, uint64(len(dst.mem)))
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	from := src.mem[p.SrcOffset : p.SrcOffset+p.Size]
	to := dst.mem[p.DstOffset : p.DstOffset+p.Size]
	return x.issue(func(context.Context) error {
		copy(to, from)
		return nil
	}, ev, &src.storage, &dst.storage)
}

func (x *executor) fillBuffer(p *command.FillBuffer) error {
	const op = "fill-buffer"
	dst, err := x.buffer(op, p.Dst)
	if err != nil {
		return err
	}
	if !inRange(p.Offset, p.Size, uint64(len(dst.mem))) {
		return outOfRange(op, p.Offset, p.Size, uint64(len(dst.mem)))
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	to := dst.mem[p.Offset : p.Offset+p.Size]
	pattern := slices.Clone(p.Pattern)
	return x.issue(func(context.Context) error {
		for off := 0; off < len(to); off += len(pattern) {
			copy(to[off:], pattern)
		}
		return nil
	}, ev, &dst.storage)
}

func (x *executor) writeBuffer(p *command.WriteBuffer) error {
	const op = "write-buffer"
	dst, err := x.buffer(op, p.Dst)
	if err != nil {
		return err
	}
	n := uint64(len(p.Data))
	if !inRange(p.Offset, n, uint64(len(dst.mem))) {
		return outOfRange(op, p.Offset, n, uint64(len(dst.mem)))
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	to := dst.mem[p.Offset : p.Offset+n]
	// the payload aliases command buffer memory, which may be re-recorded
	data := slices.Clone(p.Data)
	return x.issue(func(context.Context) error {
		copy(to, data)
		return nil
	}, ev, &dst.storage)
}

func (x *executor) copyBufferToImage(p *command.CopyBufferToImage) error {
	const op = "copy-buffer-to-image"
	src, err := x.buffer(op, p.Src)
	if err != nil {
		return err
	}
	dst, err := x.image(op, p.Dst)
	if err != nil {
		return err
	}
	n := uint64(len(dst.mem))
	if !inRange(p.SrcOffset, n, uint64(len(src.mem))) {
		return outOfRange(op, p.SrcOffset, n, uint64(len(src.mem)))
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	from := src.mem[p.SrcOffset : p.SrcOffset+n]
	to := dst.mem
	return x.issue(func(context.Context) error {
		copy(to, from)
		return nil
	}, ev, &src.storage, &dst.storage)
}

func (x *executor) copyImageToBuffer(p *command.CopyImageToBuffer) error {
	const op = "copy-image-to-buffer"
	src, err := x.image(op, p.Src)
	if err != nil {
		return err
	}
	dst, err := x.buffer(op, p.Dst)
	if err != nil {
		return err
	}
	n := uint64(len(src.mem))
	if !inRange(p.DstOffset, n, uint64(len(dst.mem))) {
		return outOfRange(op, p.DstOffset, n, uint64(len(dst.mem)))
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	from := src.mem
	to := dst.mem[p.DstOffset : p.DstOffset+n]
	return x.issue(func(context.Context) error {
		copy(to, from)
		return nil
	}, ev, &src.storage, &dst.storage)
}

func (x *executor) dispatch(p *command.Dispatch) error {
	const op = "dispatch"
	pipe, err := x.pipeline(op, p.Pipeline, hostrt.QueueCompute)
	if err != nil {
		return err
	}
	if p.Groups[0] == 0 || p.Groups[1] == 0 || p.Groups[2] == 0 {
		return errors.InvalidArgument(errors.PhaseSubmit, op, fmt.Sprintf("empty grid %v", p.Groups))
	}
	touched := make([]*storage, len(p.Args))
	args := make([][]byte, len(p.Args))
	for i, h := range p.Args {
		s, err := x.storage(op, h)
		if err != nil {
			return err
		}
		touched[i] = s
		args[i] = s.mem
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	inv := &pipeline.Invocation{Pipeline: pipe.p, Groups: p.Groups, Args: args}
	reg := x.c.pipelines
	return x.issue(func(ctx context.Context) error {
		return reg.Execute(ctx, inv)
	}, ev, touched...)
}

func (x *executor) draw(p *command.Draw) error {
	const op = "draw"
	pipe, err := x.pipeline(op, p.Pipeline, hostrt.QueueRender)
	if err != nil {
		return err
	}
	img, err := x.image(op, p.Target)
	if err != nil {
		return err
	}
	sz := img.desc.Size
	target := &pipeline.Target{
		Pixels: img.mem[:int(sz.Width)*int(sz.Height)*img.format.bpp],
		Width:  sz.Width,
		Height: sz.Height,
		Texel:  img.format.texel,
		Bpp:    img.format.bpp,
	}
	touched := []*storage{&img.storage}

	var verts *pipeline.Vertices
	if !command.Absent(p.VertexSource) {
		if p.VertexSource.Type() != resource.TypeVertexSource {
			return wrongType(errors.PhaseSubmit, op, p.VertexSource, resource.TypeVertexSource)
		}
		vs, err := x.c.vertexSources.Get(p.VertexSource)
		if err != nil {
			return err
		}
		buf, err := x.buffer(op, vs.desc.Buffer)
		if err != nil {
			return err
		}
		end := (uint64(p.First) + uint64(p.Count)) * uint64(vs.desc.Stride)
		if n := uint64(len(buf.mem)) - vs.desc.Offset; end > n {
			return errors.InvalidArgument(errors.PhaseSubmit, op,
				fmt.Sprintf("vertices %d+%d exceed %s", p.First, p.Count, p.VertexSource))
		}
		verts = &pipeline.Vertices{
			Data:       buf.mem[vs.desc.Offset:],
			Stride:     int(vs.desc.Stride),
			Components: vs.format.components,
		}
		touched = append(touched, &buf.storage)
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return err
	}
	inv := &pipeline.Invocation{
		Pipeline:  pipe.p,
		Target:    target,
		Vertices:  verts,
		First:     p.First,
		Count:     p.Count,
		Instances: p.Instances,
	}
	reg := x.c.pipelines
	return x.issue(func(ctx context.Context) error {
		return reg.Execute(ctx, inv)
	}, ev, touched...)
}

func (x *executor) insertFence(p *command.InsertFence) error {
	const op = "insert-fence"
	if p.Fence.Type() != resource.TypeFence {
		return wrongType(errors.PhaseSubmit, op, p.Fence, resource.TypeFence)
	}
	f, err := x.c.fences.Get(p.Fence)
	if err != nil {
		return err
	}
	if !f.QueueType().Intersects(x.q.typ) {
		return errors.InvalidArgument(errors.PhaseSubmit, op,
			fmt.Sprintf("%s fence cannot be inserted on a %s queue", f.QueueType(), x.q.typ))
	}
	waits, err := x.signaled(op, p.Waits)
	if err != nil {
		return err
	}
	var linked backend.Token
	if e, ok := x.c.events.Lookup(f.Linked()); ok {
		linked = e.Token()
	}
	if err := f.Insert(x.q.q, waits, append([]backend.Token{linked}, x.waits...)...); err != nil {
		return err
	}
	x.issued = append(x.issued, f.Token())
	return nil
}

// all returns a token covering everything issued so far in the submission.
func (x *executor) all() (backend.Token, error) {
	deps := append(slices.Clone(x.issued), x.waits...)
	if len(deps) == 0 {
		// an empty barrier on an out-of-order queue would cover every
		// outstanding op, including other submissions'
		return backend.Completed(nil), nil
	}
	tok, err := x.q.q.Barrier(deps)
	if err != nil {
		return nil, errors.FromBackend(errors.PhaseSubmit, "barrier", err)
	}
	return tok, nil
}

func (x *executor) signalEvent(p *command.SignalEvent) error {
	ev, err := x.c.events.Get(p.Event)
	if err != nil {
		return err
	}
	tok, err := x.all()
	if err != nil {
		return err
	}
	ev.Signal(tok)
	return nil
}

func (x *executor) waitEvents(p *command.WaitEvents) error {
	toks, err := x.signaled("wait-events", p.Events)
	if err != nil {
		return err
	}
	x.waits = append(x.waits, toks...)
	return nil
}

func (x *executor) shared(op string, p *command.Shared) ([]*storage, *fence.Event, error) {
	res := make([]*storage, len(p.Resources))
	for i, h := range p.Resources {
		s, err := x.storage(op, h)
		if err != nil {
			return nil, nil, err
		}
		res[i] = s
	}
	ev, err := x.event(p.Event)
	if err != nil {
		return nil, nil, err
	}
	return res, ev, nil
}

// acquireShared marks the resources shared and gates the rest of the
// submission on their release by the other backend.
func (x *executor) acquireShared(p *command.Shared) error {
	res, ev, err := x.shared("acquire-shared", p)
	if err != nil {
		return err
	}
	deps := slices.Clone(x.waits)
	for _, s := range res {
		s.SetShared(true)
		d, err := s.Acquire(x.q.q)
		if err != nil {
			return err
		}
		deps = append(deps, d...)
	}
	tok, err := x.q.q.Enqueue(nil, deps)
	if err != nil {
		return errors.FromBackend(errors.PhaseSync, "acquire-shared", err)
	}
	x.waits = append(x.waits, tok)
	x.issued = append(x.issued, tok)
	if ev != nil {
		ev.Signal(tok)
	}
	return nil
}

// releaseShared hands the resources back once everything issued so far in
// the submission has completed.
func (x *executor) releaseShared(p *command.Shared) error {
	res, ev, err := x.shared("release-shared", p)
	if err != nil {
		return err
	}
	done, err := x.all()
	if err != nil {
		return err
	}
	rels := []backend.Token{done}
	for _, s := range res {
		s.SetShared(true)
		tok, err := s.Release(x.q.q, done)
		if err != nil {
			return err
		}
		rels = append(rels, tok)
	}
	tok, err := x.q.q.Enqueue(nil, rels)
	if err != nil {
		return errors.FromBackend(errors.PhaseSync, "release-shared", err)
	}
	x.issued = append(x.issued, tok)
	if ev != nil {
		ev.Signal(tok)
	}
	return nil
}
