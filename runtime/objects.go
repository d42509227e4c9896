package runtime

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/command"
	"github.com/wippyai/hostrt/engine"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/pipeline"
	"github.com/wippyai/hostrt/resource"
)

// SamplerDesc describes image sampling state.
type SamplerDesc struct {
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
}

// Sampler is immutable sampling state.
type Sampler struct {
	desc SamplerDesc
}

func (s *Sampler) Desc() SamplerDesc { return s.desc }

// CreateSampler creates a sampler object.
func (c *Context) CreateSampler(desc SamplerDesc) (resource.Handle, error) {
	h, err := c.samplers.Add(&Sampler{desc: desc})
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

// SamplerInfo returns the sampler behind h.
func (c *Context) SamplerInfo(h resource.Handle) (*Sampler, error) {
	return c.samplers.Get(h)
}

func (c *Context) DestroySampler(h resource.Handle) error {
	_, err := c.samplers.Remove(h)
	return c.fail(err)
}

// VertexSourceDesc binds vertex positions to a buffer range.
type VertexSourceDesc struct {
	Buffer resource.Handle
	Offset uint64
	// Stride is the distance between vertices; zero means tightly packed.
	Stride uint32
	Format gputypes.VertexFormat
}

// VertexSource is a vertex position stream read from a buffer.
type VertexSource struct {
	desc   VertexSourceDesc
	format vertexFormat
}

func (v *VertexSource) Desc() VertexSourceDesc { return v.desc }

// CreateVertexSource creates a vertex source over an existing buffer. The
// buffer must outlive every draw using it.
func (c *Context) CreateVertexSource(desc VertexSourceDesc) (resource.Handle, error) {
	vf, ok := vertexFormats[desc.Format]
	if !ok {
		return resource.Invalid, c.fail(errors.NotImplemented(errors.PhaseCreate, "create vertex source",
			fmt.Sprintf("vertex format %v", desc.Format)))
	}
	if desc.Buffer.Type() != resource.TypeBuffer {
		return resource.Invalid, c.fail(wrongType(errors.PhaseCreate, "create vertex source", desc.Buffer, resource.TypeBuffer))
	}
	b, err := c.buffers.Get(desc.Buffer)
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	if desc.Stride == 0 {
		desc.Stride = uint32(vf.size)
	}
	if int(desc.Stride) < vf.size {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create vertex source",
			fmt.Sprintf("stride %d is smaller than %v", desc.Stride, desc.Format)))
	}
	if desc.Offset >= uint64(len(b.mem)) {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create vertex source",
			fmt.Sprintf("offset %d beyond buffer of %d bytes", desc.Offset, len(b.mem))))
	}
	h, err := c.vertexSources.Add(&VertexSource{desc: desc, format: vf})
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

func (c *Context) DestroyVertexSource(h resource.Handle) error {
	_, err := c.vertexSources.Remove(h)
	return c.fail(err)
}

// Kernel is a compiled wasm compute kernel.
type Kernel struct {
	k    *engine.Kernel
	refs int
}

// Entry returns the exported function dispatches call.
func (k *Kernel) Entry() string { return k.k.Entry() }

// Calls returns the number of completed dispatches.
func (k *Kernel) Calls() uint64 { return k.k.Calls() }

func (k *Kernel) Drop() { _ = k.k.Close(context.Background()) }

// CreateKernel compiles a wasm kernel. The engine is started on first use.
func (c *Context) CreateKernel(ctx context.Context, wasm []byte, entry string) (resource.Handle, error) {
	e, err := c.ensureEngine(ctx)
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	k, err := e.Compile(ctx, wasm, entry)
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	h, err := c.kernels.Add(&Kernel{k: k})
	if err != nil {
		_ = k.Close(ctx)
		return resource.Invalid, c.fail(err)
	}
	c.log.Debug("kernel compiled", zap.Stringer("kernel", h), zap.String("entry", entry), zap.Int("size", len(wasm)))
	return h, nil
}

// KernelInfo returns the kernel behind h.
func (c *Context) KernelInfo(h resource.Handle) (*Kernel, error) {
	return c.kernels.Get(h)
}

// DestroyKernel frees a kernel. It fails while pipelines use it.
func (c *Context) DestroyKernel(h resource.Handle) error {
	k, err := c.kernels.Get(h)
	if err != nil {
		return c.fail(err)
	}
	if k.refs > 0 {
		return c.fail(errors.StateDetail(errors.PhaseCreate, "destroy kernel",
			fmt.Sprintf("%s is used by %d pipelines", h, k.refs)))
	}
	_, err = c.kernels.Remove(h)
	return err
}

// PipelineDesc describes a pipeline. Kernel is required for wasm pipelines
// and Func for func pipelines.
type PipelineDesc struct {
	Name   string
	Kind   pipeline.Kind
	Kernel resource.Handle
	Func   pipeline.GroupFunc
	Color  [4]byte
}

// Pipeline is an executable pipeline bound to a queue stage.
type Pipeline struct {
	p      *pipeline.Pipeline
	kernel resource.Handle
}

func (p *Pipeline) Name() string            { return p.p.Name }
func (p *Pipeline) Kind() pipeline.Kind     { return p.p.Kind }
func (p *Pipeline) Stage() hostrt.QueueType { return p.p.Stage }
func (p *Pipeline) Kernel() resource.Handle { return p.kernel }

// CreatePipeline creates a pipeline of a registered kind.
func (c *Context) CreatePipeline(desc PipelineDesc) (resource.Handle, error) {
	p := &pipeline.Pipeline{Name: desc.Name, Kind: desc.Kind, Func: desc.Func, Color: desc.Color}
	var k *Kernel
	kernel := resource.Invalid
	if !command.Absent(desc.Kernel) {
		var err error
		if k, err = c.kernels.Get(desc.Kernel); err != nil {
			return resource.Invalid, c.fail(err)
		}
		p.Kernel = k.k
		kernel = desc.Kernel
	}
	if err := c.pipelines.Validate(p); err != nil {
		return resource.Invalid, c.fail(err)
	}
	h, err := c.pipes.Add(&Pipeline{p: p, kernel: kernel})
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	if k != nil {
		k.refs++
	}
	return h, nil
}

// PipelineInfo returns the pipeline behind h.
func (c *Context) PipelineInfo(h resource.Handle) (*Pipeline, error) {
	return c.pipes.Get(h)
}

func (c *Context) DestroyPipeline(h resource.Handle) error {
	p, err := c.pipes.Remove(h)
	if err != nil {
		return c.fail(err)
	}
	if k, ok := c.kernels.Lookup(p.kernel); ok {
		k.refs--
	}
	return nil
}
