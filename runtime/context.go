package runtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/backend/soft"
	"github.com/wippyai/hostrt/cmdbuf"
	"github.com/wippyai/hostrt/config"
	"github.com/wippyai/hostrt/engine"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/fence"
	"github.com/wippyai/hostrt/memory"
	"github.com/wippyai/hostrt/metrics"
	"github.com/wippyai/hostrt/pipeline"
	"github.com/wippyai/hostrt/resource"
)

const tracerName = "github.com/wippyai/hostrt/runtime"

// Context owns every runtime object. It is not safe for concurrent use.
type Context struct {
	id        uuid.UUID
	cfg       *config.Config
	alloc     hostrt.Allocator
	pipelines *pipeline.Registry
	engine    *engine.WazeroEngine
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	log       *zap.Logger

	devices       *resource.Table[*Device]
	groups        *resource.Table[*Group]
	queues        *resource.Table[*Queue]
	buffers       *resource.Table[*Buffer]
	images        *resource.Table[*Image]
	samplers      *resource.Table[*Sampler]
	vertexSources *resource.Table[*VertexSource]
	kernels       *resource.Table[*Kernel]
	pipes         *resource.Table[*Pipeline]
	fences        *resource.Table[*fence.Fence]
	events        *resource.Table[*fence.Event]
	cmdbufs       *resource.Table[*cmdbuf.Buffer]

	defaultDevice resource.Handle
	closed        bool
}

type options struct {
	pipelines *pipeline.Registry
	metrics   *metrics.Metrics
	device    backend.Device
	alloc     hostrt.Allocator
	tracer    trace.Tracer
}

// Option configures a Context.
type Option func(*options)

// WithPipelines replaces the built-in pipeline registry.
func WithPipelines(r *pipeline.Registry) Option {
	return func(o *options) { o.pipelines = r }
}

// WithMetrics records activity into m instead of collectors built from config.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDevice replaces the default software device.
func WithDevice(d backend.Device) Option {
	return func(o *options) { o.device = d }
}

// WithAllocator replaces the configured allocator for command buffers and
// resource memory.
func WithAllocator(a hostrt.Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithTracer sets the tracer for spans. The global otel tracer is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// New creates a Context. A nil cfg means config.Default().
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Context{
		id:        uuid.New(),
		cfg:       cfg,
		alloc:     o.alloc,
		pipelines: o.pipelines,
		metrics:   o.metrics,
		tracer:    o.tracer,
	}
	c.log = Logger().With(zap.String("context", c.id.String()))

	if c.alloc == nil {
		a, err := memory.ByName(cfg.Memory.Allocator, cfg.Memory.Granule)
		if err != nil {
			return nil, err
		}
		c.alloc = a
	}
	if cfg.Memory.Limit > 0 {
		c.alloc = memory.NewLimit(c.alloc, cfg.Memory.Limit)
	}
	if c.pipelines == nil {
		c.pipelines = pipeline.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.New(cfg.Metrics)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	if err := c.initTables(cfg.Registry.Capacity); err != nil {
		return nil, err
	}

	dev := o.device
	if dev == nil {
		dev = soft.NewDevice("soft0", backend.DeviceCPU, soft.WithWorkers(cfg.Compute.Workers))
	}
	h, err := c.CreateDevice(dev)
	if err != nil {
		return nil, err
	}
	c.defaultDevice = h

	c.log.Debug("context created",
		zap.Int("capacity", cfg.Registry.Capacity),
		zap.String("allocator", cfg.Memory.Allocator),
		zap.String("device", dev.Name()))
	return c, nil
}

func newTable[T any](c *Context, typ resource.Type, capacity int) (*resource.Table[T], error) {
	t, err := resource.NewTable[T](uint8(typ), typ, capacity)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		t.Subscribe(c.metrics)
	}
	return t, nil
}

func (c *Context) initTables(capacity int) error {
	var err error
	if c.devices, err = newTable[*Device](c, resource.TypeDevice, capacity); err != nil {
		return err
	}
	if c.groups, err = newTable[*Group](c, resource.TypeGroup, capacity); err != nil {
		return err
	}
	if c.queues, err = newTable[*Queue](c, resource.TypeQueue, capacity); err != nil {
		return err
	}
	if c.buffers, err = newTable[*Buffer](c, resource.TypeBuffer, capacity); err != nil {
		return err
	}
	if c.images, err = newTable[*Image](c, resource.TypeImage, capacity); err != nil {
		return err
	}
	if c.samplers, err = newTable[*Sampler](c, resource.TypeSampler, capacity); err != nil {
		return err
	}
	if c.vertexSources, err = newTable[*VertexSource](c, resource.TypeVertexSource, capacity); err != nil {
		return err
	}
	if c.kernels, err = newTable[*Kernel](c, resource.TypeKernel, capacity); err != nil {
		return err
	}
	if c.pipes, err = newTable[*Pipeline](c, resource.TypePipeline, capacity); err != nil {
		return err
	}
	if c.fences, err = newTable[*fence.Fence](c, resource.TypeFence, capacity); err != nil {
		return err
	}
	if c.events, err = newTable[*fence.Event](c, resource.TypeEvent, capacity); err != nil {
		return err
	}
	if c.cmdbufs, err = newTable[*cmdbuf.Buffer](c, resource.TypeCommandBuffer, capacity); err != nil {
		return err
	}
	return nil
}

// ID returns the context's unique id.
func (c *Context) ID() uuid.UUID { return c.id }

// Config returns the configuration the context was created with.
func (c *Context) Config() *config.Config { return c.cfg }

// Pipelines returns the pipeline kind registry.
func (c *Context) Pipelines() *pipeline.Registry { return c.pipelines }

// Metrics returns the metrics sink, which may be nil.
func (c *Context) Metrics() *metrics.Metrics { return c.metrics }

// Allocator returns the allocator backing command buffers and resource memory.
func (c *Context) Allocator() hostrt.Allocator { return c.alloc }

// Stats reports live objects per type.
func (c *Context) Stats() map[resource.Type]int {
	return map[resource.Type]int{
		resource.TypeDevice:        c.devices.Len(),
		resource.TypeGroup:         c.groups.Len(),
		resource.TypeQueue:         c.queues.Len(),
		resource.TypeBuffer:        c.buffers.Len(),
		resource.TypeImage:         c.images.Len(),
		resource.TypeSampler:       c.samplers.Len(),
		resource.TypeVertexSource:  c.vertexSources.Len(),
		resource.TypeKernel:        c.kernels.Len(),
		resource.TypePipeline:      c.pipes.Len(),
		resource.TypeFence:         c.fences.Len(),
		resource.TypeEvent:         c.events.Len(),
		resource.TypeCommandBuffer: c.cmdbufs.Len(),
	}
}

// Close stops every queue, then destroys all objects. Work still waiting on
// dependencies is abandoned.
func (c *Context) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.queues.Each(func(_ resource.Handle, q *Queue) bool {
		_ = q.q.Close()
		return true
	})
	c.devices.Each(func(_ resource.Handle, d *Device) bool {
		d.closeTransfer()
		return true
	})

	c.cmdbufs.Clear()
	c.fences.Clear()
	c.events.Clear()
	c.pipes.Clear()
	c.kernels.Clear()
	c.samplers.Clear()
	c.vertexSources.Clear()
	c.images.Clear()
	c.buffers.Clear()
	c.queues.Clear()
	c.groups.Clear()
	c.devices.Clear()

	var err error
	if c.engine != nil {
		err = c.engine.Close(ctx)
	}
	c.log.Debug("context closed")
	return err
}

func (c *Context) ensureEngine(ctx context.Context) (*engine.WazeroEngine, error) {
	if c.engine != nil {
		return c.engine, nil
	}
	e, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
		MemoryLimitPages: c.cfg.Compute.KernelMemoryPages,
	})
	if err != nil {
		return nil, err
	}
	c.engine = e
	return e, nil
}

func (c *Context) fail(err error) error {
	c.metrics.RecordFailure(err)
	return err
}

func wrongType(phase errors.Phase, op string, h resource.Handle, want ...resource.Type) error {
	return errors.InvalidArgument(phase, op, fmt.Sprintf("%s is not a %v", h, want))
}
