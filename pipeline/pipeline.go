package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/engine"
	"github.com/wippyai/hostrt/errors"
)

// Kind names a pipeline kind.
type Kind string

const (
	KindFunc   Kind = "func"
	KindWasm   Kind = "wasm"
	KindClear  Kind = "clear"
	KindPoints Kind = "points"
)

// GroupFunc is the body of a func pipeline, called once per work group.
// Calls for different groups run concurrently and share args.
type GroupFunc func(ctx context.Context, group [3]uint32, args [][]byte) error

// Pipeline is an executable pipeline object.
type Pipeline struct {
	Name   string
	Kind   Kind
	Stage  hostrt.QueueType
	Kernel *engine.Kernel
	Func   GroupFunc
	// Color is the RGBA value written by render kinds.
	Color [4]byte
}

// Target is a render target's memory as seen by a render handler.
type Target struct {
	Pixels        []byte
	Width, Height uint32
	// Texel writes one pixel in the target's format from an RGBA color.
	Texel func(dst []byte, rgba [4]byte)
	Bpp   int
}

// Vertices is a vertex source's memory as seen by a render handler.
type Vertices struct {
	Data   []byte
	Stride int
	// Components is the number of float32 components per vertex position.
	Components int
}

// Invocation carries everything a handler needs for one command.
type Invocation struct {
	Pipeline *Pipeline

	// compute
	Groups [3]uint32
	Args   [][]byte

	// render
	Target    *Target
	Vertices  *Vertices
	First     uint32
	Count     uint32
	Instances uint32
}

// Handler executes one invocation on a backend worker.
type Handler func(ctx context.Context, inv *Invocation) error

type entry struct {
	handler Handler
	stage   hostrt.QueueType
}

// Registry maps pipeline kinds to handlers. It is safe for concurrent use.
type Registry struct {
	kinds map[Kind]entry
	mu    sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[Kind]entry)}
}

// Default returns a registry with the built-in kinds registered.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(KindFunc, hostrt.QueueCompute, runFunc)
	_ = r.Register(KindWasm, hostrt.QueueCompute, runWasm)
	_ = r.Register(KindClear, hostrt.QueueRender, runClear)
	_ = r.Register(KindPoints, hostrt.QueueRender, runPoints)
	return r
}

// Register binds kind to h. stage is the single queue type pipelines of this
// kind execute on.
func (r *Registry) Register(kind Kind, stage hostrt.QueueType, h Handler) error {
	if kind == "" || h == nil {
		return errors.InvalidArgument(errors.PhaseCreate, "register pipeline kind", "kind and handler are required")
	}
	if !stage.Single() || stage == hostrt.QueueTransfer {
		return errors.InvalidArgument(errors.PhaseCreate, "register pipeline kind",
			fmt.Sprintf("stage %s must be compute or render", stage))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kinds[kind]; dup {
		return errors.InvalidArgument(errors.PhaseCreate, "register pipeline kind",
			fmt.Sprintf("kind %q already registered", kind))
	}
	r.kinds[kind] = entry{handler: h, stage: stage}
	return nil
}

// Stage returns the queue type pipelines of kind execute on.
func (r *Registry) Stage(kind Kind) (hostrt.QueueType, error) {
	e, err := r.lookup(kind)
	if err != nil {
		return hostrt.QueueNone, err
	}
	return e.stage, nil
}

// Handler returns the handler bound to kind.
func (r *Registry) Handler(kind Kind) (Handler, error) {
	e, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return e.handler, nil
}

func (r *Registry) lookup(kind Kind) (entry, error) {
	r.mu.RLock()
	e, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return entry{}, errors.NotImplemented(errors.PhaseExecute, "pipeline", fmt.Sprintf("pipeline kind %q", kind))
	}
	return e, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	out := make([]Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Validate checks p against the registry: its kind must be registered and
// the fields that kind needs must be set.
func (r *Registry) Validate(p *Pipeline) error {
	stage, err := r.Stage(p.Kind)
	if err != nil {
		return err
	}
	if p.Stage == hostrt.QueueNone {
		p.Stage = stage
	}
	if p.Stage != stage {
		return errors.InvalidArgument(errors.PhaseCreate, "create pipeline",
			fmt.Sprintf("kind %q runs on %s, not %s", p.Kind, stage, p.Stage))
	}
	switch p.Kind {
	case KindFunc:
		if p.Func == nil {
			return errors.InvalidArgument(errors.PhaseCreate, "create pipeline", "func pipeline without a function")
		}
	case KindWasm:
		if p.Kernel == nil {
			return errors.InvalidArgument(errors.PhaseCreate, "create pipeline", "wasm pipeline without a kernel")
		}
	}
	return nil
}

// Execute runs inv with the handler for its pipeline's kind.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) error {
	h, err := r.Handler(inv.Pipeline.Kind)
	if err != nil {
		return err
	}
	return h(ctx, inv)
}
