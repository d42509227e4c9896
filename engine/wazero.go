package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hostrt/errors"
)

// EntryParams is the number of i32 parameters of a kernel entry function.
const EntryParams = 5

const (
	pageSize  = 65536
	argAlign  = 8
	tableSize = 8
)

// WazeroEngine compiles and runs kernels on a shared wazero runtime.
type WazeroEngine struct {
	runtime      wazero.Runtime
	hostInitMu   sync.Mutex
	hostInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &WazeroEngine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
	if err := e.initHost(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}
	return e, nil
}

// initHost instantiates the "hostrt" host module once per runtime.
func (e *WazeroEngine) initHost(ctx context.Context) error {
	if e.hostInitDone.Load() {
		return nil
	}

	e.hostInitMu.Lock()
	defer e.hostInitMu.Unlock()

	if e.hostInitDone.Load() {
		return nil
	}
	if e.runtime.Module(HostModule) == nil {
		if _, err := instantiateHost(ctx, e.runtime); err != nil {
			return errors.Rejected(errors.PhaseKernel, "instantiate host", err)
		}
	}
	e.hostInitDone.Store(true)
	return nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile validates and compiles a kernel module. entry names the exported
// function dispatches call.
func (e *WazeroEngine) Compile(ctx context.Context, wasmBytes []byte, entry string) (*Kernel, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Rejected(errors.PhaseKernel, "compile", fmt.Errorf("compile failed: %w", err))
	}

	if err := checkKernel(compiled, entry); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	Logger().Debug("kernel compiled",
		zap.String("entry", entry),
		zap.Int("bytes", len(wasmBytes)),
		zap.Int("imports", len(compiled.ImportedFunctions())))

	return &Kernel{engine: e, compiled: compiled, entry: entry}, nil
}

func checkKernel(compiled wazero.CompiledModule, entry string) error {
	if _, ok := compiled.ExportedMemories()[MemoryExport]; !ok {
		return errors.InvalidArgument(errors.PhaseKernel, "compile",
			fmt.Sprintf("module does not export memory %q", MemoryExport))
	}
	def, ok := compiled.ExportedFunctions()[entry]
	if !ok {
		return errors.InvalidArgument(errors.PhaseKernel, "compile",
			fmt.Sprintf("module does not export function %q", entry))
	}
	params := def.ParamTypes()
	if len(params) != EntryParams || len(def.ResultTypes()) != 0 {
		return errors.InvalidArgument(errors.PhaseKernel, "compile",
			fmt.Sprintf("entry %q must take %d i32 params and return nothing", entry, EntryParams))
	}
	for _, p := range params {
		if p != api.ValueTypeI32 {
			return errors.InvalidArgument(errors.PhaseKernel, "compile",
				fmt.Sprintf("entry %q has non-i32 param %s", entry, api.ValueTypeName(p)))
		}
	}
	for _, imp := range compiled.ImportedFunctions() {
		mod, name, _ := imp.Import()
		if mod != HostModule {
			return errors.InvalidArgument(errors.PhaseKernel, "compile",
				fmt.Sprintf("unsupported import %s.%s", mod, name))
		}
	}
	return nil
}

// MemoryExport is the name kernels export their linear memory under.
const MemoryExport = "memory"

// Kernel is a compiled compute kernel.
type Kernel struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	entry    string
	calls    atomic.Uint64
}

func (k *Kernel) Entry() string { return k.entry }

// Calls returns how many dispatches have completed successfully.
func (k *Kernel) Calls() uint64 { return k.calls.Load() }

// Dispatch runs the kernel once over the groups grid. args are copied into
// the instance's memory and copied back after the call.
func (k *Kernel) Dispatch(ctx context.Context, groups [3]uint32, args [][]byte) error {
	mod, err := k.engine.runtime.InstantiateModule(ctx, k.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return errors.Rejected(errors.PhaseKernel, "instantiate", err)
	}
	defer mod.Close(ctx)

	mem := mod.Memory()
	if mem == nil {
		return errors.InvalidArgument(errors.PhaseKernel, "dispatch", "instance has no memory")
	}

	offsets, table, err := layout(mem, args)
	if err != nil {
		return err
	}

	fn := mod.ExportedFunction(k.entry)
	_, err = fn.Call(ctx,
		api.EncodeU32(table), api.EncodeU32(uint32(len(args))),
		api.EncodeU32(groups[0]), api.EncodeU32(groups[1]), api.EncodeU32(groups[2]))
	if err != nil {
		return errors.FromBackend(errors.PhaseKernel, "dispatch", err)
	}

	for i, a := range args {
		out, ok := mem.Read(offsets[i], uint32(len(a)))
		if !ok {
			return errors.InvalidArgument(errors.PhaseKernel, "dispatch",
				fmt.Sprintf("argument %d no longer in bounds", i))
		}
		copy(a, out)
	}
	k.calls.Add(1)
	return nil
}

func (k *Kernel) Close(ctx context.Context) error {
	return k.compiled.Close(ctx)
}

// layout writes args and the argument table into mem, growing it as needed.
func layout(mem api.Memory, args [][]byte) ([]uint32, uint32, error) {
	var off uint64
	offsets := make([]uint32, len(args))
	for i, a := range args {
		off = alignUp(off, argAlign)
		offsets[i] = uint32(off)
		off += uint64(len(a))
	}
	table := alignUp(off, argAlign)
	end := table + uint64(len(args))*tableSize
	if end > 1<<32 {
		return nil, 0, errors.Exhausted(errors.PhaseKernel, "dispatch",
			fmt.Sprintf("%d bytes of arguments exceed 32-bit memory", end))
	}

	if have := uint64(mem.Size()); end > have {
		pages := (end - have + pageSize - 1) / pageSize
		if _, ok := mem.Grow(uint32(pages)); !ok {
			return nil, 0, errors.Exhausted(errors.PhaseKernel, "dispatch",
				fmt.Sprintf("cannot grow kernel memory to %d bytes", end))
		}
	}

	for i, a := range args {
		if !mem.Write(offsets[i], a) {
			return nil, 0, errors.InvalidArgument(errors.PhaseKernel, "dispatch",
				fmt.Sprintf("argument %d out of bounds", i))
		}
		entry := uint32(table) + uint32(i)*tableSize
		mem.WriteUint32Le(entry, offsets[i])
		mem.WriteUint32Le(entry+4, uint32(len(a)))
	}
	return offsets, uint32(table), nil
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}
