package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostModule is the import module name for host functions available to kernels.
const HostModule = "hostrt"

func instantiateHost(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return r.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithFunc(hostLog).
		WithParameterNames("ptr", "len").
		Export("log").
		Instantiate(ctx)
}

// hostLog writes a message from kernel memory to the engine logger.
func hostLog(_ context.Context, m api.Module, ptr, n uint32) {
	msg, ok := m.Memory().Read(ptr, n)
	if !ok {
		Logger().Warn("kernel log out of bounds", zap.Uint32("ptr", ptr), zap.Uint32("len", n))
		return
	}
	Logger().Info("kernel", zap.String("module", m.Name()), zap.ByteString("msg", msg))
}
