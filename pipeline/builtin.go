package pipeline

import (
	"context"
	"encoding/binary"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/hostrt/errors"
)

func runFunc(ctx context.Context, inv *Invocation) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	gs := inv.Groups
	for z := uint32(0); z < gs[2]; z++ {
		for y := uint32(0); y < gs[1]; y++ {
			for x := uint32(0); x < gs[0]; x++ {
				id := [3]uint32{x, y, z}
				g.Go(func() error {
					return inv.Pipeline.Func(ctx, id, inv.Args)
				})
			}
		}
	}
	return g.Wait()
}

func runWasm(ctx context.Context, inv *Invocation) error {
	return inv.Pipeline.Kernel.Dispatch(ctx, inv.Groups, inv.Args)
}

func runClear(_ context.Context, inv *Invocation) error {
	t := inv.Target
	if t == nil {
		return errors.InvalidArgument(errors.PhaseExecute, "clear", "no render target")
	}
	texel := make([]byte, t.Bpp)
	t.Texel(texel, inv.Pipeline.Color)
	for off := 0; off+t.Bpp <= len(t.Pixels); off += t.Bpp {
		copy(t.Pixels[off:], texel)
	}
	return nil
}

// runPoints maps each vertex position from clip space [-1, 1] to a pixel
// and writes the pipeline color there. Instances repeat the same points.
func runPoints(_ context.Context, inv *Invocation) error {
	t, v := inv.Target, inv.Vertices
	if t == nil || v == nil {
		return errors.InvalidArgument(errors.PhaseExecute, "points", "target and vertex source are required")
	}
	if v.Components < 2 {
		return errors.InvalidArgument(errors.PhaseExecute, "points", "vertex positions need at least two components")
	}
	texel := make([]byte, t.Bpp)
	t.Texel(texel, inv.Pipeline.Color)

	end := uint64(inv.First) + uint64(inv.Count)
	if end*uint64(v.Stride) > uint64(len(v.Data)) {
		return errors.InvalidArgument(errors.PhaseExecute, "points", "draw range exceeds vertex source")
	}
	for i := uint64(inv.First); i < end; i++ {
		base := int(i) * v.Stride
		x := math.Float32frombits(binary.LittleEndian.Uint32(v.Data[base:]))
		y := math.Float32frombits(binary.LittleEndian.Uint32(v.Data[base+4:]))
		px, ok := toPixel(x, t.Width)
		if !ok {
			continue
		}
		py, ok := toPixel(-y, t.Height)
		if !ok {
			continue
		}
		off := (int(py)*int(t.Width) + int(px)) * t.Bpp
		copy(t.Pixels[off:off+t.Bpp], texel)
	}
	return nil
}

func toPixel(c float32, size uint32) (uint32, bool) {
	if c < -1 || c > 1 || size == 0 {
		return 0, false
	}
	p := uint32((c + 1) / 2 * float32(size))
	if p >= size {
		p = size - 1
	}
	return p, true
}
