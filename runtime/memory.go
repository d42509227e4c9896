package runtime

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/fence"
	"github.com/wippyai/hostrt/resource"
)

// storage is host memory shared by buffers and images.
type storage struct {
	fence.Tracker
	region hostrt.Region
	mem    []byte
	mapped bool
}

func (c *Context) allocate(op string, size uint64) (storage, error) {
	if size == 0 || size > uint64(maxAlloc) {
		return storage{}, errors.InvalidArgument(errors.PhaseCreate, op, fmt.Sprintf("size %d outside 1..%d", size, maxAlloc))
	}
	r, err := c.alloc.Reserve(int(size))
	if err != nil {
		return storage{}, err
	}
	if err := r.Commit(int(size)); err != nil {
		_ = r.Release()
		return storage{}, err
	}
	return storage{region: r, mem: r.Bytes()[:size:size]}, nil
}

// maxAlloc bounds a single buffer or image.
const maxAlloc = 1 << 32

// busy reports outstanding backend use, a pending host write-back or a live mapping.
func (s *storage) busy() bool { return s.mapped || s.Busy() }

func (s *storage) release() {
	if s.region != nil {
		_ = s.region.Release()
		s.region = nil
		s.mem = nil
	}
}

// Bytes exposes the object's memory. Reading it while backend work is
// outstanding races with that work; map the object instead.
func (s *storage) Bytes() []byte { return s.mem }

// BufferDesc describes a buffer.
type BufferDesc struct {
	Size   uint64
	Usage  gputypes.BufferUsage
	Shared bool
}

// Buffer is linear host memory usable by both backends.
type Buffer struct {
	storage
	desc BufferDesc
}

func (b *Buffer) Desc() BufferDesc { return b.desc }
func (b *Buffer) Drop()            { b.release() }

// CreateBuffer allocates a zeroed buffer. Shared buffers take part in the
// acquire/release handshake between backends.
func (c *Context) CreateBuffer(desc BufferDesc) (resource.Handle, error) {
	if desc.Usage.ContainsUnknownBits() {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create buffer",
			fmt.Sprintf("unknown usage bits %#x", uint64(desc.Usage))))
	}
	s, err := c.allocate("create buffer", desc.Size)
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	s.SetShared(desc.Shared)
	h, err := c.buffers.Add(&Buffer{storage: s, desc: desc})
	if err != nil {
		s.release()
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

// BufferInfo returns the buffer object behind h.
func (c *Context) BufferInfo(h resource.Handle) (*Buffer, error) {
	return c.buffers.Get(h)
}

// DestroyBuffer frees a buffer. It fails with an invalid-state error while
// backend work touching it is outstanding or it is mapped.
func (c *Context) DestroyBuffer(h resource.Handle) error {
	b, err := c.buffers.Get(h)
	if err != nil {
		return c.fail(err)
	}
	if b.busy() {
		return c.fail(errors.StateDetail(errors.PhaseCreate, "destroy buffer", fmt.Sprintf("%s is in use", h)))
	}
	_, err = c.buffers.Remove(h)
	return err
}

// ImageDesc describes a 2D or 3D image.
type ImageDesc struct {
	Format gputypes.TextureFormat
	Size   gputypes.Extent3D
	Usage  gputypes.TextureUsage
	Shared bool
}

// Image is a host-resident image with tightly packed texels.
type Image struct {
	storage
	desc   ImageDesc
	format formatInfo
}

func (i *Image) Desc() ImageDesc { return i.desc }
func (i *Image) Drop()           { i.release() }

// BytesPerPixel returns the texel size of the image's format.
func (i *Image) BytesPerPixel() int { return i.format.bpp }

// CreateImage allocates a zeroed image.
func (c *Context) CreateImage(desc ImageDesc) (resource.Handle, error) {
	fi, ok := formats[desc.Format]
	if !ok {
		return resource.Invalid, c.fail(errors.NotImplemented(errors.PhaseCreate, "create image",
			fmt.Sprintf("texture format %v", desc.Format)))
	}
	if desc.Usage.ContainsUnknownBits() {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create image",
			fmt.Sprintf("unknown usage bits %#x", uint64(desc.Usage))))
	}
	if desc.Size.DepthOrArrayLayers == 0 {
		desc.Size.DepthOrArrayLayers = 1
	}
	sz := desc.Size
	if sz.Width == 0 || sz.Height == 0 {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create image",
			fmt.Sprintf("extent %dx%dx%d has a zero dimension", sz.Width, sz.Height, sz.DepthOrArrayLayers)))
	}
	s, err := c.allocate("create image", uint64(sz.Width)*uint64(sz.Height)*uint64(sz.DepthOrArrayLayers)*uint64(fi.bpp))
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	s.SetShared(desc.Shared)
	h, err := c.images.Add(&Image{storage: s, desc: desc, format: fi})
	if err != nil {
		s.release()
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

// ImageInfo returns the image object behind h.
func (c *Context) ImageInfo(h resource.Handle) (*Image, error) {
	return c.images.Get(h)
}

// DestroyImage frees an image. It fails with an invalid-state error while
// backend work touching it is outstanding or it is mapped.
func (c *Context) DestroyImage(h resource.Handle) error {
	img, err := c.images.Get(h)
	if err != nil {
		return c.fail(err)
	}
	if img.busy() {
		return c.fail(errors.StateDetail(errors.PhaseCreate, "destroy image", fmt.Sprintf("%s is in use", h)))
	}
	_, err = c.images.Remove(h)
	return err
}

// resolveStorage resolves a buffer or image handle to its memory.
func (c *Context) resolveStorage(phase errors.Phase, op string, h resource.Handle) (*storage, error) {
	switch h.Type() {
	case resource.TypeBuffer:
		b, err := c.buffers.Get(h)
		if err != nil {
			return nil, err
		}
		return &b.storage, nil
	case resource.TypeImage:
		img, err := c.images.Get(h)
		if err != nil {
			return nil, err
		}
		return &img.storage, nil
	}
	return nil, wrongType(phase, op, h, resource.TypeBuffer, resource.TypeImage)
}
