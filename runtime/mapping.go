package runtime

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// Mapping is host access to a range of a buffer or an image.
type Mapping struct {
	s      *storage
	data   []byte
	off    uint64
	handle resource.Handle
	mode   gputypes.MapMode
	staged bool
	closed bool
}

// Bytes returns the mapped range. Writes become visible to backends after
// Unmap.
func (m *Mapping) Bytes() []byte { return m.data }

func (m *Mapping) Handle() resource.Handle { return m.handle }
func (m *Mapping) Mode() gputypes.MapMode  { return m.mode }

// MapBuffer maps size bytes of a buffer starting at off; size 0 maps to the
// end. A read mapping blocks until outstanding backend work touching the
// buffer has completed and returns a direct view. A write-only mapping
// returns zeroed staging memory without blocking.
func (c *Context) MapBuffer(ctx context.Context, h resource.Handle, mode gputypes.MapMode, off, size uint64) (*Mapping, error) {
	b, err := c.buffers.Get(h)
	if err != nil {
		return nil, c.fail(err)
	}
	n := uint64(len(b.mem))
	if size == 0 && off < n {
		size = n - off
	}
	if size == 0 || !inRange(off, size, n) {
		return nil, c.fail(errors.InvalidArgument(errors.PhaseMap, "map buffer",
			fmt.Sprintf("range %d+%d outside %d bytes", off, size, n)))
	}
	return c.mapStorage(ctx, h, &b.storage, mode, off, size)
}

// MapImage maps a whole image with the same semantics as MapBuffer.
func (c *Context) MapImage(ctx context.Context, h resource.Handle, mode gputypes.MapMode) (*Mapping, error) {
	img, err := c.images.Get(h)
	if err != nil {
		return nil, c.fail(err)
	}
	return c.mapStorage(ctx, h, &img.storage, mode, 0, uint64(len(img.mem)))
}

func (c *Context) mapStorage(ctx context.Context, h resource.Handle, s *storage, mode gputypes.MapMode, off, size uint64) (*Mapping, error) {
	if mode == gputypes.MapModeNone || mode&^(gputypes.MapModeRead|gputypes.MapModeWrite) != 0 {
		return nil, c.fail(errors.InvalidArgument(errors.PhaseMap, "map", fmt.Sprintf("map mode %#x", uint32(mode))))
	}
	if s.mapped {
		return nil, c.fail(errors.StateDetail(errors.PhaseMap, "map", fmt.Sprintf("%s is already mapped", h)))
	}
	m := &Mapping{s: s, handle: h, mode: mode, off: off}
	if mode&gputypes.MapModeRead != 0 {
		ctx, span := c.startSpan(ctx, "Map", attribute.Stringer("resource", h))
		err := endSpan(span, s.HostAcquire(ctx))
		span.End()
		if err != nil {
			return nil, c.fail(err)
		}
		m.data = s.mem[off : off+size : off+size]
	} else {
		m.data = make([]byte, size)
		m.staged = true
	}
	s.mapped = true
	return m, nil
}

// Unmap ends host access. Staged writes are copied into the resource at
// once when it is idle. Otherwise the copy is queued on the device transfer
// queue after outstanding backend work, and later work waits for it.
func (c *Context) Unmap(m *Mapping) error {
	if m == nil || m.closed {
		return c.fail(errors.StateDetail(errors.PhaseMap, "unmap", "mapping is not active"))
	}
	s := m.s
	if m.staged {
		to := s.mem[m.off : m.off+uint64(len(m.data))]
		data := m.data
		if pending := s.Pending(); len(pending) > 0 {
			d, err := c.transferDevice()
			if err != nil {
				return c.fail(err)
			}
			tok, err := d.writeBack(func(context.Context) error {
				copy(to, data)
				return nil
			}, pending)
			if err != nil {
				return c.fail(err)
			}
			s.HostRelease(tok)
		} else {
			copy(to, data)
		}
	}
	m.closed = true
	m.data = nil
	s.mapped = false
	return nil
}

// transferDevice returns the device host write-backs run on: the default
// device or else the first registered one.
func (c *Context) transferDevice() (*Device, error) {
	d, ok := c.devices.Lookup(c.defaultDevice)
	if !ok {
		hs := c.devices.Handles()
		if len(hs) == 0 {
			return nil, errors.StateDetail(errors.PhaseMap, "unmap", "no device for host write-back")
		}
		d, _ = c.devices.Lookup(hs[0])
	}
	return d, nil
}
