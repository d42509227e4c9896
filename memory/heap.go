package memory

import (
	"fmt"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/errors"
)

// Heap reserves regions as single Go allocations. The full reservation is
// allocated up front; committing only extends the visible length.
type Heap struct {
	granule int
}

// NewHeap creates a heap allocator committing in steps of granule bytes.
func NewHeap(granule int) (*Heap, error) {
	if err := checkGranule(granule); err != nil {
		return nil, err
	}
	return &Heap{granule: granule}, nil
}

func (h *Heap) Granule() int { return h.granule }

func (h *Heap) Reserve(size int) (hostrt.Region, error) {
	if size <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseCreate, "reserve", fmt.Sprintf("size %d", size))
	}
	return &heapRegion{buf: make([]byte, 0, size)}, nil
}

type heapRegion struct {
	buf      []byte
	released bool
}

func (r *heapRegion) Bytes() []byte { return r.buf }

func (r *heapRegion) Commit(n int) error {
	if r.released {
		return errors.StateDetail(errors.PhaseRecord, "commit", "region released")
	}
	if n > cap(r.buf) {
		return commitError(n, cap(r.buf))
	}
	if n > len(r.buf) {
		r.buf = r.buf[:n]
	}
	return nil
}

func (r *heapRegion) Committed() int { return len(r.buf) }
func (r *heapRegion) Reserved() int  { return cap(r.buf) }

func (r *heapRegion) Release() error {
	r.buf = nil
	r.released = true
	return nil
}
