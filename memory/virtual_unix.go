//go:build unix

package memory

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/errors"
)

// Virtual reserves address space with an inaccessible anonymous mapping and
// commits pages by changing their protection to read/write.
type Virtual struct {
	granule int
}

// NewVirtual creates a virtual-memory allocator. The granule is raised to the
// system page size when smaller.
func NewVirtual(granule int) (*Virtual, error) {
	if err := checkGranule(granule); err != nil {
		return nil, err
	}
	if page := unix.Getpagesize(); granule < page {
		granule = page
	}
	return &Virtual{granule: granule}, nil
}

func (v *Virtual) Granule() int { return v.granule }

func (v *Virtual) Reserve(size int) (hostrt.Region, error) {
	if size <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseCreate, "reserve", fmt.Sprintf("size %d", size))
	}
	mem, err := unix.Mmap(-1, 0, roundUp(size, v.granule), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCreate, errors.KindResourceExhausted, err,
			fmt.Sprintf("reserve %d bytes", size))
	}
	Logger().Debug("reserved region", zap.Int("size", size), zap.Int("granule", v.granule))
	return &virtualRegion{mem: mem, size: size, granule: v.granule}, nil
}

type virtualRegion struct {
	mem       []byte
	size      int
	committed int
	granule   int
}

func (r *virtualRegion) Bytes() []byte {
	n := r.committed
	if n > r.size {
		n = r.size
	}
	return r.mem[:n:n]
}

func (r *virtualRegion) Commit(n int) error {
	if r.mem == nil {
		return errors.StateDetail(errors.PhaseRecord, "commit", "region released")
	}
	if n > r.size {
		return commitError(n, r.size)
	}
	if n <= r.committed {
		return nil
	}
	target := roundUp(n, r.granule)
	if target > len(r.mem) {
		target = len(r.mem)
	}
	if err := unix.Mprotect(r.mem[r.committed:target], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrap(errors.PhaseRecord, errors.KindResourceExhausted, err,
			fmt.Sprintf("commit %d bytes", target-r.committed))
	}
	r.committed = target
	return nil
}

func (r *virtualRegion) Committed() int {
	if r.committed > r.size {
		return r.size
	}
	return r.committed
}

func (r *virtualRegion) Reserved() int { return r.size }

func (r *virtualRegion) Release() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	r.committed = 0
	return err
}
