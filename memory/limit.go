package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/errors"
)

// Limit caps the total bytes committed across all regions of an allocator.
// Commits past the budget fail with a resource-exhausted error.
type Limit struct {
	inner hostrt.Allocator
	used  atomic.Int64
	max   int64
}

// NewLimit wraps inner with a budget of max committed bytes.
func NewLimit(inner hostrt.Allocator, max int64) *Limit {
	return &Limit{inner: inner, max: max}
}

func (l *Limit) Granule() int { return l.inner.Granule() }

// Used returns the bytes currently committed through this allocator.
func (l *Limit) Used() int64 { return l.used.Load() }

func (l *Limit) Reserve(size int) (hostrt.Region, error) {
	r, err := l.inner.Reserve(size)
	if err != nil {
		return nil, err
	}
	return &limitRegion{Region: r, limit: l}, nil
}

type limitRegion struct {
	hostrt.Region
	limit *Limit
}

func (r *limitRegion) Commit(n int) error {
	before := r.Region.Committed()
	if n <= before {
		return nil
	}
	want := int64(roundUp(n, r.limit.Granule()) - before)
	if r.limit.used.Add(want) > r.limit.max {
		r.limit.used.Add(-want)
		return errors.Exhausted(errors.PhaseRecord, "commit",
			fmt.Sprintf("commit of %d bytes exceeds budget of %d", want, r.limit.max))
	}
	if err := r.Region.Commit(n); err != nil {
		r.limit.used.Add(-want)
		return err
	}
	// settle on what the inner region actually committed
	r.limit.used.Add(int64(r.Region.Committed()-before) - want)
	return nil
}

func (r *limitRegion) Release() error {
	r.limit.used.Add(-int64(r.Region.Committed()))
	return r.Region.Release()
}
