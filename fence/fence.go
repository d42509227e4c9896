package fence

import (
	"context"
	"fmt"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// Fence is an in-stream barrier owned by one queue.
type Fence struct {
	tok    backend.Token
	owner  resource.Handle
	linked resource.Handle
	qt     hostrt.QueueType
}

// New creates an unsignaled fence owned by the queue with handle owner.
func New(owner resource.Handle, qt hostrt.QueueType) *Fence {
	return &Fence{owner: owner, qt: qt, linked: resource.Invalid}
}

func (f *Fence) Owner() resource.Handle      { return f.owner }
func (f *Fence) QueueType() hostrt.QueueType { return f.qt }
func (f *Fence) Token() backend.Token        { return f.tok }
func (f *Fence) Linked() resource.Handle     { return f.linked }
func (f *Fence) Status() Status              { return statusOf(f.tok) }
func (f *Fence) Link(event resource.Handle)  { f.linked = event }

// Insert places the fence into q's stream, replacing and releasing any token
// from an earlier insertion.
//
// On an in-order queue the barrier covers all previously enqueued work. On an
// out-of-order queue it covers waits, or everything currently outstanding on
// q when waits is empty. In both cases it is further conditioned on every
// non-nil token in conds, such as a linked event from the other backend.
func (f *Fence) Insert(q backend.Queue, waits []backend.Token, conds ...backend.Token) error {
	if f.tok != nil {
		f.tok.Release()
		f.tok = nil
	}

	deps := make([]backend.Token, 0, len(waits)+len(conds)+1)
	deps = append(deps, waits...)
	var all backend.Token
	if q.Ordering() == backend.OutOfOrder && len(deps) == 0 {
		var err error
		if all, err = q.Barrier(nil); err != nil {
			return errors.FromBackend(errors.PhaseSync, "insert-fence", err)
		}
		deps = append(deps, all)
	}
	for _, c := range conds {
		if c != nil {
			deps = append(deps, c)
		}
	}

	tok, err := q.Barrier(deps)
	if all != nil {
		all.Release()
	}
	if err != nil {
		return errors.FromBackend(errors.PhaseSync, "insert-fence", err)
	}
	f.tok = tok
	return nil
}

// Wait blocks until the fence has passed.
func (f *Fence) Wait(ctx context.Context) error {
	if f.tok == nil {
		return errors.StateDetail(errors.PhaseSync, "wait-fence", "fence was never inserted")
	}
	return errors.FromBackend(errors.PhaseSync, "wait-fence", backend.Wait(ctx, f.tok))
}

// Passed reports whether the most recent insertion has completed.
func (f *Fence) Passed() bool {
	return f.tok != nil && backend.Signaled(f.tok)
}

// Drop releases the held token.
func (f *Fence) Drop() {
	if f.tok != nil {
		f.tok.Release()
		f.tok = nil
	}
}

func (f *Fence) String() string {
	return fmt.Sprintf("fence(owner=%s %s %s)", f.owner, f.qt, f.Status())
}
