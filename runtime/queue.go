package runtime

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// Queue binds a queue type to a backend queue on one device.
type Queue struct {
	q      backend.Queue
	fences []resource.Handle
	device resource.Handle
	group  resource.Handle
	typ    hostrt.QueueType
}

func (q *Queue) Type() hostrt.QueueType     { return q.typ }
func (q *Queue) Device() resource.Handle    { return q.device }
func (q *Queue) Group() resource.Handle     { return q.group }
func (q *Queue) Ordering() backend.Ordering { return q.q.Ordering() }
func (q *Queue) Backend() backend.Queue     { return q.q }

func (q *Queue) Drop() { _ = q.q.Close() }

// backendKind maps a queue type to the backend executing it. Render queues
// run on the render backend; compute and transfer queues on the compute one.
func backendKind(qt hostrt.QueueType) backend.Kind {
	if qt == hostrt.QueueRender {
		return backend.KindRender
	}
	return backend.KindCompute
}

func ordering(qt hostrt.QueueType) backend.Ordering {
	if qt.InOrder() {
		return backend.InOrder
	}
	return backend.OutOfOrder
}

// CreateQueue creates a queue of type qt on target, a device or group handle.
// qt must name exactly one queue kind.
func (c *Context) CreateQueue(target resource.Handle, qt hostrt.QueueType) (resource.Handle, error) {
	if !qt.Single() {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create queue",
			fmt.Sprintf("queue type %s must name exactly one kind", qt)))
	}
	devH, groupH, dev, err := c.resolveTarget(target, qt)
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	bq, err := dev.dev.NewQueue(backendKind(qt), ordering(qt))
	if err != nil {
		return resource.Invalid, c.fail(errors.FromBackend(errors.PhaseCreate, "create queue", err))
	}
	h, err := c.queues.Add(&Queue{q: bq, device: devH, group: groupH, typ: qt})
	if err != nil {
		_ = bq.Close()
		return resource.Invalid, c.fail(err)
	}
	dev.queues++
	c.log.Debug("queue created", zap.Stringer("queue", h), zap.Stringer("type", qt), zap.Stringer("ordering", bq.Ordering()))
	return h, nil
}

// QueueInfo returns the queue object behind h.
func (c *Context) QueueInfo(h resource.Handle) (*Queue, error) {
	return c.queues.Get(h)
}

// FinishQueue blocks until all work submitted to the queue has completed.
func (c *Context) FinishQueue(ctx context.Context, h resource.Handle) error {
	q, err := c.queues.Get(h)
	if err != nil {
		return c.fail(err)
	}
	return c.fail(errors.FromBackend(errors.PhaseSync, "finish queue", q.q.Finish(ctx)))
}

// DestroyQueue destroys the queue and every fence it owns. Work still
// waiting on dependencies is abandoned.
func (c *Context) DestroyQueue(h resource.Handle) error {
	q, err := c.queues.Get(h)
	if err != nil {
		return c.fail(err)
	}
	for _, fh := range q.fences {
		_, _ = c.fences.Remove(fh)
	}
	q.fences = nil
	if _, err := c.queues.Remove(h); err != nil {
		return err
	}
	if d, ok := c.devices.Lookup(q.device); ok {
		d.queues--
	}
	return nil
}

func (q *Queue) forgetFence(h resource.Handle) {
	if i := slices.Index(q.fences, h); i >= 0 {
		q.fences = slices.Delete(q.fences, i, i+1)
	}
}
