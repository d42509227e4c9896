package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/fence"
	"github.com/wippyai/hostrt/resource"
)

// CreateEvent creates an unsignaled event.
func (c *Context) CreateEvent() (resource.Handle, error) {
	h, err := c.events.Add(fence.NewEvent())
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

// DestroyEvent destroys an event. Work that signals it keeps running.
func (c *Context) DestroyEvent(h resource.Handle) error {
	_, err := c.events.Remove(h)
	return c.fail(err)
}

// EventStatus reports the event's state without blocking.
func (c *Context) EventStatus(h resource.Handle) (fence.Status, error) {
	e, err := c.events.Get(h)
	if err != nil {
		return fence.StatusUnsignaled, c.fail(err)
	}
	return e.Status(), nil
}

// WaitEvent blocks until the event's operation has completed and returns its
// failure, if any.
func (c *Context) WaitEvent(ctx context.Context, h resource.Handle) error {
	e, err := c.events.Get(h)
	if err != nil {
		return c.fail(err)
	}
	ctx, span := c.startSpan(ctx, "WaitEvent", attribute.Stringer("event", h))
	defer span.End()
	return c.fail(endSpan(span, e.Wait(ctx)))
}

// WaitEvents blocks until every event has completed. All handles are
// resolved before waiting.
func (c *Context) WaitEvents(ctx context.Context, hs ...resource.Handle) error {
	evs := make([]*fence.Event, len(hs))
	for i, h := range hs {
		e, err := c.events.Get(h)
		if err != nil {
			return c.fail(err)
		}
		if e.Token() == nil {
			return c.fail(errors.StateDetail(errors.PhaseSync, "wait-events", fmt.Sprintf("%s was never signaled", h)))
		}
		evs[i] = e
	}
	ctx, span := c.startSpan(ctx, "WaitEvents", attribute.Int("events", len(hs)))
	defer span.End()
	for _, e := range evs {
		if err := e.Wait(ctx); err != nil {
			return c.fail(endSpan(span, err))
		}
	}
	return nil
}

// CreateFence creates a fence owned by queue. It is destroyed with the queue.
func (c *Context) CreateFence(queue resource.Handle) (resource.Handle, error) {
	q, err := c.queues.Get(queue)
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	h, err := c.fences.Add(fence.New(queue, q.typ))
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	q.fences = append(q.fences, h)
	return h, nil
}

// LinkFence conditions later insertions of the fence on event, typically one
// signaled by the other backend. resource.Invalid removes the link.
func (c *Context) LinkFence(h, event resource.Handle) error {
	f, err := c.fences.Get(h)
	if err != nil {
		return c.fail(err)
	}
	if event.Valid() {
		if _, err := c.events.Get(event); err != nil {
			return c.fail(err)
		}
	}
	f.Link(event)
	return nil
}

// FenceInfo returns the fence behind h.
func (c *Context) FenceInfo(h resource.Handle) (*fence.Fence, error) {
	return c.fences.Get(h)
}

// FencePassed reports whether the fence's latest insertion has completed.
func (c *Context) FencePassed(h resource.Handle) (bool, error) {
	f, err := c.fences.Get(h)
	if err != nil {
		return false, c.fail(err)
	}
	return f.Passed(), nil
}

// WaitFence blocks until the fence's latest insertion has passed.
func (c *Context) WaitFence(ctx context.Context, h resource.Handle) error {
	f, err := c.fences.Get(h)
	if err != nil {
		return c.fail(err)
	}
	ctx, span := c.startSpan(ctx, "WaitFence", attribute.Stringer("fence", h))
	defer span.End()
	return c.fail(endSpan(span, f.Wait(ctx)))
}

func (c *Context) DestroyFence(h resource.Handle) error {
	f, err := c.fences.Remove(h)
	if err != nil {
		return c.fail(err)
	}
	if q, ok := c.queues.Lookup(f.Owner()); ok {
		q.forgetFence(h)
	}
	return nil
}

// eventToken resolves an optional event handle to its token. An absent
// handle or an unsignaled event yields nil.
func (c *Context) eventToken(h resource.Handle) (backend.Token, error) {
	if !h.Valid() {
		return nil, nil
	}
	e, err := c.events.Get(h)
	if err != nil {
		return nil, err
	}
	return e.Token(), nil
}

func (c *Context) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and returns it.
func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
