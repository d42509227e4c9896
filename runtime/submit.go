package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/cmdbuf"
	"github.com/wippyai/hostrt/command"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// SubmitError reports the command that stopped a submission. Commands
// before it were issued and keep running; nothing is rolled back.
type SubmitError struct {
	Cause error
	// Index and Offset locate the failing record in the command buffer.
	Index  int
	Offset int
	// Issued is the number of commands handed to the backend.
	Issued int
	Tag    cmdbuf.Tag
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit: command %d (%s at offset %d, %d issued): %v",
		e.Index, command.Name(e.Tag), e.Offset, e.Issued, e.Cause)
}

func (e *SubmitError) Unwrap() error { return e.Cause }

// Submit executes the commands recorded in cb on queue. Every command is
// validated and handed to the queue's backend in order; the call returns
// once the last command is issued, not when it completes. Completion is
// observed through events and fences.
//
// The buffer must be SubmitReady and recorded for a queue type matching the
// queue. The first failing command stops the submission with a *SubmitError.
func (c *Context) Submit(ctx context.Context, queue, cb resource.Handle) error {
	q, err := c.queues.Get(queue)
	if err != nil {
		return c.fail(err)
	}
	b, err := c.cmdbufs.Get(cb)
	if err != nil {
		return c.fail(err)
	}
	if b.State() != cmdbuf.StateSubmitReady {
		return c.fail(errors.WrongState(errors.PhaseSubmit, "submit", b.State()))
	}
	if !b.QueueType().Intersects(q.typ) {
		return c.fail(errors.InvalidArgument(errors.PhaseSubmit, "submit",
			fmt.Sprintf("%s command buffer cannot run on a %s queue", b.QueueType(), q.typ)))
	}

	_, span := c.startSpan(ctx, "Submit",
		attribute.Stringer("queue", queue),
		attribute.Stringer("queue.type", q.typ),
		attribute.Int("commands", b.Count()),
		attribute.Int("bytes", b.Used()))
	defer span.End()

	start := time.Now()
	x := &executor{c: c, q: q}
	err = x.run(b)
	c.metrics.RecordSubmit(q.typ.String(), b.Used(), time.Since(start), err)
	if err != nil {
		c.log.Debug("submit failed", zap.Stringer("queue", queue), zap.Error(err))
		return endSpan(span, err)
	}
	span.SetAttributes(attribute.Int("issued", x.count))
	return nil
}

// executor issues one submission's commands to a backend queue.
type executor struct {
	c *Context
	q *Queue
	// waits gate every later command of the submission.
	waits []backend.Token
	// issued holds the tokens of work issued so far.
	issued []backend.Token
	count  int
}

func (x *executor) run(b *cmdbuf.Buffer) error {
	cursor := 0
	for index := 0; ; index++ {
		cmd, next, err := b.CommandAt(cursor)
		if stderrors.Is(err, cmdbuf.ErrEndOfBuffer) {
			return nil
		}
		if err == nil {
			err = x.exec(cmd)
		}
		if err != nil {
			return &SubmitError{Index: index, Offset: cursor, Tag: cmd.Tag, Issued: x.count, Cause: err}
		}
		x.count++
		x.c.metrics.RecordCommand(command.Name(cmd.Tag))
		cursor = next
	}
}

func (x *executor) exec(cmd cmdbuf.Command) error {
	if !command.Known(cmd.Tag) {
		return errors.NotImplemented(errors.PhaseSubmit, "submit", command.Name(cmd.Tag))
	}
	if !command.Compatible(cmd.Tag, x.q.typ) {
		return errors.InvalidArgument(errors.PhaseSubmit, "submit",
			fmt.Sprintf("%s cannot run on a %s queue", command.Name(cmd.Tag), x.q.typ))
	}
	p, err := command.Decode(cmd)
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case *command.Nop:
		return nil
	case *command.CopyBuffer:
		return x.copyBuffer(p)
	case *command.FillBuffer:
		return x.fillBuffer(p)
	case *command.WriteBuffer:
		return x.writeBuffer(p)
	case *command.CopyBufferToImage:
		return x.copyBufferToImage(p)
	case *command.CopyImageToBuffer:
		return x.copyImageToBuffer(p)
	case *command.Dispatch:
		return x.dispatch(p)
	case *command.Draw:
		return x.draw(p)
	case *command.InsertFence:
		return x.insertFence(p)
	case *command.SignalEvent:
		return x.signalEvent(p)
	case *command.WaitEvents:
		return x.waitEvents(p)
	case *command.Shared:
		if p.Release {
			return x.releaseShared(p)
		}
		return x.acquireShared(p)
	}
	return errors.NotImplemented(errors.PhaseSubmit, "submit", command.Name(cmd.Tag))
}
