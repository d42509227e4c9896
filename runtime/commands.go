package runtime

import (
	"io"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/cmdbuf"
	"github.com/wippyai/hostrt/command"
	"github.com/wippyai/hostrt/resource"
)

// CreateCommandBuffer creates a command buffer recording for queue type qt.
// Storage is reserved from the context allocator at the configured maximum
// size and committed as commands are recorded.
func (c *Context) CreateCommandBuffer(qt hostrt.QueueType) (resource.Handle, error) {
	b, err := cmdbuf.New(c.alloc, qt, cmdbuf.WithMaxSize(c.cfg.CommandBuffer.MaxSize))
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	h, err := c.cmdbufs.Add(b)
	if err != nil {
		_ = b.Release()
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

// CommandBuffer returns the buffer behind h for direct recording.
func (c *Context) CommandBuffer(h resource.Handle) (*cmdbuf.Buffer, error) {
	return c.cmdbufs.Get(h)
}

func (c *Context) DestroyCommandBuffer(h resource.Handle) error {
	_, err := c.cmdbufs.Remove(h)
	return c.fail(err)
}

func (c *Context) Begin(h resource.Handle) error {
	b, err := c.cmdbufs.Get(h)
	if err != nil {
		return c.fail(err)
	}
	return c.fail(b.Begin())
}

func (c *Context) End(h resource.Handle) error {
	b, err := c.cmdbufs.Get(h)
	if err != nil {
		return c.fail(err)
	}
	return c.fail(b.End())
}

// Reset discards the buffer's commands and clears an Incomplete state.
func (c *Context) Reset(h resource.Handle) error {
	b, err := c.cmdbufs.Get(h)
	if err != nil {
		return c.fail(err)
	}
	b.Reset()
	return nil
}

// Disassemble writes a listing of a SubmitReady buffer to w.
func (c *Context) Disassemble(w io.Writer, h resource.Handle) error {
	b, err := c.cmdbufs.Get(h)
	if err != nil {
		return c.fail(err)
	}
	return c.fail(command.Disassemble(w, b))
}

// Record encodes p into the command buffer h.
func (c *Context) Record(h resource.Handle, p command.Payload) error {
	b, err := c.cmdbufs.Get(h)
	if err != nil {
		return c.fail(err)
	}
	return c.fail(command.Record(b, p))
}

func (c *Context) RecordNop(cb resource.Handle) error {
	return c.Record(cb, &command.Nop{})
}

// RecordCopyBuffer records a copy of size bytes between two buffers. event,
// if valid, is signaled when the copy completes.
func (c *Context) RecordCopyBuffer(cb, src resource.Handle, srcOff uint64, dst resource.Handle, dstOff, size uint64, event resource.Handle) error {
	return c.Record(cb, &command.CopyBuffer{
		Src: src, Dst: dst, SrcOffset: srcOff, DstOffset: dstOff, Size: size, Event: event,
	})
}

// RecordFillBuffer records a fill of size bytes of dst with pattern repeated.
func (c *Context) RecordFillBuffer(cb, dst resource.Handle, off, size uint64, pattern []byte, event resource.Handle) error {
	return c.Record(cb, &command.FillBuffer{Dst: dst, Offset: off, Size: size, Pattern: pattern, Event: event})
}

// RecordWriteBuffer records inline data to be written into dst at off.
func (c *Context) RecordWriteBuffer(cb, dst resource.Handle, off uint64, data []byte, event resource.Handle) error {
	return c.Record(cb, &command.WriteBuffer{Dst: dst, Offset: off, Data: data, Event: event})
}

// RecordCopyBufferToImage records an upload filling the whole image from src.
func (c *Context) RecordCopyBufferToImage(cb, src resource.Handle, srcOff uint64, dst, event resource.Handle) error {
	return c.Record(cb, &command.CopyBufferToImage{Src: src, SrcOffset: srcOff, Dst: dst, Event: event})
}

// RecordCopyImageToBuffer records a download of the whole image into dst.
func (c *Context) RecordCopyImageToBuffer(cb, src, dst resource.Handle, dstOff uint64, event resource.Handle) error {
	return c.Record(cb, &command.CopyImageToBuffer{Src: src, Dst: dst, DstOffset: dstOff, Event: event})
}

// RecordDispatch records a compute dispatch over groups. args are buffers or
// images handed to the pipeline in order.
func (c *Context) RecordDispatch(cb, pipe resource.Handle, groups [3]uint32, args []resource.Handle, event resource.Handle) error {
	return c.Record(cb, &command.Dispatch{Pipeline: pipe, Groups: groups, Args: args, Event: event})
}

// RecordDraw records a draw of count vertices starting at first into target.
func (c *Context) RecordDraw(cb, pipe, vertices, target resource.Handle, first, count, instances uint32, event resource.Handle) error {
	return c.Record(cb, &command.Draw{
		Pipeline: pipe, VertexSource: vertices, Target: target,
		First: first, Count: count, Instances: instances, Event: event,
	})
}

// RecordInsertFence records an insertion of fence, waiting on events if given.
func (c *Context) RecordInsertFence(cb, fence resource.Handle, waits ...resource.Handle) error {
	return c.Record(cb, &command.InsertFence{Fence: fence, Waits: waits})
}

// RecordSignalEvent records a signal of event once all prior work in the
// submission has completed.
func (c *Context) RecordSignalEvent(cb, event resource.Handle) error {
	return c.Record(cb, &command.SignalEvent{Event: event})
}

// RecordWaitEvents makes every later command in the submission wait on events.
func (c *Context) RecordWaitEvents(cb resource.Handle, events ...resource.Handle) error {
	return c.Record(cb, &command.WaitEvents{Events: events})
}

// RecordAcquireShared records an acquire of shared resources for the queue's
// backend.
func (c *Context) RecordAcquireShared(cb, event resource.Handle, resources ...resource.Handle) error {
	return c.Record(cb, &command.Shared{Event: event, Resources: resources})
}

// RecordReleaseShared records a release of shared resources by the queue's
// backend.
func (c *Context) RecordReleaseShared(cb, event resource.Handle, resources ...resource.Handle) error {
	return c.Record(cb, &command.Shared{Release: true, Event: event, Resources: resources})
}
