package command

import (
	"fmt"
	"strings"

	"github.com/wippyai/hostrt/cmdbuf"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// MaxPattern is the largest FillBuffer pattern in bytes.
const MaxPattern = 128

// Payload is one command's decoded arguments.
type Payload interface {
	Tag() cmdbuf.Tag
	// Len returns the encoded payload length in bytes.
	Len() int
	// Validate checks constraints that hold independently of any registry.
	Validate() error
	Encode(w *Writer)
	Decode(p []byte) error
	fmt.Stringer
}

// Nop does nothing.
type Nop struct{}

func (*Nop) Tag() cmdbuf.Tag       { return TagNop }
func (*Nop) Len() int              { return 0 }
func (*Nop) Validate() error       { return nil }
func (*Nop) Encode(*Writer)        {}
func (*Nop) Decode(p []byte) error { return NewReader(p).Finish() }
func (*Nop) String() string        { return "Nop" }

// CopyBuffer copies Size bytes from Src+SrcOffset to Dst+DstOffset.
type CopyBuffer struct {
	Src, Dst             resource.Handle
	SrcOffset, DstOffset uint64
	Size                 uint64
	Event                resource.Handle
}

func (*CopyBuffer) Tag() cmdbuf.Tag { return TagCopyBuffer }
func (*CopyBuffer) Len() int        { return 3*handleSize + 3*8 }
func (*CopyBuffer) Validate() error { return nil }

func (c *CopyBuffer) Encode(w *Writer) {
	w.Handle(c.Src)
	w.Handle(c.Dst)
	w.U64(c.SrcOffset)
	w.U64(c.DstOffset)
	w.U64(c.Size)
	w.Handle(c.Event)
}

func (c *CopyBuffer) Decode(p []byte) error {
	r := NewReader(p)
	c.Src = r.Handle()
	c.Dst = r.Handle()
	c.SrcOffset = r.U64()
	c.DstOffset = r.U64()
	c.Size = r.U64()
	c.Event = r.Handle()
	return r.Finish()
}

func (c *CopyBuffer) String() string {
	return fmt.Sprintf("CopyBuffer src=%s+%d dst=%s+%d size=%d event=%s",
		c.Src, c.SrcOffset, c.Dst, c.DstOffset, c.Size, c.Event)
}

// FillBuffer repeats Pattern over Size bytes of Dst starting at Offset.
type FillBuffer struct {
	Dst     resource.Handle
	Offset  uint64
	Size    uint64
	Event   resource.Handle
	Pattern []byte
}

func (*FillBuffer) Tag() cmdbuf.Tag { return TagFillBuffer }
func (c *FillBuffer) Len() int      { return 2*handleSize + 2*8 + len(c.Pattern) }

func (c *FillBuffer) Validate() error {
	if n := len(c.Pattern); n == 0 || n > MaxPattern {
		return errors.InvalidArgument(errors.PhaseRecord, "fill-buffer",
			fmt.Sprintf("pattern of %d bytes outside 1..%d", n, MaxPattern))
	}
	if c.Size%uint64(len(c.Pattern)) != 0 {
		return errors.InvalidArgument(errors.PhaseRecord, "fill-buffer",
			fmt.Sprintf("size %d is not a multiple of the %d byte pattern", c.Size, len(c.Pattern)))
	}
	return nil
}

func (c *FillBuffer) Encode(w *Writer) {
	w.Handle(c.Dst)
	w.U64(c.Offset)
	w.U64(c.Size)
	w.Handle(c.Event)
	w.Tail(c.Pattern)
}

func (c *FillBuffer) Decode(p []byte) error {
	r := NewReader(p)
	c.Dst = r.Handle()
	c.Offset = r.U64()
	c.Size = r.U64()
	c.Event = r.Handle()
	c.Pattern = r.Tail()
	if err := r.Finish(); err != nil {
		return err
	}
	return c.Validate()
}

func (c *FillBuffer) String() string {
	return fmt.Sprintf("FillBuffer dst=%s+%d size=%d pattern=%x event=%s",
		c.Dst, c.Offset, c.Size, c.Pattern, c.Event)
}

// WriteBuffer writes inline Data into Dst at Offset.
type WriteBuffer struct {
	Dst    resource.Handle
	Offset uint64
	Event  resource.Handle
	Data   []byte
}

// MaxWriteData is the most inline data one WriteBuffer can carry.
const MaxWriteData = cmdbuf.MaxPayload - 2*handleSize - 8

func (*WriteBuffer) Tag() cmdbuf.Tag { return TagWriteBuffer }
func (c *WriteBuffer) Len() int      { return 2*handleSize + 8 + len(c.Data) }

func (c *WriteBuffer) Validate() error {
	if len(c.Data) > MaxWriteData {
		return errors.InvalidArgument(errors.PhaseRecord, "write-buffer",
			fmt.Sprintf("%d bytes of inline data exceeds %d", len(c.Data), MaxWriteData))
	}
	return nil
}

func (c *WriteBuffer) Encode(w *Writer) {
	w.Handle(c.Dst)
	w.U64(c.Offset)
	w.Handle(c.Event)
	w.Tail(c.Data)
}

func (c *WriteBuffer) Decode(p []byte) error {
	r := NewReader(p)
	c.Dst = r.Handle()
	c.Offset = r.U64()
	c.Event = r.Handle()
	c.Data = r.Tail()
	return r.Finish()
}

func (c *WriteBuffer) String() string {
	return fmt.Sprintf("WriteBuffer dst=%s+%d len=%d event=%s", c.Dst, c.Offset, len(c.Data), c.Event)
}

// CopyBufferToImage uploads a whole image from Src starting at SrcOffset.
type CopyBufferToImage struct {
	Src       resource.Handle
	Dst       resource.Handle
	SrcOffset uint64
	Event     resource.Handle
}

func (*CopyBufferToImage) Tag() cmdbuf.Tag { return TagCopyBufferToImage }
func (*CopyBufferToImage) Len() int        { return 3*handleSize + 8 }
func (*CopyBufferToImage) Validate() error { return nil }

func (c *CopyBufferToImage) Encode(w *Writer) {
	w.Handle(c.Src)
	w.Handle(c.Dst)
	w.U64(c.SrcOffset)
	w.Handle(c.Event)
}

func (c *CopyBufferToImage) Decode(p []byte) error {
	r := NewReader(p)
	c.Src = r.Handle()
	c.Dst = r.Handle()
	c.SrcOffset = r.U64()
	c.Event = r.Handle()
	return r.Finish()
}

func (c *CopyBufferToImage) String() string {
	return fmt.Sprintf("CopyBufferToImage src=%s+%d dst=%s event=%s", c.Src, c.SrcOffset, c.Dst, c.Event)
}

// CopyImageToBuffer downloads a whole image into Dst at DstOffset.
type CopyImageToBuffer struct {
	Src       resource.Handle
	Dst       resource.Handle
	DstOffset uint64
	Event     resource.Handle
}

func (*CopyImageToBuffer) Tag() cmdbuf.Tag { return TagCopyImageToBuffer }
func (*CopyImageToBuffer) Len() int        { return 3*handleSize + 8 }
func (*CopyImageToBuffer) Validate() error { return nil }

func (c *CopyImageToBuffer) Encode(w *Writer) {
	w.Handle(c.Src)
	w.Handle(c.Dst)
	w.U64(c.DstOffset)
	w.Handle(c.Event)
}

func (c *CopyImageToBuffer) Decode(p []byte) error {
	r := NewReader(p)
	c.Src = r.Handle()
	c.Dst = r.Handle()
	c.DstOffset = r.U64()
	c.Event = r.Handle()
	return r.Finish()
}

func (c *CopyImageToBuffer) String() string {
	return fmt.Sprintf("CopyImageToBuffer src=%s dst=%s+%d event=%s", c.Src, c.Dst, c.DstOffset, c.Event)
}

// Dispatch runs a compute pipeline over a grid of work groups.
type Dispatch struct {
	Pipeline resource.Handle
	Groups   [3]uint32
	Event    resource.Handle
	Args     []resource.Handle
}

func (*Dispatch) Tag() cmdbuf.Tag { return TagDispatch }
func (c *Dispatch) Len() int      { return 2*handleSize + 3*4 + 2 + len(c.Args)*handleSize }

func (c *Dispatch) Validate() error {
	return checkList("dispatch", len(c.Args), 2*handleSize+3*4+2)
}

func (c *Dispatch) Encode(w *Writer) {
	w.Handle(c.Pipeline)
	for _, g := range c.Groups {
		w.U32(g)
	}
	w.Handle(c.Event)
	w.Handles(c.Args)
}

func (c *Dispatch) Decode(p []byte) error {
	r := NewReader(p)
	c.Pipeline = r.Handle()
	for i := range c.Groups {
		c.Groups[i] = r.U32()
	}
	c.Event = r.Handle()
	c.Args = r.Handles()
	return r.Finish()
}

func (c *Dispatch) String() string {
	return fmt.Sprintf("Dispatch pipeline=%s groups=%dx%dx%d args=[%s] event=%s",
		c.Pipeline, c.Groups[0], c.Groups[1], c.Groups[2], joinHandles(c.Args), c.Event)
}

// Draw renders Count vertices from First, Instances times, into Target.
type Draw struct {
	Pipeline     resource.Handle
	VertexSource resource.Handle
	Target       resource.Handle
	First        uint32
	Count        uint32
	Instances    uint32
	Event        resource.Handle
}

func (*Draw) Tag() cmdbuf.Tag { return TagDraw }
func (*Draw) Len() int        { return 4*handleSize + 3*4 }
func (*Draw) Validate() error { return nil }

func (c *Draw) Encode(w *Writer) {
	w.Handle(c.Pipeline)
	w.Handle(c.VertexSource)
	w.Handle(c.Target)
	w.U32(c.First)
	w.U32(c.Count)
	w.U32(c.Instances)
	w.Handle(c.Event)
}

func (c *Draw) Decode(p []byte) error {
	r := NewReader(p)
	c.Pipeline = r.Handle()
	c.VertexSource = r.Handle()
	c.Target = r.Handle()
	c.First = r.U32()
	c.Count = r.U32()
	c.Instances = r.U32()
	c.Event = r.Handle()
	return r.Finish()
}

func (c *Draw) String() string {
	return fmt.Sprintf("Draw pipeline=%s vertices=%s target=%s first=%d count=%d instances=%d event=%s",
		c.Pipeline, c.VertexSource, c.Target, c.First, c.Count, c.Instances, c.Event)
}

// InsertFence inserts Fence into the stream. On out-of-order queues Waits
// lists the events the fence waits for; empty means all outstanding work.
type InsertFence struct {
	Fence resource.Handle
	Waits []resource.Handle
}

func (*InsertFence) Tag() cmdbuf.Tag { return TagInsertFence }
func (c *InsertFence) Len() int      { return handleSize + 2 + len(c.Waits)*handleSize }
func (c *InsertFence) Validate() error {
	return checkList("insert-fence", len(c.Waits), handleSize+2)
}

func (c *InsertFence) Encode(w *Writer) {
	w.Handle(c.Fence)
	w.Handles(c.Waits)
}

func (c *InsertFence) Decode(p []byte) error {
	r := NewReader(p)
	c.Fence = r.Handle()
	c.Waits = r.Handles()
	return r.Finish()
}

func (c *InsertFence) String() string {
	return fmt.Sprintf("InsertFence fence=%s waits=[%s]", c.Fence, joinHandles(c.Waits))
}

// SignalEvent associates Event with completion of everything issued so far
// in the submission.
type SignalEvent struct {
	Event resource.Handle
}

func (*SignalEvent) Tag() cmdbuf.Tag { return TagSignalEvent }
func (*SignalEvent) Len() int        { return handleSize }
func (*SignalEvent) Validate() error { return nil }

func (c *SignalEvent) Encode(w *Writer) { w.Handle(c.Event) }

func (c *SignalEvent) Decode(p []byte) error {
	r := NewReader(p)
	c.Event = r.Handle()
	return r.Finish()
}

func (c *SignalEvent) String() string { return fmt.Sprintf("SignalEvent event=%s", c.Event) }

// WaitEvents makes every later command in the submission wait for Events.
type WaitEvents struct {
	Events []resource.Handle
}

func (*WaitEvents) Tag() cmdbuf.Tag { return TagWaitEvents }
func (c *WaitEvents) Len() int      { return 2 + len(c.Events)*handleSize }
func (c *WaitEvents) Validate() error {
	return checkList("wait-events", len(c.Events), 2)
}

func (c *WaitEvents) Encode(w *Writer) { w.Handles(c.Events) }

func (c *WaitEvents) Decode(p []byte) error {
	r := NewReader(p)
	c.Events = r.Handles()
	return r.Finish()
}

func (c *WaitEvents) String() string {
	return fmt.Sprintf("WaitEvents events=[%s]", joinHandles(c.Events))
}

// Shared is the payload of AcquireShared and ReleaseShared: an explicit
// handoff of shared resources to or from the submitting queue's backend.
type Shared struct {
	Release   bool
	Event     resource.Handle
	Resources []resource.Handle
}

func (c *Shared) Tag() cmdbuf.Tag {
	if c.Release {
		return TagReleaseShared
	}
	return TagAcquireShared
}

func (c *Shared) Len() int { return handleSize + 2 + len(c.Resources)*handleSize }
func (c *Shared) Validate() error {
	return checkList("shared", len(c.Resources), handleSize+2)
}

func (c *Shared) Encode(w *Writer) {
	w.Handle(c.Event)
	w.Handles(c.Resources)
}

func (c *Shared) Decode(p []byte) error {
	r := NewReader(p)
	c.Event = r.Handle()
	c.Resources = r.Handles()
	return r.Finish()
}

func (c *Shared) String() string {
	return fmt.Sprintf("%s resources=[%s] event=%s", Name(c.Tag()), joinHandles(c.Resources), c.Event)
}

func maxList(fixed int) int {
	n := (cmdbuf.MaxPayload - fixed) / handleSize
	if n > 0xFFFF {
		n = 0xFFFF
	}
	return n
}

func checkList(op string, n, fixed int) error {
	if n > maxList(fixed) {
		return errors.InvalidArgument(errors.PhaseRecord, op,
			fmt.Sprintf("%d handles do not fit in one record", n))
	}
	return nil
}

func joinHandles(hs []resource.Handle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = h.String()
	}
	return strings.Join(parts, " ")
}
