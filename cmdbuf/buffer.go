package cmdbuf

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"iter"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/errors"
)

const (
	// HeaderSize is the size of a record header: tag and payload length.
	HeaderSize = 4

	// MaxPayload is the largest payload one record can carry.
	MaxPayload = 1<<16 - 1

	// DefaultMaxSize bounds the total size of a buffer.
	DefaultMaxSize = 16 << 20
)

var (
	// ErrBufferTooSmall is wrapped by append errors that would exceed the maximum size.
	ErrBufferTooSmall = stderrors.New("command buffer too small")

	// ErrEndOfBuffer is returned by CommandAt when the cursor reaches the end.
	ErrEndOfBuffer = stderrors.New("end of command buffer")
)

// Tag identifies a command kind.
type Tag uint16

// Command is one decoded record. Payload aliases buffer storage.
type Command struct {
	Payload []byte
	Tag     Tag
}

// Size returns the encoded size of the record.
func (c Command) Size() int { return HeaderSize + len(c.Payload) }

type options struct {
	maxSize int
}

// Option configures a Buffer.
type Option func(*options)

// WithMaxSize sets the fixed maximum size in bytes.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// Buffer records commands for one queue type.
type Buffer struct {
	region    hostrt.Region
	granule   int
	used      int
	count     int
	mapOff    int
	mapSize   int
	mapTag    Tag
	queueType hostrt.QueueType
	state     State
}

// New reserves a buffer's storage from alloc. Nothing is committed until the
// first append.
func New(alloc hostrt.Allocator, qt hostrt.QueueType, opts ...Option) (*Buffer, error) {
	o := options{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}
	if !qt.Single() {
		return nil, errors.InvalidArgument(errors.PhaseCreate, "new-command-buffer",
			fmt.Sprintf("queue type %s must name exactly one queue kind", qt))
	}
	if o.maxSize < HeaderSize {
		return nil, errors.InvalidArgument(errors.PhaseCreate, "new-command-buffer",
			fmt.Sprintf("max size %d below record header size", o.maxSize))
	}
	region, err := alloc.Reserve(o.maxSize)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		region:    region,
		granule:   alloc.Granule(),
		queueType: qt,
		state:     StateUninitialized,
	}, nil
}

func (b *Buffer) QueueType() hostrt.QueueType { return b.queueType }
func (b *Buffer) State() State                { return b.state }

// Used returns the number of recorded bytes.
func (b *Buffer) Used() int { return b.used }

// Committed returns the number of bytes backed by committed storage.
func (b *Buffer) Committed() int {
	if b.region == nil {
		return 0
	}
	return b.region.Committed()
}

// MaxSize returns the fixed maximum size.
func (b *Buffer) MaxSize() int {
	if b.region == nil {
		return 0
	}
	return b.region.Reserved()
}

// Count returns the number of recorded commands.
func (b *Buffer) Count() int { return b.count }

// Begin starts recording. A SubmitReady buffer may begin again; its previous
// contents are discarded.
func (b *Buffer) Begin() error {
	switch b.state {
	case StateUninitialized, StateSubmitReady:
	default:
		return errors.WrongState(errors.PhaseRecord, "begin", b.state)
	}
	b.used = 0
	b.count = 0
	b.state = StateBuilding
	return nil
}

// End finishes recording and makes the buffer readable and submittable.
func (b *Buffer) End() error {
	if b.state != StateBuilding {
		return errors.WrongState(errors.PhaseRecord, "end", b.state)
	}
	b.state = StateSubmitReady
	return nil
}

// Reset discards all recorded commands from any state and clears Incomplete.
// Committed storage is kept for reuse.
func (b *Buffer) Reset() {
	if b.state == stateReleased {
		return
	}
	b.used = 0
	b.count = 0
	b.mapOff = 0
	b.mapSize = 0
	b.state = StateUninitialized
}

// Release returns the buffer's storage to its allocator. The buffer is
// unusable afterwards.
func (b *Buffer) Release() error {
	if b.state == stateReleased {
		return nil
	}
	b.state = stateReleased
	err := b.region.Release()
	b.region = nil
	return err
}

// Drop releases storage when the buffer is evicted from a registry.
func (b *Buffer) Drop() {
	_ = b.Release()
}

// reserve makes room for n more bytes at the end of the recorded stream.
func (b *Buffer) reserve(op string, n int) error {
	end := b.used + n
	if end > b.region.Reserved() {
		b.state = StateIncomplete
		return errors.New(errors.PhaseRecord, errors.KindResourceExhausted).
			Op(op).
			Cause(ErrBufferTooSmall).
			Detail("%d bytes needed, %d of %d used", n, b.used, b.region.Reserved()).
			Build()
	}
	if end <= b.region.Committed() {
		return nil
	}
	target := (end + b.granule - 1) &^ (b.granule - 1)
	if target > b.region.Reserved() {
		target = b.region.Reserved()
	}
	if err := b.region.Commit(target); err != nil {
		b.state = StateIncomplete
		return errors.New(errors.PhaseRecord, errors.KindResourceExhausted).
			Op(op).
			Cause(err).
			Detail("commit %d bytes", target).
			Build()
	}
	return nil
}

func putHeader(dst []byte, tag Tag, n int) {
	binary.LittleEndian.PutUint16(dst[0:], uint16(tag))
	binary.LittleEndian.PutUint16(dst[2:], uint16(n))
}

// Append records one command.
func (b *Buffer) Append(tag Tag, payload []byte) error {
	if b.state != StateBuilding {
		return errors.WrongState(errors.PhaseRecord, "append", b.state)
	}
	if len(payload) > MaxPayload {
		return errors.InvalidArgument(errors.PhaseRecord, "append",
			fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), MaxPayload))
	}
	n := HeaderSize + len(payload)
	if err := b.reserve("append", n); err != nil {
		return err
	}
	mem := b.region.Bytes()[b.used : b.used+n]
	putHeader(mem, tag, len(payload))
	copy(mem[HeaderSize:], payload)
	b.used += n
	b.count++
	return nil
}

// MapAppend reserves room for a payload of up to size bytes and returns it for
// the caller to fill in place. UnmapAppend commits the record. Only one
// map-append may be outstanding.
func (b *Buffer) MapAppend(tag Tag, size int) ([]byte, error) {
	if b.state != StateBuilding {
		return nil, errors.WrongState(errors.PhaseRecord, "map-append", b.state)
	}
	if size < 0 || size > MaxPayload {
		return nil, errors.InvalidArgument(errors.PhaseRecord, "map-append",
			fmt.Sprintf("payload of %d bytes outside 0..%d", size, MaxPayload))
	}
	if err := b.reserve("map-append", HeaderSize+size); err != nil {
		return nil, err
	}
	b.mapOff = b.used
	b.mapSize = size
	b.mapTag = tag
	b.state = StateMapAppend
	start := b.used + HeaderSize
	return b.region.Bytes()[start : start+size : start+size], nil
}

// UnmapAppend commits the first written bytes of the outstanding map-append.
func (b *Buffer) UnmapAppend(written int) error {
	if b.state != StateMapAppend {
		return errors.WrongState(errors.PhaseRecord, "unmap-append", b.state)
	}
	if written < 0 || written > b.mapSize {
		return errors.InvalidArgument(errors.PhaseRecord, "unmap-append",
			fmt.Sprintf("wrote %d bytes into a %d byte mapping", written, b.mapSize))
	}
	putHeader(b.region.Bytes()[b.mapOff:], b.mapTag, written)
	b.used = b.mapOff + HeaderSize + written
	b.count++
	b.mapSize = 0
	b.state = StateBuilding
	return nil
}

// CommandAt decodes the record at cursor and returns it with the cursor of
// the next record. It returns ErrEndOfBuffer when cursor equals Used.
func (b *Buffer) CommandAt(cursor int) (Command, int, error) {
	if b.state != StateSubmitReady {
		return Command{}, cursor, errors.WrongState(errors.PhaseRecord, "command-at", b.state)
	}
	if cursor == b.used {
		return Command{}, cursor, ErrEndOfBuffer
	}
	if cursor < 0 || cursor+HeaderSize > b.used {
		return Command{}, cursor, errors.InvalidArgument(errors.PhaseRecord, "command-at",
			fmt.Sprintf("cursor %d outside 0..%d", cursor, b.used))
	}
	mem := b.region.Bytes()
	tag := Tag(binary.LittleEndian.Uint16(mem[cursor:]))
	n := int(binary.LittleEndian.Uint16(mem[cursor+2:]))
	start := cursor + HeaderSize
	if start+n > b.used {
		return Command{}, cursor, errors.InvalidArgument(errors.PhaseRecord, "command-at",
			fmt.Sprintf("record at %d runs past end (%d+%d > %d)", cursor, start, n, b.used))
	}
	return Command{Tag: tag, Payload: mem[start : start+n : start+n]}, start + n, nil
}

// All iterates over the recorded commands with their starting offsets.
// Iteration stops silently unless the buffer is SubmitReady.
func (b *Buffer) All() iter.Seq2[int, Command] {
	return func(yield func(int, Command) bool) {
		cursor := 0
		for {
			cmd, next, err := b.CommandAt(cursor)
			if err != nil {
				return
			}
			if !yield(cursor, cmd) {
				return
			}
			cursor = next
		}
	}
}
