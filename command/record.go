package command

import (
	"fmt"
	"io"

	"github.com/wippyai/hostrt/cmdbuf"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// Absent reports whether an optional handle field is unset. Both the zero
// handle and resource.Invalid mean "none".
func Absent(h resource.Handle) bool {
	return h == 0 || h == resource.Invalid
}

// Record validates p and encodes it directly into b through map-append.
func Record(b *cmdbuf.Buffer, p Payload) error {
	if !Compatible(p.Tag(), b.QueueType()) {
		return errors.InvalidArgument(errors.PhaseRecord, "record",
			fmt.Sprintf("%s cannot run on %s queues", Name(p.Tag()), b.QueueType()))
	}
	if err := p.Validate(); err != nil {
		return err
	}
	n := p.Len()
	if n > cmdbuf.MaxPayload {
		return errors.InvalidArgument(errors.PhaseRecord, "record",
			fmt.Sprintf("%s payload of %d bytes exceeds %d", Name(p.Tag()), n, cmdbuf.MaxPayload))
	}
	dst, err := b.MapAppend(p.Tag(), n)
	if err != nil {
		return err
	}
	w := NewWriter(dst)
	p.Encode(w)
	return b.UnmapAppend(w.Len())
}

// New returns an empty payload for tag.
func New(tag cmdbuf.Tag) (Payload, error) {
	switch tag {
	case TagNop:
		return &Nop{}, nil
	case TagCopyBuffer:
		return &CopyBuffer{}, nil
	case TagFillBuffer:
		return &FillBuffer{}, nil
	case TagWriteBuffer:
		return &WriteBuffer{}, nil
	case TagCopyBufferToImage:
		return &CopyBufferToImage{}, nil
	case TagCopyImageToBuffer:
		return &CopyImageToBuffer{}, nil
	case TagDispatch:
		return &Dispatch{}, nil
	case TagDraw:
		return &Draw{}, nil
	case TagInsertFence:
		return &InsertFence{}, nil
	case TagSignalEvent:
		return &SignalEvent{}, nil
	case TagWaitEvents:
		return &WaitEvents{}, nil
	case TagAcquireShared:
		return &Shared{}, nil
	case TagReleaseShared:
		return &Shared{Release: true}, nil
	}
	return nil, errors.NotImplemented(errors.PhaseSubmit, "decode", Name(tag))
}

// Decode parses a recorded command into its payload type.
func Decode(cmd cmdbuf.Command) (Payload, error) {
	p, err := New(cmd.Tag)
	if err != nil {
		return nil, err
	}
	if err := p.Decode(cmd.Payload); err != nil {
		return nil, err
	}
	return p, nil
}

// Describe renders one command as a single line of text.
func Describe(cmd cmdbuf.Command) string {
	p, err := Decode(cmd)
	if err != nil {
		return fmt.Sprintf("%s <%d bytes: %v>", Name(cmd.Tag), len(cmd.Payload), err)
	}
	return p.String()
}

// Disassemble writes one line per recorded command, prefixed by its index
// and byte offset. b must be SubmitReady.
func Disassemble(w io.Writer, b *cmdbuf.Buffer) error {
	if b.State() != cmdbuf.StateSubmitReady {
		return errors.WrongState(errors.PhaseRecord, "disassemble", b.State())
	}
	i := 0
	for off, cmd := range b.All() {
		if _, err := fmt.Fprintf(w, "%4d  %06x  %s\n", i, off, Describe(cmd)); err != nil {
			return err
		}
		i++
	}
	return nil
}
