package command

import (
	"fmt"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/cmdbuf"
)

// Command tags. Zero is never a valid tag.
const (
	TagNop cmdbuf.Tag = iota + 1
	TagCopyBuffer
	TagFillBuffer
	TagWriteBuffer
	TagCopyBufferToImage
	TagCopyImageToBuffer
	TagDispatch
	TagDraw
	TagInsertFence
	TagSignalEvent
	TagWaitEvents
	TagAcquireShared
	TagReleaseShared

	tagCount
)

type tagInfo struct {
	name   string
	queues hostrt.QueueType
}

var tags = [tagCount]tagInfo{
	TagNop:               {"Nop", hostrt.QueueAll},
	TagCopyBuffer:        {"CopyBuffer", hostrt.QueueAll},
	TagFillBuffer:        {"FillBuffer", hostrt.QueueAll},
	TagWriteBuffer:       {"WriteBuffer", hostrt.QueueAll},
	TagCopyBufferToImage: {"CopyBufferToImage", hostrt.QueueAll},
	TagCopyImageToBuffer: {"CopyImageToBuffer", hostrt.QueueAll},
	TagDispatch:          {"Dispatch", hostrt.QueueCompute},
	TagDraw:              {"Draw", hostrt.QueueRender},
	TagInsertFence:       {"InsertFence", hostrt.QueueAll},
	TagSignalEvent:       {"SignalEvent", hostrt.QueueAll},
	TagWaitEvents:        {"WaitEvents", hostrt.QueueAll},
	TagAcquireShared:     {"AcquireShared", hostrt.QueueAll},
	TagReleaseShared:     {"ReleaseShared", hostrt.QueueAll},
}

// Known reports whether tag is part of the command set.
func Known(tag cmdbuf.Tag) bool {
	return tag > 0 && tag < tagCount
}

// Name returns the mnemonic for tag.
func Name(tag cmdbuf.Tag) string {
	if !Known(tag) {
		return fmt.Sprintf("tag(%d)", uint16(tag))
	}
	return tags[tag].name
}

// Queues returns the queue types tag may be submitted to. Unknown tags allow none.
func Queues(tag cmdbuf.Tag) hostrt.QueueType {
	if !Known(tag) {
		return hostrt.QueueNone
	}
	return tags[tag].queues
}

// Compatible reports whether tag may run on a queue of type qt.
func Compatible(tag cmdbuf.Tag, qt hostrt.QueueType) bool {
	return Queues(tag).Intersects(qt)
}

// Tags returns every known tag in numeric order.
func Tags() []cmdbuf.Tag {
	out := make([]cmdbuf.Tag, 0, tagCount-1)
	for t := TagNop; t < tagCount; t++ {
		out = append(out, t)
	}
	return out
}
