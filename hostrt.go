package hostrt

import "strings"

// QueueType is a bitmask naming the kinds of queue a command buffer, fence
// or command may target.
type QueueType uint8

const (
	QueueRender QueueType = 1 << iota
	QueueCompute
	QueueTransfer

	QueueNone QueueType = 0
	QueueAll            = QueueRender | QueueCompute | QueueTransfer
)

// InOrder reports whether queues of this type complete work in submission order.
// Only render queues are in-order; compute and transfer queues run out of order.
func (q QueueType) InOrder() bool {
	return q == QueueRender
}

// Intersects reports whether q and o share at least one queue kind.
func (q QueueType) Intersects(o QueueType) bool {
	return q&o != 0
}

// Single reports whether exactly one queue kind is set.
func (q QueueType) Single() bool {
	return q != 0 && q&(q-1) == 0
}

func (q QueueType) String() string {
	if q == QueueNone {
		return "none"
	}
	var parts []string
	if q&QueueRender != 0 {
		parts = append(parts, "render")
	}
	if q&QueueCompute != 0 {
		parts = append(parts, "compute")
	}
	if q&QueueTransfer != 0 {
		parts = append(parts, "transfer")
	}
	return strings.Join(parts, "|")
}

// ParseQueueType parses a single queue kind name.
func ParseQueueType(s string) (QueueType, bool) {
	switch strings.ToLower(s) {
	case "render":
		return QueueRender, true
	case "compute":
		return QueueCompute, true
	case "transfer":
		return QueueTransfer, true
	}
	return QueueNone, false
}

// Region is a contiguous byte range whose address space is reserved up front
// and committed incrementally. Committed bytes never move: a slice returned by
// Bytes stays valid until Release even after later commits.
type Region interface {
	// Bytes returns the committed prefix of the region.
	Bytes() []byte

	// Commit grows the committed prefix to at least n bytes.
	// Committing beyond Reserved fails; shrinking is a no-op.
	Commit(n int) error

	// Committed returns the number of committed bytes.
	Committed() int

	// Reserved returns the fixed maximum size of the region.
	Reserved() int

	// Release returns the whole region to its allocator.
	Release() error
}

// Allocator reserves regions. An Allocator value is chosen when a context is
// created and threaded explicitly through every constructor that owns memory.
type Allocator interface {
	Reserve(size int) (Region, error)

	// Granule is the commit granularity in bytes, a power of two.
	Granule() int
}
