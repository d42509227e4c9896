package resource

import "fmt"

// Handle is an opaque reference to an object in a Table.
//
// Layout, most significant bits first:
//
//	63..56  table index
//	55..32  object type tag
//	31..16  generation
//	15..0   slot index
//
// The low 32 bits form the object id. A handle is valid only while the slot
// it names stores exactly the same object id.
type Handle uint64

// Invalid is the reserved "no object" handle.
const Invalid Handle = ^Handle(0)

const (
	tableShift = 56
	typeShift  = 32
	typeMask   = 0xFFFFFF
	slotMask   = 0xFFFF

	// generationStep is added to a slot's object id on every reuse.
	generationStep = 1 << 16

	// MaxCapacity is the largest table a 16-bit slot index can address.
	MaxCapacity = 1 << 16
)

// Type tags the kind of object a handle refers to. Only the low 24 bits are stored.
type Type uint32

const (
	TypeNone Type = iota
	TypeDevice
	TypeGroup
	TypeQueue
	TypeBuffer
	TypeImage
	TypeSampler
	TypeVertexSource
	TypeKernel
	TypePipeline
	TypeFence
	TypeEvent
	TypeCommandBuffer
)

var typeNames = [...]string{
	TypeNone:          "none",
	TypeDevice:        "device",
	TypeGroup:         "group",
	TypeQueue:         "queue",
	TypeBuffer:        "buffer",
	TypeImage:         "image",
	TypeSampler:       "sampler",
	TypeVertexSource:  "vertex-source",
	TypeKernel:        "kernel",
	TypePipeline:      "pipeline",
	TypeFence:         "fence",
	TypeEvent:         "event",
	TypeCommandBuffer: "command-buffer",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// MakeHandle assembles a handle from its parts.
func MakeHandle(table uint8, typ Type, id uint32) Handle {
	return Handle(table)<<tableShift | Handle(uint32(typ)&typeMask)<<typeShift | Handle(id)
}

// Table returns the table index.
func (h Handle) Table() uint8 { return uint8(h >> tableShift) }

// Type returns the object type tag.
func (h Handle) Type() Type { return Type((h >> typeShift) & typeMask) }

// ID returns the object id (generation and slot).
func (h Handle) ID() uint32 { return uint32(h) }

// Slot returns the slot index encoded in the object id.
func (h Handle) Slot() int { return int(uint32(h) & slotMask) }

// Generation returns the generation encoded in the object id.
func (h Handle) Generation() uint16 { return uint16(uint32(h) >> 16) }

// Valid reports whether h is not the reserved invalid value.
// It says nothing about whether h still resolves.
func (h Handle) Valid() bool { return h != Invalid }

func (h Handle) String() string {
	if h == Invalid {
		return "invalid"
	}
	return fmt.Sprintf("%s#%d.%d@%d", h.Type(), h.Slot(), h.Generation(), h.Table())
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Type   Type
	Kind   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when removed.
type Dropper interface {
	Drop()
}
