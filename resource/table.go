package resource

import (
	"fmt"
	"slices"

	"github.com/wippyai/hostrt/errors"
)

const noDense = -1

// slot is the stable index record for one possible object.
type slot struct {
	id    uint32 // current object id; generation in the high 16 bits
	dense int32  // position in the dense arrays, or noDense when free
	next  int32  // free-list link, -1 terminates
}

// Table is a fixed-capacity generational slot map. Live payloads are packed
// in a dense array; a sparse array with one record per possible slot maps
// handles to dense positions. Add, Get and Remove are O(1).
//
// Table carries no locks. Callers serialize access.
type Table[T any] struct {
	sparse    []slot
	dense     []T
	denseSlot []uint16
	observers []subscriber
	freeHead  int32
	nextSub   uint64
	typ       Type
	index     uint8
}

// NewTable creates a table holding at most capacity objects of one type.
func NewTable[T any](index uint8, typ Type, capacity int) (*Table[T], error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, errors.InvalidArgument(errors.PhaseRegistry, "new-table",
			fmt.Sprintf("capacity %d outside 1..%d", capacity, MaxCapacity))
	}
	t := &Table[T]{
		sparse:    make([]slot, capacity),
		dense:     make([]T, 0, capacity),
		denseSlot: make([]uint16, 0, capacity),
		typ:       typ,
		index:     index,
	}
	for i := range t.sparse {
		t.sparse[i] = slot{id: uint32(i), dense: noDense, next: int32(i + 1)}
	}
	t.sparse[capacity-1].next = -1
	return t, nil
}

// Add stores v and returns its handle.
func (t *Table[T]) Add(v T) (Handle, error) {
	if t.freeHead < 0 {
		return Invalid, errors.New(errors.PhaseRegistry, errors.KindResourceExhausted).
			Op("add").
			Detail("%s registry full (%d live)", t.typ, len(t.dense)).
			Value(t.typ).
			Build()
	}

	idx := t.freeHead
	s := &t.sparse[idx]
	t.freeHead = s.next

	s.id += generationStep
	if s.id>>16 == 0 {
		// generation wrapped; zero is never handed out
		s.id += generationStep
	}
	s.dense = int32(len(t.dense))
	s.next = -1

	t.dense = append(t.dense, v)
	t.denseSlot = append(t.denseSlot, uint16(idx))

	h := MakeHandle(t.index, t.typ, s.id)
	t.notify(Event{Kind: EventCreated, Handle: h, Type: t.typ, Value: v})
	return h, nil
}

// resolve returns the dense index for h, or noDense.
func (t *Table[T]) resolve(h Handle) int32 {
	if h.Table() != t.index || h.Type() != t.typ {
		return noDense
	}
	i := h.Slot()
	if i >= len(t.sparse) {
		return noDense
	}
	s := t.sparse[i]
	if s.id != h.ID() {
		return noDense
	}
	return s.dense
}

// Lookup retrieves the object for h without allocating an error.
func (t *Table[T]) Lookup(h Handle) (T, bool) {
	d := t.resolve(h)
	if d == noDense {
		var zero T
		return zero, false
	}
	return t.dense[d], true
}

// Get retrieves the object for h. Stale, foreign and malformed handles fail
// with an invalid-argument error.
func (t *Table[T]) Get(h Handle) (T, error) {
	d := t.resolve(h)
	if d == noDense {
		var zero T
		return zero, errors.BadHandle(errors.PhaseRegistry, "get "+t.typ.String(), uint64(h))
	}
	return t.dense[d], nil
}

// Contains reports whether h currently resolves.
func (t *Table[T]) Contains(h Handle) bool {
	return t.resolve(h) != noDense
}

// Remove evicts the object for h and returns it. The last dense entry moves
// into the vacated position, so dense order is not preserved.
func (t *Table[T]) Remove(h Handle) (T, error) {
	var zero T
	d := t.resolve(h)
	if d == noDense {
		return zero, errors.BadHandle(errors.PhaseRegistry, "remove "+t.typ.String(), uint64(h))
	}

	v := t.dense[d]
	last := int32(len(t.dense) - 1)
	if d != last {
		moved := t.denseSlot[last]
		t.dense[d] = t.dense[last]
		t.denseSlot[d] = moved
		t.sparse[moved].dense = d
	}
	t.dense[last] = zero
	t.dense = t.dense[:last]
	t.denseSlot = t.denseSlot[:last]

	i := int32(h.Slot())
	t.sparse[i].dense = noDense
	t.sparse[i].next = t.freeHead
	t.freeHead = i

	if dr, ok := any(v).(Dropper); ok {
		dr.Drop()
	}
	t.notify(Event{Kind: EventDropped, Handle: h, Type: t.typ, Value: v})
	return v, nil
}

// Len returns the number of live objects.
func (t *Table[T]) Len() int { return len(t.dense) }

// Cap returns the fixed capacity.
func (t *Table[T]) Cap() int { return len(t.sparse) }

// Type returns the object type stored in the table.
func (t *Table[T]) Type() Type { return t.typ }

// Each calls fn for every live object until fn returns false.
// Iteration order is unspecified; fn must not add or remove.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	for d, v := range t.dense {
		i := t.denseSlot[d]
		if !fn(MakeHandle(t.index, t.typ, t.sparse[i].id), v) {
			return
		}
	}
}

// Handles returns the handles of all live objects.
func (t *Table[T]) Handles() []Handle {
	out := make([]Handle, 0, len(t.dense))
	for _, i := range t.denseSlot {
		out = append(out, MakeHandle(t.index, t.typ, t.sparse[i].id))
	}
	return out
}

// Clear removes every live object.
func (t *Table[T]) Clear() {
	for _, h := range t.Handles() {
		_, _ = t.Remove(h)
	}
}

type subscriber struct {
	id uint64
	o  Observer
}

// Subscribe adds an observer for lifecycle events and returns a func that
// removes it. The observer need not be comparable; calling the returned func
// more than once is a no-op.
func (t *Table[T]) Subscribe(o Observer) (unsubscribe func()) {
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscriber{id: id, o: o})
	return func() {
		t.observers = slices.DeleteFunc(t.observers, func(s subscriber) bool { return s.id == id })
	}
}

func (t *Table[T]) notify(e Event) {
	for _, s := range t.observers {
		s.o.OnResourceEvent(e)
	}
}
