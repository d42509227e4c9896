// Package resource provides the generational handle table that owns every
// runtime object: devices, queues, buffers, images, fences, events, command
// buffers, pipelines and the rest.
//
// # Handles
//
// A Handle is a 64-bit value packing a table index, an object type tag and a
// 32-bit object id. The object id combines a 16-bit slot index with a 16-bit
// generation that advances every time the slot is reused:
//
//	h, _ := table.Add(buf)
//	table.Remove(h)
//	h2, _ := table.Add(other) // same slot, new generation
//	table.Get(h)              // fails: stale handle
//	table.Get(h2)             // ok
//
// Handles from another table or of another type never resolve.
//
// # Table
//
// Table[T] stores live payloads contiguously in a dense array and keeps one
// index record per possible slot. Freed slots go on a LIFO free list, so the
// most recently freed slot is reused first. Capacity is fixed at creation
// (at most 65,536) and Add fails with a resource-exhausted error when full.
//
// # Observers
//
// Observers receive EventCreated and EventDropped notifications:
//
//	unsubscribe := table.Subscribe(collector)
//	defer unsubscribe()
//
// Values implementing Dropper are dropped on Remove and Clear.
//
// # Concurrency
//
// Tables hold no locks. A table belongs to one runtime context which is used
// by a single goroutine at a time.
package resource
