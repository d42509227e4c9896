// Package fence implements the synchronization layer: Events that carry a
// backend completion token, Fences inserted into a queue's stream, and the
// Tracker that sequences access to memory shared between the compute and
// render backends.
//
// An Event starts unsignaled and gains a token when an operation that will
// signal it is enqueued. Re-signaling replaces the token and releases the old
// one. A Fence inserted on an in-order queue passes once everything before it
// has finished; on an out-of-order queue it waits for an explicit token list,
// or for everything outstanding when the list is empty.
//
// Tracker implements the acquire/release handshake. Work touching a shared
// resource first enqueues an acquire that waits for the other backend's
// outstanding use and for any pending host write-back, then enqueues a
// release after itself. Mapping for read waits on all of it.
package fence
