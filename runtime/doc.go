// Package runtime is the host-side entry point: a Context owns one handle
// table per object kind, creates and destroys objects, records and submits
// command buffers, and exposes events, fences and host mapping.
//
// # Objects
//
// Every object lives in a capacity-bounded generational table and is named
// by a resource.Handle. Handles from one table are rejected by every other,
// and a handle goes stale the moment its object is destroyed.
//
//	devices, groups     backend devices and execution groups
//	queues              render (in-order) or compute/transfer (out-of-order)
//	buffers, images     host-allocated memory with acquire/release tracking
//	samplers            filtering and addressing state
//	vertex sources      typed views of a buffer used by Draw
//	kernels, pipelines  compute and render programs
//	events, fences      synchronization
//	command buffers     recorded command streams bound to one queue type
//
// # Submission
//
// Submit walks a SubmitReady command buffer, validates each command against
// the registries and the queue type, and issues it to the queue's backend.
// The first failing command stops the walk and is reported in a
// *SubmitError. Commands already issued stay issued.
//
// # Concurrency
//
// A Context is not safe for concurrent use. Entry points are synchronous and
// only WaitEvent, WaitEvents, WaitFence, FinishQueue and read mappings block.
// Backend work runs on the backends' own goroutines.
package runtime
