// Package memory provides allocator contexts implementing hostrt.Allocator.
//
// An allocator is picked once, when a runtime context is created, and passed
// explicitly to every command buffer and resource that owns storage:
//
//	alloc := memory.Default()             // Virtual on unix, Heap elsewhere
//	alloc = memory.NewLimit(alloc, 1<<20) // cap committed bytes
//
// Every Region reserves its full size at creation and commits in granules.
// Committed memory never moves, so slices handed out earlier stay valid while
// the region grows.
//
//	Virtual  address space reserved with mmap(PROT_NONE), committed with mprotect
//	Heap     one Go allocation of the reserved size, committed by extending length
//	Limit    wraps another allocator and fails commits past a byte budget
package memory
