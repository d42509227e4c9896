// Package engine runs WebAssembly compute kernels on wazero.
//
// A kernel is a core WebAssembly module that exports its linear memory as
// "memory" and one entry function taking five i32 parameters:
//
//	(func (export "main") (param $table i32) (param $argc i32)
//	                      (param $gx i32) (param $gy i32) (param $gz i32))
//
// Before each dispatch the engine copies every argument buffer into linear
// memory at an 8-byte aligned offset, then writes an argument table of argc
// (offset u32, length u32) pairs at $table. The kernel walks the work-group
// grid itself. After the entry function returns, the argument bytes are
// copied back so kernel writes become visible to the host.
//
// Kernels may import host functions from the "hostrt" module:
//
//	(import "hostrt" "log" (func (param i32 i32)))  ;; ptr, len
//
// Each dispatch gets a fresh module instance, so dispatches of the same
// Kernel may run concurrently.
//
// # Thread Safety
//
// WazeroEngine and Kernel are safe for concurrent use.
package engine
