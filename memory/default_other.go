//go:build !unix

package memory

import "github.com/wippyai/hostrt"

// Default returns the platform's preferred allocator with DefaultGranule.
func Default() hostrt.Allocator {
	h, _ := NewHeap(DefaultGranule)
	return h
}

// ByName returns the allocator named by configuration. Only "heap" is
// available on this platform; "virtual" falls back to it.
func ByName(name string, granule int) (hostrt.Allocator, error) {
	return NewHeap(granule)
}
