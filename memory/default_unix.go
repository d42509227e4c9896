//go:build unix

package memory

import "github.com/wippyai/hostrt"

// Default returns the platform's preferred allocator with DefaultGranule.
func Default() hostrt.Allocator {
	v, err := NewVirtual(DefaultGranule)
	if err != nil {
		h, _ := NewHeap(DefaultGranule)
		return h
	}
	return v
}

// ByName returns the allocator named by configuration: "virtual" or "heap".
func ByName(name string, granule int) (hostrt.Allocator, error) {
	if name == "heap" {
		return NewHeap(granule)
	}
	return NewVirtual(granule)
}
