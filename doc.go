// Package hostrt provides a host-side runtime that unifies resource and
// command management across a data-parallel compute backend and a rendering
// backend.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	hostrt/           Root package with QueueType and the Allocator/Region contract
//	├── runtime/      Context: registries, record helpers, executor, submit, map/unmap
//	├── resource/     Generational handle table used for every resource kind
//	├── cmdbuf/       Growable, replayable command buffer
//	├── command/      Command tags and payload codecs
//	├── fence/        Events, fences and the shared-resource acquire/release protocol
//	├── backend/      Backend contracts and software backends (backend/soft)
//	├── pipeline/     Pipeline objects and the open kind→handler registry
//	├── engine/       wazero-backed WASM compute kernels
//	├── memory/       Allocator contexts (virtual reserve/commit, heap, limited)
//	├── config/       YAML configuration
//	├── metrics/      Prometheus collectors
//	├── scenario/     YAML workload scripts
//	├── cmd/hostrt/   CLI: run, dump and inspect scenarios
//	└── errors/       Structured error taxonomy
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	q, _ := rt.CreateQueue(rt.DefaultDevice(), hostrt.QueueCompute)
//	buf, _ := rt.CreateBuffer(runtime.BufferDesc{Size: 1024})
//	ev, _ := rt.CreateEvent()
//
//	cb, _ := rt.CreateCommandBuffer(hostrt.QueueCompute)
//	rt.Begin(cb)
//	rt.RecordFillBuffer(cb, buf, 0, 1024, []byte{0xff}, ev)
//	rt.End(cb)
//
//	if err := rt.Submit(ctx, q, cb); err != nil {
//	    log.Fatal(err)
//	}
//	rt.WaitEvent(ctx, ev)
//
// # Thread Safety
//
// A Context and everything reachable through its handles must be used by one
// goroutine at a time. Backends run their own goroutines; their progress is
// observable only through events and fences.
//
// # Memory Model
//
// Command buffers and resource storage come from the Allocator chosen at
// context creation. Regions reserve their maximum size up front and commit in
// granules, so memory referenced by in-flight work never relocates.
package hostrt
