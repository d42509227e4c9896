// Package scenario loads YAML workload scripts and runs them against a
// runtime.Context.
//
// A scenario declares named queues, buffers, images, vertex sources,
// kernels, pipelines, events and fences, then a list of submissions. Each
// submission is recorded into its own command buffer and submitted in order.
// After the listed wait events complete, expectations compare resource
// contents against hex strings.
//
//	name: fill
//	queues:
//	  - {name: q, type: compute}
//	buffers:
//	  - {name: buf, size: 8}
//	events: [done]
//	submissions:
//	  - queue: q
//	    commands:
//	      - {op: fill_buffer, dst: buf, size: 8, pattern: "ab", event: done}
//	wait: [done]
//	expect:
//	  - {resource: buf, hex: "abababababababab"}
package scenario
