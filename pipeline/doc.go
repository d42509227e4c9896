// Package pipeline binds pipeline kinds to their execute handlers.
//
// Dispatch and Draw commands resolve their pipeline and hand an Invocation
// to the handler registered for the pipeline's kind. The registry is open:
// registering a new kind needs no change to command execution.
//
// Built-in kinds:
//
//	func    compute  Go function run once per work group, fanned out on an errgroup
//	wasm    compute  WebAssembly kernel run through the engine package
//	clear   render   fills the target image with a solid color
//	points  render   plots float32x2 vertices in clip space as single pixels
package pipeline
