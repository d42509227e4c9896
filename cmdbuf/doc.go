// Package cmdbuf implements the growable, replayable command buffer.
//
// A buffer is a flat concatenation of records:
//
//	u16 tag | u16 payload length | payload bytes
//
// both header fields little-endian, no padding. The payload is opaque to this
// package beyond its length; the command package gives tags their meaning.
//
// # State machine
//
//	Uninitialized --Begin--> Building --End--> SubmitReady --Begin--> Building
//	Building --MapAppend--> MapAppend --UnmapAppend--> Building
//	any state --(overflow or commit failure)--> Incomplete
//	any state --Reset--> Uninitialized
//
// Storage is reserved at the maximum size when the buffer is created and
// committed in granules as records are appended. It never relocates, so
// payload slices returned by CommandAt stay valid until Reset, Begin or
// Release.
//
// Buffers are not safe for concurrent use.
package cmdbuf
