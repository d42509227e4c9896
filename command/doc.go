// Package command defines the fixed command set recorded into command
// buffers: tags, the queue types each tag may be submitted to, the
// little-endian payload layouts, and a disassembler.
//
// Payload layouts use fixed-width little-endian fields. Handles are 8 bytes.
// Variable-length lists carry a u16 element count. Raw byte tails (fill
// patterns, inline write data) take whatever remains of the payload.
//
// Commands are normally recorded through Record, which encodes straight into
// the command buffer's storage via map-append:
//
//	err := command.Record(cb, &command.FillBuffer{Dst: buf, Size: 1024, Pattern: []byte{0xff}})
package command
