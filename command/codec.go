package command

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

const handleSize = 8

// Writer encodes fields into a pre-sized payload.
type Writer struct {
	buf []byte
	off int
}

// NewWriter returns a Writer over dst. The caller sizes dst from Payload.Size.
func NewWriter(dst []byte) *Writer { return &Writer{buf: dst} }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.off }

func (w *Writer) U16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *Writer) U32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *Writer) U64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *Writer) Handle(h resource.Handle) { w.U64(uint64(h)) }

// Handles writes a u16 count followed by the handles.
func (w *Writer) Handles(hs []resource.Handle) {
	w.U16(uint16(len(hs)))
	for _, h := range hs {
		w.Handle(h)
	}
}

// Tail copies raw bytes that extend to the end of the payload.
func (w *Writer) Tail(p []byte) {
	w.off += copy(w.buf[w.off:], p)
}

// Reader decodes fields from a payload. The first short read sets a sticky
// error and all later reads return zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(p []byte) *Reader { return &Reader{buf: p} }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = errors.InvalidArgument(errors.PhaseSubmit, "decode",
			fmt.Sprintf("payload truncated: need %d bytes at offset %d of %d", n, r.off, len(r.buf)))
		return false
	}
	return true
}

func (r *Reader) U16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *Reader) U32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *Reader) U64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *Reader) Handle() resource.Handle { return resource.Handle(r.U64()) }

func (r *Reader) Handles() []resource.Handle {
	n := int(r.U16())
	if !r.need(n * handleSize) {
		return nil
	}
	if n == 0 {
		return nil
	}
	hs := make([]resource.Handle, n)
	for i := range hs {
		hs[i] = r.Handle()
	}
	return hs
}

// Tail returns the remaining bytes without copying.
func (r *Reader) Tail() []byte {
	if r.err != nil {
		return nil
	}
	p := r.buf[r.off:]
	r.off = len(r.buf)
	return p
}

// Finish reports the sticky error, or an error if unread bytes remain.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return errors.InvalidArgument(errors.PhaseSubmit, "decode",
			fmt.Sprintf("%d trailing bytes in payload", len(r.buf)-r.off))
	}
	return nil
}
