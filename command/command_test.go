package command

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/cmdbuf"
	hrterrors "github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/memory"
	"github.com/wippyai/hostrt/resource"
)

func newBuffer(t *testing.T, qt hostrt.QueueType) *cmdbuf.Buffer {
	t.Helper()
	heap, err := memory.NewHeap(4096)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cmdbuf.New(heap, qt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Release() })
	if err := b.Begin(); err != nil {
		t.Fatal(err)
	}
	return b
}

func h(typ resource.Type, slot uint32) resource.Handle {
	return resource.MakeHandle(uint8(typ), typ, 1<<16|slot)
}

func TestCompatibility(t *testing.T) {
	tests := []struct {
		tag  cmdbuf.Tag
		qt   hostrt.QueueType
		want bool
	}{
		{TagNop, hostrt.QueueRender, true},
		{TagCopyBuffer, hostrt.QueueTransfer, true},
		{TagDispatch, hostrt.QueueCompute, true},
		{TagDispatch, hostrt.QueueRender, false},
		{TagDispatch, hostrt.QueueTransfer, false},
		{TagDraw, hostrt.QueueRender, true},
		{TagDraw, hostrt.QueueCompute, false},
		{TagInsertFence, hostrt.QueueCompute, true},
		{0, hostrt.QueueAll, false},
		{tagCount, hostrt.QueueAll, false},
		{999, hostrt.QueueAll, false},
	}
	for _, tt := range tests {
		if got := Compatible(tt.tag, tt.qt); got != tt.want {
			t.Errorf("Compatible(%s, %s) = %v, want %v", Name(tt.tag), tt.qt, got, tt.want)
		}
	}
	if Name(999) != "tag(999)" {
		t.Errorf("Name(999) = %q", Name(999))
	}
	if len(Tags()) != 13 {
		t.Errorf("Tags() has %d entries", len(Tags()))
	}
}

func TestRecordDecode(t *testing.T) {
	buf, img, ev, pipe, vs := h(resource.TypeBuffer, 1), h(resource.TypeImage, 2), h(resource.TypeEvent, 3),
		h(resource.TypePipeline, 4), h(resource.TypeVertexSource, 5)

	tests := []struct {
		qt hostrt.QueueType
		p  Payload
	}{
		{hostrt.QueueCompute, &Nop{}},
		{hostrt.QueueCompute, &CopyBuffer{Src: buf, Dst: buf, SrcOffset: 8, DstOffset: 16, Size: 32, Event: ev}},
		{hostrt.QueueCompute, &FillBuffer{Dst: buf, Offset: 4, Size: 12, Event: ev, Pattern: []byte{1, 2, 3}}},
		{hostrt.QueueTransfer, &WriteBuffer{Dst: buf, Offset: 3, Event: resource.Invalid, Data: []byte("hello")}},
		{hostrt.QueueTransfer, &CopyBufferToImage{Src: buf, Dst: img, SrcOffset: 64, Event: ev}},
		{hostrt.QueueRender, &CopyImageToBuffer{Src: img, Dst: buf, DstOffset: 128, Event: ev}},
		{hostrt.QueueCompute, &Dispatch{Pipeline: pipe, Groups: [3]uint32{4, 2, 1}, Event: ev, Args: []resource.Handle{buf, img}}},
		{hostrt.QueueRender, &Draw{Pipeline: pipe, VertexSource: vs, Target: img, First: 1, Count: 3, Instances: 2, Event: ev}},
		{hostrt.QueueCompute, &InsertFence{Fence: h(resource.TypeFence, 9), Waits: []resource.Handle{ev}}},
		{hostrt.QueueCompute, &SignalEvent{Event: ev}},
		{hostrt.QueueRender, &WaitEvents{Events: []resource.Handle{ev, ev}}},
		{hostrt.QueueCompute, &Shared{Event: ev, Resources: []resource.Handle{buf}}},
		{hostrt.QueueRender, &Shared{Release: true, Event: ev, Resources: []resource.Handle{img}}},
	}
	for _, tt := range tests {
		t.Run(Name(tt.p.Tag()), func(t *testing.T) {
			b := newBuffer(t, tt.qt)
			if err := Record(b, tt.p); err != nil {
				t.Fatal(err)
			}
			if err := b.End(); err != nil {
				t.Fatal(err)
			}
			cmd, next, err := b.CommandAt(0)
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Tag != tt.p.Tag() || len(cmd.Payload) != tt.p.Len() || next != b.Used() {
				t.Fatalf("record = tag %d len %d next %d", cmd.Tag, len(cmd.Payload), next)
			}
			got, err := Decode(cmd)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.p) {
				t.Fatalf("decoded %#v, want %#v", got, tt.p)
			}
		})
	}
}

func TestRecordRejectsIncompatible(t *testing.T) {
	b := newBuffer(t, hostrt.QueueRender)
	err := Record(b, &Dispatch{Groups: [3]uint32{1, 1, 1}})
	if !errors.Is(err, hrterrors.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if b.Count() != 0 || b.State() != cmdbuf.StateBuilding {
		t.Fatal("rejected command changed the buffer")
	}
}

func TestFillValidation(t *testing.T) {
	tests := []struct {
		name string
		fill FillBuffer
		ok   bool
	}{
		{"empty pattern", FillBuffer{Size: 4}, false},
		{"pattern too long", FillBuffer{Size: 129, Pattern: make([]byte, 129)}, false},
		{"size not multiple", FillBuffer{Size: 5, Pattern: []byte{1, 2}}, false},
		{"max pattern", FillBuffer{Size: 256, Pattern: make([]byte, MaxPattern)}, true},
		{"zero size", FillBuffer{Pattern: []byte{7}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fill.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, hrterrors.ErrInvalidArgument) {
				t.Fatalf("kind = %s", hrterrors.KindOf(err))
			}
		})
	}
}

func TestWriteBufferTooLarge(t *testing.T) {
	b := newBuffer(t, hostrt.QueueTransfer)
	err := Record(b, &WriteBuffer{Data: make([]byte, MaxWriteData+1)})
	if !errors.Is(err, hrterrors.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if err := Record(b, &WriteBuffer{Data: make([]byte, MaxWriteData)}); err != nil {
		t.Fatalf("max write: %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  cmdbuf.Command
		kind hrterrors.Kind
	}{
		{"unknown tag", cmdbuf.Command{Tag: 77}, hrterrors.KindNotImplemented},
		{"truncated", cmdbuf.Command{Tag: TagSignalEvent, Payload: make([]byte, 4)}, hrterrors.KindInvalidArgument},
		{"trailing", cmdbuf.Command{Tag: TagSignalEvent, Payload: make([]byte, 12)}, hrterrors.KindInvalidArgument},
		{"nop with payload", cmdbuf.Command{Tag: TagNop, Payload: []byte{1}}, hrterrors.KindInvalidArgument},
		{"short list", cmdbuf.Command{Tag: TagWaitEvents, Payload: []byte{3, 0, 1, 2}}, hrterrors.KindInvalidArgument},
		{"bad fill", cmdbuf.Command{Tag: TagFillBuffer, Payload: make([]byte, 32)}, hrterrors.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.cmd)
			if got := hrterrors.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q (%v), want %q", got, err, tt.kind)
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	b := newBuffer(t, hostrt.QueueCompute)
	ev := h(resource.TypeEvent, 3)
	for _, p := range []Payload{
		&Nop{},
		&FillBuffer{Dst: h(resource.TypeBuffer, 1), Size: 8, Pattern: []byte{0xab}, Event: ev},
		&SignalEvent{Event: ev},
	} {
		if err := Record(b, p); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	if err := Disassemble(&out, b); err == nil {
		t.Fatal("expected error while building")
	}
	if err := b.End(); err != nil {
		t.Fatal(err)
	}
	if err := Disassemble(&out, b); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "Nop") || !strings.Contains(lines[1], "FillBuffer") ||
		!strings.Contains(lines[1], "pattern=ab") || !strings.Contains(lines[2], "SignalEvent event=event#3.1@11") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if got := Describe(cmdbuf.Command{Tag: 500}); !strings.HasPrefix(got, "tag(500)") {
		t.Fatalf("Describe unknown = %q", got)
	}
}

func TestAbsent(t *testing.T) {
	if !Absent(0) || !Absent(resource.Invalid) || Absent(h(resource.TypeEvent, 0)) {
		t.Fatal("Absent misclassifies handles")
	}
}
