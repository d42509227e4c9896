package scenario

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/hostrt/config"
	hrterrors "github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/runtime"
)

const fillCopy = `
name: fill-copy
queues:
  - {name: compute, type: compute}
  - {name: xfer, type: transfer}
buffers:
  - {name: src, size: 8}
  - {name: dst, size: 8, init: "0102030405060708"}
events: [filled, copied]
submissions:
  - queue: compute
    commands:
      - {op: fill_buffer, dst: src, size: 4, pattern: "ab", event: filled}
  - queue: xfer
    commands:
      - {op: wait_events, events: [filled]}
      - {op: copy_buffer, src: src, dst: dst, dst_offset: 2, size: 4}
      - {op: signal_event, event: copied}
wait: [copied]
expect:
  - {resource: dst, hex: "0102abababab0708"}
  - {resource: src, offset: 4, hex: "00000000"}
`

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newContext(t *testing.T) *runtime.Context {
	t.Helper()
	cfg := config.Default()
	cfg.Memory.Allocator = "heap"
	cfg.CommandBuffer.MaxSize = 1 << 20
	c, err := runtime.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "valid", src: fillCopy},
		{
			name:    "missing name",
			src:     "queues: [{name: q, type: compute}]\nsubmissions: [{queue: q, commands: [{op: nop}]}]\n",
			wantErr: "Name",
		},
		{
			name:    "bad queue type",
			src:     "name: x\nqueues: [{name: q, type: video}]\nsubmissions: [{queue: q, commands: [{op: nop}]}]\n",
			wantErr: "Type",
		},
		{
			name:    "unknown field",
			src:     "name: x\nqueue: [{name: q, type: compute}]\n",
			wantErr: "queue",
		},
		{
			name:    "unknown op",
			src:     "name: x\nqueues: [{name: q, type: compute}]\nsubmissions: [{queue: q, commands: [{op: launch}]}]\n",
			wantErr: "Op",
		},
		{
			name:    "fill without pattern",
			src:     "name: x\nqueues: [{name: q, type: compute}]\nbuffers: [{name: b, size: 4}]\nsubmissions: [{queue: q, commands: [{op: fill_buffer, dst: b, size: 4}]}]\n",
			wantErr: "Pattern",
		},
		{
			name:    "undeclared reference",
			src:     "name: x\nqueues: [{name: q, type: compute}]\nsubmissions: [{queue: q, commands: [{op: signal_event, event: nope}]}]\n",
			wantErr: `"nope" is not declared`,
		},
		{
			name:    "duplicate name",
			src:     "name: x\nqueues: [{name: q, type: compute}]\nevents: [q]\nsubmissions: [{queue: q, commands: [{op: nop}]}]\n",
			wantErr: "already declared",
		},
		{
			name:    "wrong kind",
			src:     "name: x\nqueues: [{name: q, type: compute}]\nevents: [e]\nsubmissions: [{queue: q, commands: [{op: fill_buffer, dst: e, size: 4, pattern: ff}]}]\n",
			wantErr: `"e" is a event, want buffer`,
		},
		{
			name:    "wasm pipeline without kernel",
			src:     "name: x\nqueues: [{name: q, type: compute}]\npipelines: [{name: p, kind: wasm}]\nsubmissions: [{queue: q, commands: [{op: nop}]}]\n",
			wantErr: "Kernel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, hrterrors.ErrInvalidArgument) {
				t.Errorf("error %v is not invalid_argument", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun(t *testing.T) {
	c := newContext(t)
	res, err := Run(testCtx(t), c, mustParse(t, fillCopy))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Submissions != 2 || res.Commands != 4 {
		t.Errorf("got %d submissions, %d commands; want 2, 4", res.Submissions, res.Commands)
	}
	if len(res.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(res.Checks))
	}
	for _, chk := range res.Failed() {
		t.Errorf("check failed: %s", chk)
	}
}

func TestRunDraw(t *testing.T) {
	src := `
name: draw
queues: [{name: r, type: render}]
images: [{name: img, format: bgra8unorm, width: 2, height: 2}]
pipelines: [{name: bg, kind: clear, color: [255, 0, 0, 255]}]
events: [done]
submissions:
  - queue: r
    commands:
      - {op: draw, pipeline: bg, target: img, event: done}
wait: [done]
expect:
  - {resource: img, hex: "0000ffff0000ffff"}
  - {resource: img, offset: 12, hex: "0000ffff"}
`
	res, err := Run(testCtx(t), newContext(t), mustParse(t, src))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, chk := range res.Failed() {
		t.Errorf("check failed: %s", chk)
	}
}

func TestRunMismatch(t *testing.T) {
	src := strings.Replace(fillCopy, `"0102abababab0708"`, `"0102abababab0709"`, 1)
	res, err := Run(testCtx(t), newContext(t), mustParse(t, src))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	failed := res.Failed()
	if len(failed) != 1 {
		t.Fatalf("got %d failed checks, want 1", len(failed))
	}
	if !strings.Contains(failed[0].String(), "got 0102abababab0708") {
		t.Errorf("unexpected check output %q", failed[0])
	}
}

func TestRunSubmitFailure(t *testing.T) {
	src := `
name: overflow
queues: [{name: q, type: compute}]
buffers: [{name: a, size: 4}, {name: b, size: 4}]
submissions:
  - queue: q
    commands:
      - {op: nop}
      - {op: copy_buffer, src: a, dst: b, dst_offset: 2, size: 4}
`
	res, err := Run(testCtx(t), newContext(t), mustParse(t, src))
	if err == nil {
		t.Fatal("expected submission failure")
	}
	var se *runtime.SubmitError
	if !stderrors.As(err, &se) {
		t.Fatalf("error %v is not a SubmitError", err)
	}
	if se.Index != 1 {
		t.Errorf("failed at command %d, want 1", se.Index)
	}
	if res.Submissions != 0 || res.Commands != 1 {
		t.Errorf("got %d submissions, %d commands; want 0, 1", res.Submissions, res.Commands)
	}
}

func TestLoadResolvesKernelPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "k.yaml")
	src := `
name: kernel
queues: [{name: q, type: compute}]
kernels: [{name: k, path: missing.wasm, entry: main}]
submissions: [{queue: q, commands: [{op: nop}]}]
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	_, err = Build(testCtx(t), newContext(t), s)
	if err == nil {
		t.Fatal("expected missing kernel file error")
	}
	if !strings.Contains(err.Error(), filepath.Join(dir, "missing.wasm")) {
		t.Errorf("error %q does not name the resolved path", err)
	}

	if _, err := Load(filepath.Join(dir, "absent.yaml")); !stderrors.Is(err, hrterrors.ErrInvalidArgument) {
		t.Errorf("Load of absent file: got %v", err)
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	if err := Dump(testCtx(t), &buf, newContext(t), mustParse(t, fillCopy)); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"; submission 0 on compute",
		"; submission 1 on xfer",
		"FillBuffer",
		"WaitEvents",
		"CopyBuffer",
		"SignalEvent",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestEnvRead(t *testing.T) {
	ctx := testCtx(t)
	env, err := Build(ctx, newContext(t), mustParse(t, fillCopy))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := env.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := env.Read(ctx, "dst")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := []byte{1, 2, 0xab, 0xab, 0xab, 0xab, 7, 8}; !bytes.Equal(got, want) {
		t.Errorf("dst = %x, want %x", got, want)
	}

	for _, name := range []string{"nope", "copied"} {
		if _, err := env.Read(ctx, name); !stderrors.Is(err, hrterrors.ErrInvalidArgument) {
			t.Errorf("Read(%q): got %v, want invalid_argument", name, err)
		}
	}
}
