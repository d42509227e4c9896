package main

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/hostrt/config"
	"github.com/wippyai/hostrt/runtime"
	"github.com/wippyai/hostrt/scenario"
)

const inspectScenario = `
name: inspect
queues: [{name: q, type: compute}]
buffers: [{name: buf, size: 4}]
events: [done]
submissions:
  - queue: q
    commands:
      - {op: fill_buffer, dst: buf, size: 4, pattern: "5a", event: done}
  - queue: q
    commands:
      - {op: nop}
wait: [done]
expect:
  - {resource: buf, hex: "5a5a5a5a"}
`

func newTestModel(t *testing.T) *inspectModel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	s, err := scenario.Parse([]byte(inspectScenario))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cfg := config.Default()
	cfg.Memory.Allocator = "heap"
	cfg.CommandBuffer.MaxSize = 1 << 16
	c, err := runtime.New(ctx, cfg)
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return newInspectModel(ctx, "inspect.yaml", s, c)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send feeds msg to the model and runs any resulting command once.
func send(m *inspectModel, msg tea.Msg) {
	_, cmd := m.Update(msg)
	if cmd == nil {
		return
	}
	if next := cmd(); next != nil {
		m.Update(next)
	}
}

func TestInspectModel(t *testing.T) {
	m := newTestModel(t)
	if !strings.Contains(m.View(), "Recording") {
		t.Fatalf("unexpected initial view %q", m.View())
	}

	m.Update(m.Init()())
	if m.err != nil {
		t.Fatalf("build failed: %v", m.err)
	}
	if len(m.disasm) != 2 {
		t.Fatalf("got %d disassemblies, want 2", len(m.disasm))
	}

	send(m, key("down"))
	if m.selected != 1 {
		t.Errorf("selected = %d, want 1", m.selected)
	}
	send(m, key("down"))
	if m.selected != 1 {
		t.Errorf("selection moved past the last submission")
	}
	send(m, key("k"))
	send(m, key("enter"))
	if m.state != stateDisasm || !strings.Contains(m.View(), "FillBuffer") {
		t.Fatalf("disassembly view missing FillBuffer:\n%s", m.View())
	}
	send(m, key("esc"))

	send(m, key("r"))
	if m.state != stateResult {
		t.Fatalf("state = %d after run, want result", m.state)
	}
	if m.runErr != nil {
		t.Fatalf("run failed: %v", m.runErr)
	}
	if !strings.Contains(m.View(), "2 submissions") {
		t.Errorf("result view missing summary:\n%s", m.View())
	}

	send(m, key("m"))
	if m.state != stateAskResource {
		t.Fatalf("state = %d, want resource prompt", m.state)
	}
	send(m, key("buf"))
	if got := m.input.Value(); got != "buf" {
		t.Fatalf("input = %q, want buf", got)
	}
	send(m, key("enter"))
	if m.state != stateMemory {
		t.Fatalf("state = %d, want memory view", m.state)
	}
	if !strings.Contains(m.memory, "5a 5a 5a 5a") {
		t.Errorf("memory dump missing fill pattern:\n%s", m.memory)
	}

	send(m, key("m"))
	send(m, key("nope"))
	send(m, key("enter"))
	if !strings.Contains(m.memory, "not declared") {
		t.Errorf("expected error for undeclared resource, got:\n%s", m.memory)
	}
}
