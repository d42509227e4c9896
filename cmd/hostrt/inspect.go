package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/hostrt/runtime"
	"github.com/wippyai/hostrt/scenario"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	queueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInspectCmd(g *globals) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "inspect <scenario.yaml>",
		Short: "browse, run and examine a scenario interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr != "" {
				g.cfg.Metrics.Enabled = true
			}
			ctx := cmd.Context()
			s, c, err := g.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return scenario.Dump(ctx, cmd.OutOrStdout(), c, s)
			}
			if metricsAddr != "" {
				stop, err := serveMetrics(metricsAddr, c, g.log)
				if err != nil {
					return err
				}
				defer stop()
			}
			p := tea.NewProgram(newInspectModel(ctx, args[0], s, c), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while inspecting")
	return cmd
}

func serveMetrics(addr string, c *runtime.Context, log *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics().Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

type viewState int

const (
	stateList viewState = iota
	stateDisasm
	stateResult
	stateAskResource
	stateMemory
)

type inspectModel struct {
	ctx      context.Context
	path     string
	s        *scenario.Scenario
	c        *runtime.Context
	env      *scenario.Env
	disasm   []string
	result   *scenario.Result
	runErr   error
	err      error
	memory   string
	resource string
	input    textinput.Model
	selected int
	state    viewState
}

func newInspectModel(ctx context.Context, path string, s *scenario.Scenario, c *runtime.Context) *inspectModel {
	ti := textinput.New()
	ti.Prompt = "resource: "
	ti.Placeholder = "buffer or image name"
	ti.Width = 40
	return &inspectModel{ctx: ctx, path: path, s: s, c: c, input: ti}
}

type builtMsg struct {
	err    error
	env    *scenario.Env
	disasm []string
}

type ranMsg struct {
	err    error
	result *scenario.Result
}

type memoryMsg struct {
	err  error
	name string
	data []byte
}

func (m *inspectModel) Init() tea.Cmd {
	return m.build
}

func (m *inspectModel) build() tea.Msg {
	env, err := scenario.Build(m.ctx, m.c, m.s)
	if err != nil {
		return builtMsg{err: err}
	}
	disasm := make([]string, 0, len(env.CommandBuffers()))
	for _, cb := range env.CommandBuffers() {
		var b bytes.Buffer
		if err := m.c.Disassemble(&b, cb); err != nil {
			return builtMsg{err: err}
		}
		disasm = append(disasm, b.String())
	}
	return builtMsg{env: env, disasm: disasm}
}

func (m *inspectModel) run() tea.Msg {
	res, err := m.env.Run(m.ctx)
	return ranMsg{result: res, err: err}
}

func (m *inspectModel) read(name string) tea.Cmd {
	return func() tea.Msg {
		data, err := m.env.Read(m.ctx, name)
		return memoryMsg{name: name, data: data, err: err}
	}
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateAskResource {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateList && m.selected < len(m.s.Submissions)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateList:
				if m.env != nil {
					m.state = stateDisasm
				}
			default:
				m.state = stateList
			}

		case "r":
			if m.env != nil && m.result == nil {
				return m, m.run
			}
			if m.result != nil {
				m.state = stateResult
			}

		case "m":
			if m.result != nil || m.runErr != nil {
				m.state = stateAskResource
				m.input.SetValue("")
				return m, m.input.Focus()
			}

		case "esc":
			m.state = stateList
		}

	case builtMsg:
		m.err = msg.err
		m.env = msg.env
		m.disasm = msg.disasm

	case ranMsg:
		m.result = msg.result
		m.runErr = msg.err
		m.state = stateResult

	case memoryMsg:
		m.resource = msg.name
		if msg.err != nil {
			m.memory = errorStyle.Render(fmt.Sprintf("Error: %v", msg.err))
		} else {
			m.memory = hex.Dump(msg.data)
		}
		m.state = stateMemory
	}
	return m, nil
}

func (m *inspectModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.input.Blur()
		m.state = stateResult
		return m, nil
	case "enter":
		m.input.Blur()
		name := strings.TrimSpace(m.input.Value())
		if name == "" {
			m.state = stateResult
			return m, nil
		}
		return m, m.read(name)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *inspectModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.env == nil {
		return "Recording scenario..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("hostrt"))
	b.WriteString(" ")
	b.WriteString(m.s.Name)
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(m.path))
	b.WriteString("\n\n")

	switch m.state {
	case stateList:
		b.WriteString("Submissions:\n\n")
		for i, sub := range m.s.Submissions {
			line := m.formatSubmission(i, sub)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter disassemble • r run • q quit"))

	case stateDisasm:
		sub := m.s.Submissions[m.selected]
		fmt.Fprintf(&b, "Submission %d on %s\n\n", m.selected, queueStyle.Render(sub.Queue))
		b.WriteString(m.disasm[m.selected])
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))

	case stateResult:
		m.viewResult(&b)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("m read memory • esc back • q quit"))

	case stateAskResource:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter read • esc cancel"))

	case stateMemory:
		fmt.Fprintf(&b, "Contents of %s:\n\n", opStyle.Render(m.resource))
		b.WriteString(m.memory)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("m read another • esc back • q quit"))
	}
	return b.String()
}

func (m *inspectModel) viewResult(b *strings.Builder) {
	res := m.result
	fmt.Fprintf(b, "%d submissions, %d commands in %s\n\n",
		res.Submissions, res.Commands, res.Elapsed.Round(time.Microsecond))
	if m.runErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.runErr)))
		b.WriteString("\n")
	}
	for _, chk := range res.Checks {
		if chk.OK() {
			b.WriteString(resultStyle.Render(chk.String()))
		} else {
			b.WriteString(errorStyle.Render(chk.String()))
		}
		b.WriteString("\n")
	}
}

func (m *inspectModel) formatSubmission(i int, sub scenario.Submission) string {
	ops := make([]string, len(sub.Commands))
	for j, c := range sub.Commands {
		ops[j] = opStyle.Render(c.Op)
	}
	return fmt.Sprintf("%d %s: %s", i, queueStyle.Render(sub.Queue), strings.Join(ops, ", "))
}
