package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/runtime"
)

type interactiveModel struct {
	err      error
	ctx      context.Context
	stack    *stack
	filename string
	result   string
	code     contractruntime.Code
	params   []byte
	state    []byte
	calls    []string
	inputs   []textinput.Model
	labels   []string
	selected int
	focusIdx int
	screen   screen
}

type screen int

const (
	screenSelect screen = iota
	screenInput
	screenResult
)

type openedMsg struct {
	err   error
	stack *stack
}

type callResultMsg struct {
	err    error
	result string
	state  []byte
}

func newInteractiveModel(ctx context.Context, filename string, code contractruntime.Code, params []byte) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		filename: filename,
		code:     code,
		params:   params,
		calls:    entryPoints(code.Kind),
		screen:   screenSelect,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.open
}

func (m *interactiveModel) open() tea.Msg {
	s, err := openStack(m.ctx)
	if err != nil {
		return openedMsg{err: err}
	}
	art, err := s.eng.Load(m.ctx, m.code)
	if err != nil {
		s.close()
		return openedMsg{err: err}
	}
	art.Release()
	return openedMsg{stack: s}
}

// fieldsFor names the buffers an entry point takes besides parameters.
func fieldsFor(export string) []string {
	switch export {
	case engine.ExportValidateState, engine.ExportSummarizeState:
		return []string{"state"}
	case engine.ExportUpdateState:
		return []string{"state", "delta"}
	case engine.ExportGetStateDelta, engine.ExportUpdateFromSummary:
		return []string{"state", "summary"}
	case engine.ExportValidateDelta:
		return []string{"delta"}
	case engine.ExportProcess:
		return []string{"message"}
	default:
		return nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit

		case "q":
			if m.screen != screenInput {
				m.shutdown()
				return m, tea.Quit
			}

		case "up", "k":
			if m.screen == screenSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.screen == screenSelect && m.selected < len(m.calls)-1 {
				m.selected++
			}

		case "enter":
			switch m.screen {
			case screenSelect:
				m.prepareInputs()
				m.screen = screenInput
				return m, nil
			case screenInput:
				return m, m.call
			case screenResult:
				m.screen = screenSelect
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.screen == screenInput && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			if m.screen != screenSelect {
				m.screen = screenSelect
				m.inputs = nil
				m.result = ""
				m.err = nil
			}
		}

	case openedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.stack = msg.stack

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		if msg.state != nil {
			m.state = msg.state
		}
		m.screen = screenResult
		return m, nil
	}

	if m.screen == screenInput {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *interactiveModel) shutdown() {
	if m.stack != nil {
		m.stack.close()
		m.stack = nil
	}
}

func (m *interactiveModel) prepareInputs() {
	m.labels = fieldsFor(m.calls[m.selected])
	m.inputs = make([]textinput.Model, len(m.labels))
	for i, label := range m.labels {
		ti := textinput.New()
		ti.Placeholder = "text, hex:.., base64:.. or @file"
		ti.Prompt = label + ": "
		ti.Width = 48
		if label == "state" && m.state != nil {
			ti.SetValue("base64:" + encodeBase64(m.state))
		}
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) call() tea.Msg {
	if m.stack == nil {
		return callResultMsg{err: fmt.Errorf("runtime not ready")}
	}
	bufs := make(map[string][]byte, len(m.inputs))
	for i, in := range m.inputs {
		b, err := decodeArg(in.Value())
		if err != nil {
			return callResultMsg{err: err}
		}
		bufs[m.labels[i]] = b
	}

	rt := m.stack.rt
	code := m.code
	switch m.calls[m.selected] {
	case engine.ExportValidateState:
		res, err := rt.Validate(m.ctx, runtime.ValidateRequest{Code: &code, Parameters: m.params, State: bufs["state"]})
		if err != nil {
			return callResultMsg{err: err}
		}
		out := res.Outcome.String()
		for _, id := range res.Missing {
			out += "\n  missing " + id.String()
		}
		return callResultMsg{result: out}

	case engine.ExportUpdateState:
		res, err := rt.Update(m.ctx, runtime.UpdateRequest{Code: &code, Parameters: m.params, State: bufs["state"], Delta: bufs["delta"]})
		if err != nil {
			return callResultMsg{err: err}
		}
		if !res.Changed {
			return callResultMsg{result: "no change"}
		}
		return callResultMsg{result: "new state " + render(res.State), state: res.State}

	case engine.ExportSummarizeState:
		sum, err := rt.Summarize(m.ctx, runtime.SummarizeRequest{Code: &code, Parameters: m.params, State: bufs["state"]})
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: "summary " + render(sum)}

	case engine.ExportGetStateDelta:
		delta, err := rt.Delta(m.ctx, runtime.DeltaRequest{Code: &code, Parameters: m.params, State: bufs["state"], Summary: bufs["summary"]})
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: "delta " + render(delta)}

	case engine.ExportValidateDelta:
		ok, err := rt.ValidateDelta(m.ctx, runtime.ValidateDeltaRequest{Code: &code, Parameters: m.params, Delta: bufs["delta"]})
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{result: fmt.Sprintf("valid: %v", ok)}

	case engine.ExportUpdateFromSummary:
		res, err := rt.UpdateFromSummary(m.ctx, runtime.MergeSummaryRequest{Code: &code, Parameters: m.params, State: bufs["state"], Summary: bufs["summary"]})
		if err != nil {
			return callResultMsg{err: err}
		}
		if !res.Changed {
			return callResultMsg{result: "no change"}
		}
		return callResultMsg{result: "new state " + render(res.State), state: res.State}

	case engine.ExportProcess:
		var in []contractruntime.Message
		if b := bufs["message"]; len(b) > 0 {
			in = append(in, b)
		}
		out, err := rt.Process(m.ctx, runtime.ProcessRequest{Code: &code, Parameters: m.params, Messages: in})
		if err != nil {
			return callResultMsg{err: err}
		}
		lines := []string{fmt.Sprintf("%d message(s)", len(out))}
		for i, msg := range out {
			lines = append(lines, fmt.Sprintf("  #%d %s", i, render(msg)))
		}
		return callResultMsg{result: strings.Join(lines, "\n")}
	}
	return callResultMsg{err: fmt.Errorf("unknown entry point %q", m.calls[m.selected])}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.screen != screenResult {
		return errorStyle().Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.stack == nil {
		return "Loading module..."
	}

	var b strings.Builder
	b.WriteString(titleStyle().Render("Contract Runner"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(labelStyle().Render(m.code.Kind.String()))
	b.WriteString("\n\n")

	switch m.screen {
	case screenSelect:
		b.WriteString("Select an entry point:\n\n")
		for i, c := range m.calls {
			if i == m.selected {
				b.WriteString(selectedStyle().Render("> " + c))
			} else {
				b.WriteString("  " + c)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle().Render("↑/↓ select • enter call • q quit"))

	case screenInput:
		b.WriteString(fmt.Sprintf("Calling %s\n\n", resultStyle().Render(m.calls[m.selected])))
		for _, in := range m.inputs {
			b.WriteString(in.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle().Render("tab next field • enter call • esc back"))

	case screenResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", resultStyle().Render(m.calls[m.selected])))
		if m.err != nil {
			b.WriteString(errorStyle().Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle().Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle().Render("enter continue • q quit"))
	}
	return b.String()
}

func runInteractive(ctx context.Context, filename string, code contractruntime.Code, params []byte) error {
	m := newInteractiveModel(ctx, filename, code, params)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	m.shutdown()
	return err
}
