// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/deepresearch/internal/react"
)

// =============================================================================
// MODEL
// =============================================================================

// ExportFunc writes text as a PDF report. path may be empty, in which case
// the exporter picks a timestamped name. It returns the written path.
type ExportFunc func(text, path string) (string, error)

// Options configures the chat model.
type Options struct {
	ModelName string
	Export    ExportFunc
	// Context is the parent of every research run; defaults to Background
	Context context.Context
}

// entry is one rendered turn in the viewport.
type entry struct {
	role react.Role
	text string
}

// Model is the Bubble Tea model for the research chat.
type Model struct {
	runner  *StreamRunner
	opts    Options
	input   textinput.Model
	vp      viewport.Model
	spinner spinner.Model
	buffer  *StreamingBuffer

	history react.Conversation
	pending react.Conversation
	entries []entry

	// Active run
	streaming bool
	runID     int
	answer    string
	cancel    context.CancelFunc
	started   time.Time

	lastAnswer string
	status     string
	width      int
	height     int
	quitting   bool
}

// New creates a chat model that starts runs through runner.
func New(runner *StreamRunner, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a research question..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = spinnerStyle

	m := Model{
		runner:  runner,
		opts:    opts,
		input:   ti,
		vp:      vp,
		spinner: sp,
		buffer:  NewStreamingBuffer(),
		status:  "Enter to send, /pdf to export, /exit to quit",
	}
	m.resize(80, 24)
	return m
}

// History returns the completed conversation turns.
func (m Model) History() react.Conversation {
	return m.history.Clone()
}

// Streaming reports whether a run is in flight.
func (m Model) Streaming() bool {
	return m.streaming
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.streaming {
				m.cancelRun()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if m.streaming {
				m.cancelRun()
			}
			return m, nil
		case "enter":
			return m.submit()
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case StreamStartMsg:
		if msg.RunID == m.runID {
			m.started = msg.StartTime
		}
		return m, nil

	case StreamTokenMsg:
		if msg.RunID == m.runID && m.streaming {
			m.buffer.Write(msg.Token)
		}
		return m, nil

	case flushTickMsg:
		if !m.streaming {
			return m, nil
		}
		if s, ok := m.buffer.Flush(); ok {
			m.answer += s
			m.refresh()
		}
		return m, flushTick()

	case StreamCompleteMsg:
		if msg.RunID != m.runID || !m.streaming {
			return m, nil
		}
		m.finishRun(msg)
		return m, nil

	case ExportDoneMsg:
		if msg.Err != nil {
			m.status = errorStyle.Render("Export failed: " + msg.Err.Error())
		} else {
			m.status = successStyle.Render("Saved " + msg.Path)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// INPUT
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.streaming {
		m.status = warningStyle.Render("A search is still running (esc to cancel)")
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}

	m.pending = append(m.history.Clone(), react.Message{Role: react.RoleUser, Content: text})
	m.entries = append(m.entries, entry{role: react.RoleUser, text: text})
	m.answer = ""
	m.streaming = true
	m.runID++
	m.buffer.Reset()
	m.status = ""

	ctx, cancel := context.WithCancel(m.opts.Context)
	m.cancel = cancel
	m.runner.Start(ctx, m.runID, m.pending)
	m.refresh()

	return m, tea.Batch(m.spinner.Tick, flushTick())
}

func (m Model) command(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/exit", "/quit", "/q":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		m.history = nil
		m.entries = nil
		m.lastAnswer = ""
		m.status = "Conversation cleared"
		m.refresh()
		return m, nil

	case "/pdf":
		if m.lastAnswer == "" {
			m.status = warningStyle.Render("Nothing to export yet")
			return m, nil
		}
		if m.opts.Export == nil {
			m.status = warningStyle.Render("Export is not available")
			return m, nil
		}
		path := ""
		if len(fields) > 1 {
			path = fields[1]
		}
		text, export := m.lastAnswer, m.opts.Export
		m.status = "Exporting..."
		return m, func() tea.Msg {
			out, err := export(text, path)
			return ExportDoneMsg{Path: out, Err: err}
		}
	}

	m.status = warningStyle.Render("Unknown command " + fields[0] + " (try /pdf, /clear, /exit)")
	return m, nil
}

// =============================================================================
// RUN LIFECYCLE
// =============================================================================

func (m *Model) cancelRun() {
	if m.cancel != nil {
		m.cancel()
	}
	m.status = warningStyle.Render("Cancelling...")
}

func (m *Model) finishRun(msg StreamCompleteMsg) {
	if s, ok := m.buffer.ForceFlush(); ok {
		m.answer += s
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.streaming = false
	m.entries = append(m.entries, entry{role: react.RoleAssistant, text: m.answer})

	answered := len(msg.Transcript) > 0 && msg.Transcript[len(msg.Transcript)-1].Role == react.RoleAssistant
	switch {
	case answered:
		m.history = append(m.pending, react.Message{Role: react.RoleAssistant, Content: m.answer})
		m.lastAnswer = m.answer
		m.status = dimStyle.Render(runSummary(msg.Transcript, time.Since(m.started)))
	case msg.Err != nil:
		m.status = warningStyle.Render("Cancelled")
	default:
		m.status = errorStyle.Render("Research failed")
	}
	m.pending = nil
	m.answer = ""
	m.refresh()
}
