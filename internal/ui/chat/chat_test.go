// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/deepresearch/internal/react"
)

// recorder is a Sender that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recorder) Send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) snapshot() []tea.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tea.Msg(nil), r.msgs...)
}

func (r *recorder) completed() bool {
	for _, msg := range r.snapshot() {
		if _, ok := msg.(StreamCompleteMsg); ok {
			return true
		}
	}
	return false
}

func echoModel(answer string) react.Model {
	return react.ModelFunc(func(ctx context.Context, msgs []react.Message, onFragment func(string)) error {
		for _, w := range strings.SplitAfter(answer, " ") {
			onFragment(w)
		}
		return nil
	})
}

func newTestModel(t *testing.T, model react.Model) (Model, *recorder) {
	t.Helper()
	rec := &recorder{}
	runner := NewStreamRunner(react.NewController(model), react.ToolConfig{})
	runner.Attach(rec)
	return New(runner, Options{ModelName: "test-model"}), rec
}

// drive feeds recorded messages into m.
func drive(m Model, msgs []tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func typeAndSubmit(m Model, text string) Model {
	m.input.SetValue(text)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

// =============================================================================
// STREAMING BUFFER
// =============================================================================

func TestStreamingBuffer_BatchThreshold(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.minFlushMs = time.Hour

	for i := 0; i < defaultBatchSize-1; i++ {
		sb.Write("x")
	}
	_, ok := sb.Flush()
	assert.False(t, ok, "below batch size and interval")
	assert.Equal(t, defaultBatchSize-1, sb.Pending())

	sb.Write("y")
	content, ok := sb.Flush()
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", defaultBatchSize-1)+"y", content)
	assert.Zero(t, sb.Pending())
}

func TestStreamingBuffer_IntervalThreshold(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.minFlushMs = time.Millisecond
	sb.Write("a")
	time.Sleep(5 * time.Millisecond)

	content, ok := sb.Flush()
	require.True(t, ok)
	assert.Equal(t, "a", content)
}

func TestStreamingBuffer_ForceFlushAndReset(t *testing.T) {
	sb := NewStreamingBuffer()
	_, ok := sb.ForceFlush()
	assert.False(t, ok)

	sb.Write("a")
	sb.Write("b")
	content, ok := sb.ForceFlush()
	require.True(t, ok)
	assert.Equal(t, "ab", content)

	sb.Write("c")
	sb.Reset()
	_, ok = sb.ForceFlush()
	assert.False(t, ok)
}

// =============================================================================
// STREAM RUNNER
// =============================================================================

func TestStreamRunner_SendsStartTokensComplete(t *testing.T) {
	rec := &recorder{}
	runner := NewStreamRunner(react.NewController(echoModel("hello research world")), react.ToolConfig{})
	runner.Attach(rec)

	conv := react.Conversation{{Role: react.RoleUser, Content: "q"}}
	runner.Run(context.Background(), 7, conv)

	msgs := rec.snapshot()
	require.GreaterOrEqual(t, len(msgs), 3)
	_, isStart := msgs[0].(StreamStartMsg)
	assert.True(t, isStart)

	var text strings.Builder
	for _, msg := range msgs[1 : len(msgs)-1] {
		tok, ok := msg.(StreamTokenMsg)
		require.True(t, ok)
		assert.Equal(t, 7, tok.RunID)
		text.WriteString(tok.Token)
	}
	assert.Equal(t, "hello research world", text.String())

	done, ok := msgs[len(msgs)-1].(StreamCompleteMsg)
	require.True(t, ok)
	assert.NoError(t, done.Err)
	require.Len(t, done.Transcript, 2)
	assert.Equal(t, react.RoleAssistant, done.Transcript[1].Role)
}

func TestStreamRunner_NoProgramIsNoop(t *testing.T) {
	runner := NewStreamRunner(react.NewController(echoModel("x")), react.ToolConfig{})
	assert.NotPanics(t, func() {
		runner.Run(context.Background(), 1, react.Conversation{{Role: react.RoleUser, Content: "q"}})
	})
}

// =============================================================================
// MODEL
// =============================================================================

func TestModel_SubmitStreamsAndRecordsHistory(t *testing.T) {
	m, rec := newTestModel(t, echoModel("Final Answer: forty two"))

	m = typeAndSubmit(m, "what is the answer?")
	assert.True(t, m.Streaming())
	assert.Empty(t, m.input.Value())

	require.Eventually(t, rec.completed, 2*time.Second, 5*time.Millisecond)
	m = drive(m, rec.snapshot())

	assert.False(t, m.Streaming())
	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, "what is the answer?", history[0].Content)
	assert.Equal(t, "Final Answer: forty two", history[1].Content)
	assert.Equal(t, "Final Answer: forty two", m.lastAnswer)
	assert.Contains(t, m.status, "Done")
	assert.Contains(t, m.View(), "forty two")
}

func TestModel_SecondTurnCarriesHistory(t *testing.T) {
	var mu sync.Mutex
	var seen [][]react.Message
	model := react.ModelFunc(func(ctx context.Context, msgs []react.Message, onFragment func(string)) error {
		mu.Lock()
		seen = append(seen, append([]react.Message(nil), msgs...))
		mu.Unlock()
		onFragment("ok")
		return nil
	})
	m, rec := newTestModel(t, model)

	m = typeAndSubmit(m, "first")
	require.Eventually(t, rec.completed, 2*time.Second, 5*time.Millisecond)
	m = drive(m, rec.snapshot())

	rec.mu.Lock()
	rec.msgs = nil
	rec.mu.Unlock()

	m = typeAndSubmit(m, "second")
	require.Eventually(t, rec.completed, 2*time.Second, 5*time.Millisecond)
	m = drive(m, rec.snapshot())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.Len(t, seen[1], 3)
	assert.Equal(t, "first", seen[1][0].Content)
	assert.Equal(t, "ok", seen[1][1].Content)
	assert.Equal(t, "second", seen[1][2].Content)
	assert.Len(t, m.History(), 4)
}

func TestModel_FailedRunNotKeptInHistory(t *testing.T) {
	model := react.ModelFunc(func(ctx context.Context, msgs []react.Message, onFragment func(string)) error {
		return errors.New("upstream down")
	})
	m, rec := newTestModel(t, model)

	m = typeAndSubmit(m, "q")
	require.Eventually(t, rec.completed, 2*time.Second, 5*time.Millisecond)
	m = drive(m, rec.snapshot())

	assert.Empty(t, m.History())
	assert.Empty(t, m.lastAnswer)
	assert.Contains(t, m.status, "Research failed")
	assert.Contains(t, m.View(), "upstream down")
}

func TestModel_StaleRunMessagesIgnored(t *testing.T) {
	m, _ := newTestModel(t, echoModel("x"))
	m.streaming = true
	m.runID = 2

	next, _ := m.Update(StreamCompleteMsg{RunID: 1})
	m = next.(Model)
	assert.True(t, m.Streaming())

	next, _ = m.Update(StreamTokenMsg{RunID: 1, Token: "stale"})
	m = next.(Model)
	assert.Zero(t, m.buffer.Pending())
}

func TestModel_ClearAndUnknownCommand(t *testing.T) {
	m, _ := newTestModel(t, echoModel("x"))
	m.history = react.Conversation{{Role: react.RoleUser, Content: "a"}, {Role: react.RoleAssistant, Content: "b"}}
	m.lastAnswer = "b"

	m = typeAndSubmit(m, "/nope")
	assert.Contains(t, m.status, "Unknown command /nope")
	assert.Len(t, m.History(), 2)

	m = typeAndSubmit(m, "/clear")
	assert.Empty(t, m.History())
	assert.Empty(t, m.lastAnswer)
}

func TestModel_PDFCommand(t *testing.T) {
	rec := &recorder{}
	runner := NewStreamRunner(react.NewController(echoModel("x")), react.ToolConfig{})
	runner.Attach(rec)

	var gotText, gotPath string
	m := New(runner, Options{Export: func(text, path string) (string, error) {
		gotText, gotPath = text, path
		return "/tmp/out.pdf", nil
	}})

	m = typeAndSubmit(m, "/pdf")
	assert.Contains(t, m.status, "Nothing to export")

	m.lastAnswer = "the report"
	m.input.SetValue("/pdf report.pdf")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)

	done, ok := cmd().(ExportDoneMsg)
	require.True(t, ok)
	assert.Equal(t, "the report", gotText)
	assert.Equal(t, "report.pdf", gotPath)

	next, _ = m.Update(done)
	m = next.(Model)
	assert.Contains(t, m.status, "/tmp/out.pdf")
}

func TestModel_CtrlCQuitsWhenIdle(t *testing.T) {
	m, _ := newTestModel(t, echoModel("x"))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, isQuit := cmd().(tea.QuitMsg)
	assert.True(t, isQuit)
}

func TestModel_EscCancelsRun(t *testing.T) {
	release := make(chan struct{})
	model := react.ModelFunc(func(ctx context.Context, msgs []react.Message, onFragment func(string)) error {
		onFragment("partial ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	})
	defer close(release)
	m, rec := newTestModel(t, model)

	m = typeAndSubmit(m, "q")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	require.Eventually(t, rec.completed, 2*time.Second, 5*time.Millisecond)
	m = drive(m, rec.snapshot())
	assert.False(t, m.Streaming())
	assert.Empty(t, m.History())
	assert.Contains(t, m.status, "Cancelled")
}

func TestRunSummary(t *testing.T) {
	transcript := react.Conversation{
		{Role: react.RoleUser, Content: "q"},
		{Role: react.RoleAssistant, Content: "Action: search_fact"},
		{Role: react.RoleUser, Content: react.ObservationPrefix + "x"},
		{Role: react.RoleAssistant, Content: "done"},
	}
	assert.Equal(t, "Done: 1 search", runSummary(transcript, 0))
	assert.Equal(t, "Done in 1.5s: 1 search", runSummary(transcript, 1500*time.Millisecond))
	assert.Equal(t, "Done: 0 searches", runSummary(nil, 0))
}
