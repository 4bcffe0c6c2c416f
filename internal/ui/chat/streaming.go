// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/deepresearch/internal/react"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches fragments for efficient rendering. Content is
// released when the batch size is reached or the frame interval elapses,
// whichever comes first.
//
// Thread-safety: all operations take the mutex; fragments arrive from the
// runner goroutine while the Bubble Tea loop flushes.
type StreamingBuffer struct {
	mu         sync.Mutex
	buffer     strings.Builder
	tokenCount int
	lastFlush  time.Time

	batchSize  int
	minFlushMs time.Duration
}

// Default batching: 15 fragments or ~33ms (30fps).
const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// NewStreamingBuffer creates a buffer with the default thresholds.
func NewStreamingBuffer() *StreamingBuffer {
	return &StreamingBuffer{
		batchSize:  defaultBatchSize,
		minFlushMs: time.Second / defaultMaxFPS,
		lastFlush:  time.Now(),
	}
}

// Write adds a fragment to the buffer.
func (sb *StreamingBuffer) Write(token string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buffer.WriteString(token)
	sb.tokenCount++
}

// Flush returns the buffered content if a threshold has been reached.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.buffer.Len() == 0 {
		return "", false
	}
	if sb.tokenCount < sb.batchSize && time.Since(sb.lastFlush) < sb.minFlushMs {
		return "", false
	}
	return sb.takeLocked(), true
}

// ForceFlush returns everything buffered regardless of thresholds.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.buffer.Len() == 0 {
		return "", false
	}
	return sb.takeLocked(), true
}

// Reset drops buffered content.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
}

// Pending returns the number of fragments waiting to be flushed.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.tokenCount
}

func (sb *StreamingBuffer) takeLocked() string {
	content := sb.buffer.String()
	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
	return content
}

// flushTick schedules the next buffer flush.
func flushTick() tea.Cmd {
	return tea.Tick(time.Second/defaultMaxFPS, func(time.Time) tea.Msg {
		return flushTickMsg{}
	})
}

// =============================================================================
// STREAM RUNNER
// =============================================================================

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// StreamRunner executes research runs and forwards their fragments to the
// program.
type StreamRunner struct {
	controller *react.Controller
	tools      react.ToolConfig
	program    Sender
}

// NewStreamRunner creates a runner over controller. tools carries the
// per-run search credentials.
func NewStreamRunner(controller *react.Controller, tools react.ToolConfig) *StreamRunner {
	return &StreamRunner{controller: controller, tools: tools}
}

// Attach sets the program that receives stream messages. It must be called
// before the first run starts.
func (r *StreamRunner) Attach(p Sender) {
	r.program = p
}

// Tools returns the runner's search credentials.
func (r *StreamRunner) Tools() react.ToolConfig {
	return r.tools
}

// Start launches a run in a goroutine and returns immediately.
func (r *StreamRunner) Start(ctx context.Context, runID int, conv react.Conversation) {
	go r.Run(ctx, runID, conv)
}

// Run drains one research run, sending StreamStartMsg, one StreamTokenMsg
// per fragment, then StreamCompleteMsg.
func (r *StreamRunner) Run(ctx context.Context, runID int, conv react.Conversation) {
	if r.program == nil {
		return
	}
	r.program.Send(StreamStartMsg{RunID: runID, StartTime: time.Now()})

	var transcript react.Conversation
	seq := r.controller.Run(ctx, conv, r.tools, react.WithTranscript(func(c react.Conversation) {
		transcript = c
	}))
	for fragment := range seq {
		r.program.Send(StreamTokenMsg{RunID: runID, Token: fragment})
	}

	r.program.Send(StreamCompleteMsg{RunID: runID, Transcript: transcript, Err: ctx.Err()})
}
