// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/deepresearch/internal/react"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamStartMsg signals that a research run has begun.
type StreamStartMsg struct {
	RunID     int
	StartTime time.Time
}

// StreamTokenMsg delivers one fragment from the run.
type StreamTokenMsg struct {
	RunID int
	Token string
}

// StreamCompleteMsg signals that the run's sequence ended.
type StreamCompleteMsg struct {
	RunID int
	// Transcript is the run's final conversation, nil if the run was abandoned
	Transcript react.Conversation
	Err        error
}

// flushTickMsg drives StreamingBuffer flushes while a run is active.
type flushTickMsg struct{}

// =============================================================================
// EXPORT MESSAGES
// =============================================================================

// ExportDoneMsg reports the outcome of a /pdf command.
type ExportDoneMsg struct {
	Path string
	Err  error
}
