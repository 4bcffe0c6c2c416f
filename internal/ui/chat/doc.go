// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen research chat for the deepresearch TUI.

The package implements a Bubble Tea model over the ReAct controller. Each
submitted question starts a research run in a goroutine; fragments are
delivered to the program as messages and batched by a StreamingBuffer so
the viewport redraws at a capped frame rate.

# Key Components

## Model (model.go)

Conversation history, the text input, the scrolling viewport and the
spinner shown while a run is in flight.

## Streaming (streaming.go)

StreamRunner drains a controller run and forwards each fragment with
program.Send. StreamingBuffer batches fragments between redraws.

## Commands

  - /clear - Forget the conversation
  - /pdf [file] - Export the last answer as a PDF report
  - /exit - Leave the TUI

Esc cancels a running search; Ctrl+C cancels, or quits when idle.

# Usage

	runner := chat.NewStreamRunner(controller, tools)
	m := chat.New(runner, chat.Options{ModelName: name})
	p := tea.NewProgram(m, tea.WithAltScreen())
	runner.Attach(p)
	_, err := p.Run()
*/
package chat
