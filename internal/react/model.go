// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import (
	"context"

	"github.com/jeranaias/deepresearch/internal/cloud"
)

// Model is the streaming chat-completion boundary.
//
// Stream sends messages and calls onFragment, on the calling goroutine, for
// each text fragment in order. It returns when the response is complete or
// fails; cancelling ctx must abort an in-flight response.
type Model interface {
	Stream(ctx context.Context, messages []Message, onFragment func(string)) error
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, messages []Message, onFragment func(string)) error

// Stream implements Model.
func (f ModelFunc) Stream(ctx context.Context, messages []Message, onFragment func(string)) error {
	return f(ctx, messages, onFragment)
}

// OpenRouterModel streams completions through OpenRouter.
type OpenRouterModel struct {
	client *cloud.OpenRouterClient
	model  string
}

// NewOpenRouterModel wraps client. An empty model uses the client's default.
func NewOpenRouterModel(client *cloud.OpenRouterClient, model string) *OpenRouterModel {
	return &OpenRouterModel{client: client, model: model}
}

// Name returns the model identifier used for requests.
func (m *OpenRouterModel) Name() string {
	if m.model != "" {
		return m.model
	}
	return m.client.GetModel()
}

// Stream implements Model. Each call is a single request; failures are
// returned to the controller, never retried.
func (m *OpenRouterModel) Stream(ctx context.Context, messages []Message, onFragment func(string)) error {
	msgs := make([]cloud.ChatMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = cloud.ChatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	callback := func(chunk cloud.StreamChunk) {
		if content := chunk.GetContent(); content != "" {
			onFragment(content)
		}
	}

	return m.client.ChatStreamOnce(ctx, m.model, msgs, callback)
}
