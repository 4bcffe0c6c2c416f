// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter chat client used to drive the
// research model.
//
// OpenRouter exposes many hosted models behind one OpenAI-compatible API.
// The research loop only needs token streaming, so the client centres on
// ChatStream, which posts a chat completion with stream=true and delivers
// each server-sent event to a callback as it arrives.
//
// # Key Types
//
//   - OpenRouterClient: HTTP client with retry and error mapping
//   - ChatMessage: Chat message in the OpenRouter wire format
//   - StreamChunk: One decoded SSE delta
//   - SSEReader: Minimal server-sent events reader
//
// # Usage
//
//	client := cloud.NewOpenRouterClient(apiKey).WithModel(cloud.DefaultModel)
//	err := client.ChatStream(ctx, []cloud.ChatMessage{
//	    cloud.NewUserMessage("What launched this week?"),
//	}, func(chunk cloud.StreamChunk) {
//	    fmt.Print(chunk.GetContent())
//	})
//
// # Security
//
// API keys are never logged; a short SHA-256 fingerprint identifies the key
// in diagnostics instead.
package cloud
