// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/deepresearch/internal/cloud"
)

const testOpenRouterKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

func sseDelta(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "gen-1",
		"choices": []map[string]any{{"delta": map[string]string{"content": content}, "finish_reason": ""}},
	})
	return string(b)
}

func TestOpenRouterModel_Stream(t *testing.T) {
	var got cloud.ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, s := range []string{"Thought: ", "", "searching"} {
			fmt.Fprintf(w, "data: %s\n\n", sseDelta(s))
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := cloud.NewOpenRouterClient(testOpenRouterKey).WithBaseURL(server.URL)
	m := NewOpenRouterModel(client, "test/model")
	assert.Equal(t, "test/model", m.Name())

	var fragments []string
	err := m.Stream(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q"},
	}, func(s string) { fragments = append(fragments, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Thought: ", "searching"}, fragments)
	assert.Equal(t, "test/model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "q", got.Messages[1].Content)
}

func TestOpenRouterModel_DrivesController(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", sseDelta("Final Answer: 42"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := cloud.NewOpenRouterClient(testOpenRouterKey).WithBaseURL(server.URL)
	c := NewController(NewOpenRouterModel(client, ""))

	out := Collect(c.Run(context.Background(), userConv("q"), ToolConfig{}))
	assert.Equal(t, "Final Answer: 42", out)
	assert.Equal(t, 1, calls)
}

func TestOpenRouterModel_ErrorSurfacesAsFragment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":401,"message":"No auth credentials found"}}`)
	}))
	defer server.Close()

	client := cloud.NewOpenRouterClient(testOpenRouterKey).WithBaseURL(server.URL)
	c := NewController(NewOpenRouterModel(client, ""))

	out := Collect(c.Run(context.Background(), userConv("q"), ToolConfig{}))
	assert.True(t, strings.HasPrefix(out, "Error: "), out)
}

func TestOpenRouterModel_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "upstream unavailable")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", sseDelta("Final Answer: 42"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	// The client itself would retry a 503; the model boundary must not.
	client := cloud.NewOpenRouterClient(testOpenRouterKey).WithBaseURL(server.URL).WithMaxRetries(3)
	c := NewController(NewOpenRouterModel(client, ""))

	out := Collect(c.Run(context.Background(), userConv("q"), ToolConfig{}))
	assert.True(t, strings.HasPrefix(out, "Error: "), out)
	assert.NotContains(t, out, "42")
	assert.Equal(t, int32(1), calls.Load())
}
