// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB).
const MaxChunkSize = 64 * 1024

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the OpenRouter streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`

	// APIError is set when the provider fails after the stream has opened.
	APIError *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the stream has finished.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// GetFinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// StreamCallback is the function type called for each received chunk.
type StreamCallback func(chunk StreamChunk)

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 4096)}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error; io.EOF when the stream ends.
// Comment lines (": OPENROUTER PROCESSING") and id/retry fields are skipped.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > MaxChunkSize {
			return "", nil, fmt.Errorf("chunk too large: %d bytes", len(line))
		}
		if err != nil {
			if err == io.EOF {
				if t := bytes.TrimRight(line, "\r\n"); bytes.HasPrefix(t, []byte("data:")) {
					dataLines = append(dataLines, bytes.TrimSpace(t[5:]))
				}
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line ends the event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion request, calling callback
// for each chunk. Cancelling ctx aborts the request.
//
// RELIABILITY: Opening the stream is retried on rate limiting and 5xx
// responses. Once any chunk has been delivered the stream is never retried,
// so callers never see duplicated content.
func (c *OpenRouterClient) ChatStream(ctx context.Context, messages []ChatMessage, callback StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			var rl *RateLimitError
			if errors.As(lastErr, &rl) && rl.RetryAfter > delay && rl.RetryAfter <= retryMaxDelay {
				delay = rl.RetryAfter
			}
			c.logger.Debug().Int("attempt", attempt+1).Dur("delay", delay).Err(lastErr).Msg("retrying stream")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.openStream(ctx, body)
		if err != nil {
			if c.isRetryable(err) && attempt+1 < c.maxRetries {
				lastErr = err
				continue
			}
			return err
		}

		err = c.processStream(ctx, resp.Body, callback)
		resp.Body.Close()
		return err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// ChatStreamOnce streams like ChatStreamWithModel but makes a single
// attempt: a failure to open the stream is returned as is. An empty model
// keeps the client's.
func (c *OpenRouterClient) ChatStreamOnce(ctx context.Context, model string, messages []ChatMessage, callback StreamCallback) error {
	clientCopy := *c
	clientCopy.maxRetries = 1
	if model != "" {
		clientCopy.SetModel(model)
	}
	return clientCopy.ChatStream(ctx, messages, callback)
}

// ChatStreamWithModel streams with a specific model without modifying the
// receiver, so it is safe to call concurrently.
func (c *OpenRouterClient) ChatStreamWithModel(ctx context.Context, model string, messages []ChatMessage, callback StreamCallback) error {
	clientCopy := *c
	clientCopy.SetModel(model)
	return clientCopy.ChatStream(ctx, messages, callback)
}

// openStream posts the request and returns the response once a 200 arrives.
func (c *OpenRouterClient) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("key", c.KeyFingerprint()).
		Int("status", resp.StatusCode).
		Dur("ttfb", time.Since(start)).
		Msg("stream opened")

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := readResponse(resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			if rl := parseRetryAfter(resp.Header.Get("Retry-After")); rl != nil {
				return nil, rl
			}
		}
		return nil, c.handleErrorResponse(resp.StatusCode, errBody)
	}
	return resp, nil
}

// processStream reads and dispatches the SSE stream until [DONE], EOF or a
// finish reason.
func (c *OpenRouterClient) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body)
	var partial strings.Builder

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StreamError{Partial: partial.String(), Err: err}
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			continue
		}

		if chunk.APIError != nil {
			return &OpenRouterError{
				Code:    string(bytes.Trim(chunk.APIError.Code, `"`)),
				Message: chunk.APIError.Message,
				Status:  http.StatusOK,
			}
		}

		partial.WriteString(chunk.GetContent())
		callback(chunk)

		if chunk.IsDone() {
			return nil
		}
	}
}

// =============================================================================
// RATE LIMIT HANDLING
// =============================================================================

// RateLimitError represents a rate limit error with retry information.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// parseRetryAfter reads a Retry-After header as seconds or an HTTP date.
func parseRetryAfter(v string) *RateLimitError {
	if v == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return &RateLimitError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	if t, err := http.ParseTime(v); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return nil
}
