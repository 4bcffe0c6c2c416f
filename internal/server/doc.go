// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the research loop over HTTP.
//
// # Endpoints
//
//   - POST /api/research    - Run a research turn; the answer streams as chunked text/plain
//   - POST /api/report.pdf  - Render report text as a PDF attachment
//   - POST /api/report.md   - Render report text as Markdown
//   - GET  /api/usage       - Search quota snapshot
//   - GET  /healthz         - Liveness and tool availability
//
// A research request carries the whole conversation:
//
//	{"messages": [{"role": "user", "content": "LLM releases in November 2025"}], "tools": true}
//
// The server keeps no conversation state. Each request builds its own
// controller from the current config, so edits picked up by SetConfig apply
// to the next request. Closing the connection cancels the run.
//
// # Security
//
//   - Optional Bearer token on /api routes (server.token), compared in constant time
//   - CORS restricted to server.allowed_origins
//   - Per-IP limit on research runs (server.requests_per_minute)
//   - Request body size limits
//   - Security headers on every response
//
// # Usage
//
//	srv := server.New(cfg, server.WithLimiter(lim), server.WithLogger(logger))
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
package server
