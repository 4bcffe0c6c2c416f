// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search wraps the external web search APIs used as research tools.
//
// Two adapters share one contract:
//
//   - Fact (Tavily): targeted search for verifying specific claims
//   - Discovery (Exa): broad semantic search for exploring a topic
//
// Search never returns a Go error. Failures come back as observation text
// beginning with "Error:" so the research loop can feed them to the model
// like any other result. Credentials are passed on every call; adapters
// hold no keys and are safe for concurrent use.
package search
