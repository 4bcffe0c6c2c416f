// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package react drives a language model through a Reason+Act research loop.
//
// A run streams the model's output to the caller, looks for a tool request
// in each completed turn, executes the matching web search and feeds the
// result back as an observation turn. The run ends when the model stops
// asking for tools, requests a tool that is not configured, fails, or
// reaches the step bound.
//
// # Streaming
//
// Controller.Run returns an iter.Seq[string]. Fragments are produced as the
// model emits them, interleaved with progress markers such as
//
//	> 🔍 **Executing Discovery Search:** LLMs released November 2025
//	> ✅ **Observation obtained**
//
// Failures are streamed as text beginning with "Error:". Stopping the range
// loop cancels the in-flight model call and no further calls are issued.
//
//	for fragment := range controller.Run(ctx, conv, tools) {
//	    fmt.Print(fragment)
//	}
package react
