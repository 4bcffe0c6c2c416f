// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and command handlers for
// deepresearch.
//
// # Key Types
//
//   - Command: Enumeration of the available commands
//   - Args: Parsed global flags plus command-specific values
//   - App: The configured model, searchers and usage limiter for one invocation
//
// # Usage
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdReport:
//		err = cli.HandleReport(ctx, args)
//	case cli.CmdChat:
//		err = cli.HandleChat(ctx, args)
//	// ... other commands
//	}
//	cli.HandleErrorAndExit(err, args.JSON)
//
// # Commands Overview
//
//   - report: One-off report, streamed to stdout, optional PDF/Markdown export
//   - chat: Line-mode research chat with input history
//   - tui: Full-screen research chat (default with no arguments)
//   - usage: Search quota counters
//   - serve: HTTP API
//   - config, doctor, version, help
//
// Commands that print data support --json. Logs go to stderr.
package cli
