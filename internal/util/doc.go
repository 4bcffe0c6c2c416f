// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the deepresearch packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync, used by the usage
//     file store, the config saver and the report exporters
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe prefix truncation for search result excerpts
//   - TruncateWidth: Display-width truncation for terminal status lines
//
// # Usage
//
//	// Keep a bounded excerpt of a search result
//	excerpt := util.TruncateRunes(text, 500)
//
//	// Write the usage ledger atomically
//	err := util.AtomicWriteFile(path, data, 0600)
package util
