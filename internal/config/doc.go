// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for deepresearch.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ModelConfig: OpenRouter model and credentials
//   - SearchConfig: Tavily (fact) and Exa (discovery) credentials and endpoints
//   - UsageConfig: Quota enforcement policy and ledger backend
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (DEEPRESEARCH_*, then the provider-standard
//     OPENROUTER_API_KEY, TAVILY_API_KEY and EXA_API_KEY)
//   - ~/.deepresearch/config.toml
//   - ~/.deepresearch/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	limits := cfg.Usage.Limits()
//	enforce := cfg.Usage.Enforce
package config
