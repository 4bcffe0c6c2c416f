// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage meters search provider calls against daily and monthly quotas.
//
// Each provider has one Record holding the current day and month and the
// number of calls made in each. Records roll over lazily: the first check
// after the wall-clock day (or month) changes resets the matching counters.
//
// The Limiter serializes its read-check-increment-write sequence inside a
// Store transaction, so concurrent requests cannot overrun a quota. Three
// stores are provided:
//
//   - FileStore: JSON ledger guarded by an advisory file lock
//   - SQLiteStore: single-table ledger using immediate transactions
//   - RedisStore: JSON ledger under one key using WATCH/MULTI
//
// # Usage
//
//	store, err := usage.NewFileStore(path)
//	limiter := usage.NewLimiter(store, usage.WithDefaultLimits(usage.Limits{Daily: 30, Monthly: 1000}))
//	if err := limiter.CheckAndConsume(ctx, usage.ProviderExa); err != nil {
//	    // errors.Is(err, usage.ErrLimitExceeded) for quota rejections
//	}
package usage
