// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/deepresearch/internal/config"
)

// OpenStore opens the ledger backend selected by cfg.
func OpenStore(ctx context.Context, cfg config.UsageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Path)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown usage backend %q", cfg.Backend)
	}
}

// OptionsFromConfig converts configured quotas to limiter options.
func OptionsFromConfig(cfg config.UsageConfig, logger zerolog.Logger) []Option {
	return []Option{
		WithDefaultLimits(Limits{Daily: cfg.DailyLimit, Monthly: cfg.MonthlyLimit}),
		WithLogger(logger),
	}
}

// Open opens the configured store and wraps it in a Limiter.
func Open(ctx context.Context, cfg config.UsageConfig, logger zerolog.Logger) (*Limiter, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewLimiter(store, OptionsFromConfig(cfg, logger)...), nil
}
