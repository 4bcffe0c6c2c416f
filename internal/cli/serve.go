// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP API server command.
//
// Command: serve
// Aliases: server
//
// Examples:
//   deepresearch serve
//   deepresearch serve --addr 0.0.0.0:8501
//   DEEPRESEARCH_SERVER_TOKEN=xyz deepresearch serve
//
// config.toml is watched while serving; edits to keys, model, limits and the
// research settings apply to the next request.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/server"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// HandleServe handles the "serve" command.
func HandleServe(ctx context.Context, args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	if addr := NewArgParser(args.Raw).Flag("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	logger := NewLogger(cfg, args)

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.Usage.Enforce {
		lim, err := usage.Open(ctx, cfg.Usage, logger)
		if err != nil {
			return NewCommandError("serve", "start", "usage ledger unavailable", err)
		}
		defer lim.Close()
		opts = append(opts, server.WithLimiter(lim))
	}
	if cfg.Model.OpenRouterKey == "" {
		logger.Warn().Msg("no OpenRouter key configured; /api/research will return 503")
	}

	srv := server.New(cfg, opts...)

	if path, err := config.ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			w, err := config.NewWatcher(path, func(next *config.Config) {
				next.Server.Addr = cfg.Server.Addr
				if args.Model != "" {
					next.Model.Name = ResolveModel(args.Model)
				}
				srv.SetConfig(next)
				logger.Info().Str("path", path).Msg("config reloaded")
			}, func(err error) {
				logger.Warn().Err(err).Msg("config reload failed; keeping previous config")
			})
			if err != nil {
				logger.Warn().Err(err).Msg("config watch unavailable")
			} else {
				go w.Run(ctx)
			}
		}
	}

	if !args.Quiet && !args.JSON {
		fmt.Fprintf(stderr, "%s Serving on http://%s (Ctrl+C to stop)\n", SuccessStyle.Render("[OK]"), cfg.Server.Addr)
	}
	return srv.Run(ctx)
}
