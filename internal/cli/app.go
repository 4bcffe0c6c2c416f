// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring shared by the research commands.
package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/deepresearch/internal/cloud"
	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/export"
	"github.com/jeranaias/deepresearch/internal/logging"
	"github.com/jeranaias/deepresearch/internal/react"
	"github.com/jeranaias/deepresearch/internal/search"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// App bundles the configured research pipeline for one CLI invocation.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	ModelName  string
	Controller *react.Controller
	// Limiter is nil when usage.enforce is off
	Limiter *usage.Limiter
	Tools   react.ToolConfig
}

// LoadConfig loads the config file and applies command-line overrides.
// A broken config file is reported and defaults are used.
func LoadConfig(args Args) (*config.Config, error) {
	cfg, err := config.Load()
	if cfg == nil {
		return nil, err
	}
	if err != nil && !args.Quiet {
		fmt.Fprintf(stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
	}
	if args.Model != "" {
		cfg.Model.Name = ResolveModel(args.Model)
	}
	if args.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// ResolveModel expands a model alias ("sonnet", "deepresearch") to its
// OpenRouter identifier. Unknown names pass through.
func ResolveModel(name string) string {
	if id, ok := cloud.OpenRouterModels[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// NewLogger builds the CLI logger. Logs go to stderr so stdout stays clean
// for reports and JSON.
func NewLogger(cfg *config.Config, args Args) zerolog.Logger {
	level := cfg.Log.Level
	if args.Quiet && !args.Verbose {
		level = "error"
	}
	return logging.New(logging.Options{
		Level:  level,
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	})
}

// ToolsFromConfig returns the search credentials for a run.
func ToolsFromConfig(cfg *config.Config) react.ToolConfig {
	return react.ToolConfig{
		DiscoveryKey: cfg.Search.ExaKey,
		FactKey:      cfg.Search.TavilyKey,
	}
}

// ControllerOptions returns the controller options implied by cfg, without
// searchers or limiter.
func ControllerOptions(cfg *config.Config, logger zerolog.Logger) []react.Option {
	return []react.Option{
		react.WithMaxSteps(cfg.Research.MaxSteps),
		react.WithTimeout(cfg.ResearchTimeout()),
		react.WithLimitNotice(cfg.Research.ShowLimitNotice),
		react.WithLogger(logger),
	}
}

// NewModelClient builds the OpenRouter client from cfg.
func NewModelClient(cfg *config.Config, logger zerolog.Logger) (*cloud.OpenRouterClient, error) {
	client := cloud.NewOpenRouterClient(cfg.Model.OpenRouterKey).
		WithBaseURL(cfg.Model.BaseURL).
		WithLogger(logger)
	if !client.IsConfigured() {
		return nil, fmt.Errorf("%w: set model.openrouter_key or OPENROUTER_API_KEY", cloud.ErrNotConfigured)
	}
	return client, nil
}

// NewApp wires the OpenRouter model, search adapters and usage limiter.
func NewApp(ctx context.Context, cfg *config.Config, args Args) (*App, error) {
	logger := NewLogger(cfg, args)
	client, err := NewModelClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, args, logger, react.NewOpenRouterModel(client, cfg.Model.Name))
}

func newApp(ctx context.Context, cfg *config.Config, args Args, logger zerolog.Logger, model react.Model) (*App, error) {
	fact, discovery := search.FromConfig(cfg.Search, logger)
	opts := append(ControllerOptions(cfg, logger), react.WithSearchers(discovery, fact))

	app := &App{
		Config:    cfg,
		Logger:    logger,
		ModelName: cfg.Model.Name,
	}

	if cfg.Usage.Enforce {
		lim, err := usage.Open(ctx, cfg.Usage, logger)
		if err != nil {
			return nil, fmt.Errorf("open usage ledger: %w", err)
		}
		app.Limiter = lim
		opts = append(opts, react.WithLimiter(lim))
	}

	if !args.NoTools {
		app.Tools = ToolsFromConfig(cfg)
	}
	app.Controller = react.NewController(model, opts...)
	return app, nil
}

// Close releases the usage ledger.
func (a *App) Close() error {
	if a.Limiter != nil {
		return a.Limiter.Close()
	}
	return nil
}

// ExportOptions returns export settings for this app.
func (a *App) ExportOptions() *export.Options {
	opts := export.DefaultOptions()
	opts.OutputDir = a.Config.Export.OutputDir
	opts.FontPath = a.Config.Export.FontPath
	opts.Model = a.ModelName
	return opts
}

// ExportTo writes text to path in the format implied by its extension, or
// to a timestamped file in the output directory when path is empty.
func (a *App) ExportTo(text, path, format string) (string, error) {
	opts := a.ExportOptions()
	if path == "" {
		exporter, err := export.ForFormat(format, opts)
		if err != nil {
			return "", err
		}
		return export.ExportToFile(text, exporter, opts)
	}
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		format = ext
	}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.WriteFile(path, text, exporter)
}
