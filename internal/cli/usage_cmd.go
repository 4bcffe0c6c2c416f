// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// usage_cmd.go - Search quota inspection and reset.
//
// Command: usage [subcommand]
//
// Subcommands:
//   show (default)      Show today's and this month's counts per provider
//   reset [PROVIDER]    Zero counters for PROVIDER (tavily, exa) or all
//
// Examples:
//   deepresearch usage
//   deepresearch usage --json
//   deepresearch usage reset exa
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// HandleUsage handles the "usage" command.
func HandleUsage(ctx context.Context, args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	// The ledger is readable even when enforcement is off.
	lim, err := usage.Open(ctx, cfg.Usage, NewLogger(cfg, args))
	if err != nil {
		return NewCommandError("usage", "open", "usage ledger unavailable", err)
	}
	defer lim.Close()

	switch strings.ToLower(args.Subcommand) {
	case "", "show", "status":
		return showUsage(ctx, lim, cfg.Usage, args)
	case "reset":
		provider := NewArgParser(args.Raw).Positional(1)
		return resetUsage(ctx, lim, provider, args)
	default:
		return NewValidationErrorWithExample("subcommand", args.Subcommand,
			"unknown usage subcommand", "deepresearch usage reset tavily")
	}
}

func showUsage(ctx context.Context, lim *usage.Limiter, cfg config.UsageConfig, args Args) error {
	statuses, err := lim.Snapshot(ctx)
	if err != nil {
		return NewCommandError("usage", "read", "usage ledger unavailable", err)
	}

	if args.JSON {
		return NewJSONResponse("usage", UsageData{
			Enforced:  cfg.Enforce,
			Backend:   cfg.Backend,
			Providers: statuses,
		}).Print()
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, TitleStyle.Render("Search Usage"))
	fmt.Fprintln(stdout, RenderSeparator())
	printUsageTable(stdout, statuses)
	fmt.Fprintln(stdout)
	if cfg.Enforce {
		fmt.Fprintf(stdout, "%s %s (%s)\n", RenderLabel("Enforcement:"), SuccessStyle.Render("on"), cfg.Backend)
	} else {
		fmt.Fprintf(stdout, "%s %s\n", RenderLabel("Enforcement:"), WarningStyle.Render("off"))
	}
	fmt.Fprintln(stdout)
	return nil
}

// printUsageTable writes one row per provider.
func printUsageTable(w io.Writer, statuses []usage.Status) {
	fmt.Fprintf(w, "  %-10s %12s %14s %10s\n",
		LabelStyle.Render("Provider"), LabelStyle.Render("Today"), LabelStyle.Render("This month"), LabelStyle.Render("Left"))
	for _, s := range statuses {
		left := fmt.Sprintf("%d", s.DailyRemaining)
		switch {
		case s.DailyRemaining == 0:
			left = ErrorStyle.Render(left)
		case s.DailyRemaining*5 <= s.Limits.Daily:
			left = WarningStyle.Render(left)
		default:
			left = SuccessStyle.Render(left)
		}
		fmt.Fprintf(w, "  %-10s %12s %14s %10s\n",
			s.Provider,
			fmt.Sprintf("%d/%d", s.DailyCount, s.Limits.Daily),
			fmt.Sprintf("%d/%d", s.MonthlyCount, s.Limits.Monthly),
			left)
	}
}

func resetUsage(ctx context.Context, lim *usage.Limiter, provider string, args Args) error {
	provider = strings.ToLower(provider)
	if provider != "" && !slices.Contains(usage.KnownProviders, provider) {
		return NewValidationErrorWithExample("provider", provider,
			"unknown provider (want "+strings.Join(usage.KnownProviders, " or ")+")",
			"deepresearch usage reset exa")
	}
	if err := lim.Reset(ctx, provider); err != nil {
		return NewCommandError("usage", "reset", "usage ledger unavailable", err)
	}

	target := provider
	if target == "" {
		target = "all providers"
	}
	if args.JSON {
		return NewJSONResponse("usage", map[string]string{"reset": target}).Print()
	}
	if !args.Quiet {
		fmt.Fprintf(stdout, "%s Usage reset for %s\n", SuccessStyle.Render("[OK]"), target)
	}
	return nil
}
