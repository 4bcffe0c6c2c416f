// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - Full-screen research chat.
package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/deepresearch/internal/export"
	"github.com/jeranaias/deepresearch/internal/ui/chat"
)

// HandleTUI handles the "tui" command and the no-argument default.
func HandleTUI(ctx context.Context, args Args) error {
	if err := RequiresTTY("tui"); err != nil {
		return err
	}
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	// Logs would tear the alt screen; keep only errors.
	args.Quiet = true
	app, err := NewApp(ctx, cfg, args)
	if err != nil {
		return err
	}
	defer app.Close()

	runner := chat.NewStreamRunner(app.Controller, app.Tools)
	m := chat.New(runner, chat.Options{
		ModelName: app.ModelName,
		Context:   ctx,
		Export: func(text, path string) (string, error) {
			return app.ExportTo(text, path, export.FormatPDF)
		},
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	runner.Attach(p)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
