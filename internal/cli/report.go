// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// report.go - One-off research reports.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/deepresearch/internal/export"
	"github.com/jeranaias/deepresearch/internal/react"
)

// ErrResearchFailed is returned when a run ends with an error fragment.
var ErrResearchFailed = errors.New("research failed")

// MaxStdinQuery bounds a topic read from a pipe.
const MaxStdinQuery = 64 * 1024

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders markdown for terminal display, or returns content
// unchanged if the renderer is unavailable.
func renderMarkdown(content string) string {
	markdownRendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// finalAnswerRe finds the closing answer in a ReAct response.
var finalAnswerRe = regexp.MustCompile(`(?i)final answer:\s*`)

// FinalReport extracts the text after the last "Final Answer:" marker, or
// returns the whole response trimmed when there is none.
func FinalReport(text string) string {
	locs := finalAnswerRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[locs[len(locs)-1][1]:])
}

// =============================================================================
// REPORT HANDLER
// =============================================================================

// reportExport is one requested output file.
type reportExport struct {
	format string
	path   string // empty for a timestamped name
}

// parseReportExports reads --pdf, --md and --format from raw args.
func parseReportExports(raw []string) ([]reportExport, error) {
	p := NewArgParser(raw)
	var out []reportExport
	for _, f := range []string{export.FormatPDF, export.FormatMarkdown} {
		if p.HasFlag(f) {
			out = append(out, reportExport{format: f, path: p.Flag(f)})
		}
	}
	if format := p.Flag("format"); format != "" {
		if _, err := export.ForFormat(format, nil); err != nil {
			return nil, NewValidationErrorWithExample("format", format, "unsupported export format",
				`deepresearch report "topic" --format md`)
		}
		out = append(out, reportExport{format: format})
	}
	return out, nil
}

// readQuery returns the topic from args or, when stdin is a pipe, from stdin.
func readQuery(args Args, in *os.File) string {
	if args.Query != "" {
		return args.Query
	}
	stat, err := in.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(bufio.NewReader(in), MaxStdinQuery))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// HandleReport handles the "report" command.
func HandleReport(ctx context.Context, args Args) error {
	query := readQuery(args, os.Stdin)
	if query == "" {
		return NewValidationErrorWithExample("topic", "", "no research topic provided",
			`deepresearch report "LLM releases in November 2025"`)
	}
	exports, err := parseReportExports(args.Raw)
	if err != nil {
		return err
	}

	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, args)
	if err != nil {
		return err
	}
	defer app.Close()

	return runReport(ctx, app, args, query, exports, IsStdoutTTY())
}

// runReport streams one report and writes the requested exports. tty
// enables the rendered summary after the raw stream.
func runReport(ctx context.Context, app *App, args Args, query string, exports []reportExport, tty bool) error {
	if !args.Quiet && !args.JSON && !app.Tools.Enabled() {
		fmt.Fprintf(stderr, "%s %s\n", WarningStyle.Render("[WARN]"),
			"No search keys configured; answering from the model alone")
	}

	start := time.Now()
	conv := react.Conversation{{Role: react.RoleUser, Content: query}}

	var transcript react.Conversation
	var text strings.Builder
	failed := ""
	for fragment := range app.Controller.Run(ctx, conv, app.Tools, react.WithTranscript(func(c react.Conversation) {
		transcript = c
	})) {
		text.WriteString(fragment)
		if strings.HasPrefix(fragment, "Error:") {
			failed = strings.TrimSpace(strings.TrimPrefix(fragment, "Error:"))
		}
		if !args.JSON {
			fmt.Fprint(stdout, fragment)
		}
	}
	if !args.JSON {
		fmt.Fprintln(stdout)
	}

	if failed != "" {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || strings.Contains(failed, "timed out") {
			return fmt.Errorf("%w: %s: %w", ErrResearchFailed, failed, context.DeadlineExceeded)
		}
		return fmt.Errorf("%w: %s", ErrResearchFailed, failed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	report := text.String()
	if tty && !args.JSON && !args.Quiet {
		fmt.Fprintln(stdout, RenderSeparatorAdaptive())
		fmt.Fprint(stdout, renderMarkdown(FinalReport(report)))
	}

	var files []string
	for _, e := range exports {
		path, err := app.ExportTo(report, e.path, e.format)
		if err != nil {
			return NewCommandError("report", "export", e.format, err)
		}
		files = append(files, path)
		if !args.JSON && !args.Quiet {
			fmt.Fprintf(stderr, "%s Saved %s\n", SuccessStyle.Render("[OK]"), path)
		}
	}

	if args.JSON {
		return NewJSONResponse("report", ReportData{
			Topic:      query,
			Model:      app.ModelName,
			Report:     report,
			Searches:   transcript.Observations(),
			DurationMs: time.Since(start).Milliseconds(),
			Files:      files,
		}).Print()
	}
	return nil
}
