// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/deepresearch/internal/react"
	"github.com/jeranaias/deepresearch/internal/util"
)

// =============================================================================
// COLORS
// =============================================================================

// Adaptive palette for light and dark terminals.
var (
	Purple        = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	Cyan          = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	Emerald       = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	Rose          = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	Amber         = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	Overlay       = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}
	TextPrimary   = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}
	TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}
	TextMuted     = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	headerStyle    = lipgloss.NewStyle().Foreground(TextSecondary)
	userLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	botLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	bodyStyle      = lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2)
	dimStyle       = lipgloss.NewStyle().Foreground(TextMuted)
	spinnerStyle   = lipgloss.NewStyle().Foreground(Purple)
	successStyle   = lipgloss.NewStyle().Foreground(Emerald)
	warningStyle   = lipgloss.NewStyle().Foreground(Amber)
	errorStyle     = lipgloss.NewStyle().Foreground(Rose)
	ruleStyle      = lipgloss.NewStyle().Foreground(Overlay)
)

// Rows taken by the header, rule, status line and input.
const chromeHeight = 5

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	m.vp.Width = width
	m.vp.Height = max(height-chromeHeight, 3)
	m.input.Width = max(width-4, 10)
}

// refresh rebuilds the viewport content and scrolls to the newest output.
func (m *Model) refresh() {
	m.vp.SetContent(m.renderEntries())
	m.vp.GotoBottom()
}

func (m *Model) renderEntries() string {
	body := bodyStyle.Width(max(m.width-2, 10))

	var b strings.Builder
	render := func(e entry) {
		if e.role == react.RoleUser {
			b.WriteString(userLabelStyle.Render("You"))
		} else {
			b.WriteString(botLabelStyle.Render("Research"))
		}
		b.WriteString("\n")
		b.WriteString(body.Render(strings.TrimSpace(e.text)))
		b.WriteString("\n\n")
	}
	for _, e := range m.entries {
		render(e)
	}
	if m.streaming {
		render(entry{role: react.RoleAssistant, text: m.answer})
	}
	return b.String()
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	tools := "search off"
	if m.runner != nil && m.runner.Tools().Enabled() {
		var on []string
		if m.runner.Tools().Available(react.ToolDiscovery) {
			on = append(on, "discovery")
		}
		if m.runner.Tools().Available(react.ToolFact) {
			on = append(on, "fact")
		}
		tools = "search: " + strings.Join(on, "+")
	}
	header := titleStyle.Render("Deep Research") + " " +
		headerStyle.Render(util.TruncateWidth(m.opts.ModelName+"  "+tools, max(m.width-15, 10)))

	status := m.status
	if m.streaming {
		status = m.spinner.View() + " " + dimStyle.Render("Researching... (esc to cancel)")
	}

	return strings.Join([]string{
		header,
		ruleStyle.Render(strings.Repeat("─", max(m.width, 1))),
		m.vp.View(),
		lipgloss.NewStyle().MaxWidth(max(m.width, 10)).Render(status),
		m.input.View(),
	}, "\n")
}

// runSummary describes a finished run for the status line.
func runSummary(transcript react.Conversation, elapsed time.Duration) string {
	n := transcript.Observations()
	noun := "searches"
	if n == 1 {
		noun = "search"
	}
	if elapsed <= 0 || elapsed > 24*time.Hour {
		return fmt.Sprintf("Done: %d %s", n, noun)
	}
	return fmt.Sprintf("Done in %s: %d %s", elapsed.Round(100*time.Millisecond), n, noun)
}
