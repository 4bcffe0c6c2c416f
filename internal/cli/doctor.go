// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation for deepresearch.
//
// Command: doctor
// Short:   Check configuration, credentials and storage
//
// Examples:
//   deepresearch doctor             Run offline checks
//   deepresearch doctor --online    Also query OpenRouter for the model list
//   deepresearch doctor --json      Results in JSON
//
// Health Checks Performed:
//   1. Config Valid       - config.toml parses and validates
//   2. OpenRouter Key     - model credential present and well formed
//   3. Fact Search        - Tavily key present
//   4. Discovery Search   - Exa key present
//   5. Usage Ledger       - quota store opens and reads
//   6. Export Directory   - output directory is writable
//   7. Export Font        - Unicode TTF present for PDF output
//   8. Model Available    - (--online) configured model is listed
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepresearch/internal/cloud"
	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	checkPassStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	checkWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	checkFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	checkMsgStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

// String returns the lower-case status used in JSON output.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the rendered status marker.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return checkPassStyle.Render("[OK]")
	case CheckWarn:
		return checkWarnStyle.Render("[!!]")
	case CheckFail:
		return checkFailStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested command or instruction
}

// Render returns a formatted line for the check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), checkMsgStyle.Render(c.Message))
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return result
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// HandleDoctor handles the "doctor" command.
func HandleDoctor(ctx context.Context, args Args) error {
	online := NewArgParser(args.Raw, "online").BoolFlag("online")

	cfg, loadErr := config.Load()
	if cfg == nil {
		cfg = config.Default()
	}
	if args.Model != "" {
		cfg.Model.Name = ResolveModel(args.Model)
	}

	checks := runAllChecks(ctx, cfg, loadErr)
	if online {
		checks = append(checks, checkModelAvailable(ctx, cfg))
	}

	summary := summarizeChecks(checks)
	if args.JSON {
		return handleDoctorJSON(checks, summary)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, TitleStyle.Render("deepresearch Doctor"))
	fmt.Fprintln(stdout, RenderSeparator())
	fmt.Fprintln(stdout)
	for _, check := range checks {
		fmt.Fprintln(stdout, check.Render())
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, RenderSeparator())

	parts := []string{fmt.Sprintf("%d passed", summary.Passed)}
	if summary.Warned > 0 {
		parts = append(parts, checkWarnStyle.Render(fmt.Sprintf("%d warning", summary.Warned)))
	}
	if summary.Failed > 0 {
		parts = append(parts, checkFailStyle.Render(fmt.Sprintf("%d failed", summary.Failed)))
	}
	fmt.Fprintln(stdout, DimStyle.Render(strings.Join(parts, ", ")))
	fmt.Fprintln(stdout)

	if summary.Failed > 0 {
		return fmt.Errorf("%d health check(s) failed", summary.Failed)
	}
	return nil
}

func summarizeChecks(checks []*HealthCheck) DoctorSummary {
	var s DoctorSummary
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			s.Passed++
		case CheckWarn:
			s.Warned++
		case CheckFail:
			s.Failed++
		}
	}
	s.Healthy = s.Failed == 0
	return s
}

func handleDoctorJSON(checks []*HealthCheck, summary DoctorSummary) error {
	out := make([]DoctorCheck, 0, len(checks))
	for _, check := range checks {
		out = append(out, DoctorCheck{
			Name:    check.Name,
			Status:  check.Status.String(),
			Message: check.Message,
			Fix:     check.Fix,
		})
	}

	resp := NewJSONResponse("doctor", DoctorData{Checks: out, Summary: summary})
	if summary.Failed > 0 {
		errMsg := fmt.Sprintf("%d health check(s) failed", summary.Failed)
		resp.Success = false
		resp.Error = &errMsg
	}
	return resp.Print()
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

// runAllChecks runs the offline checks against cfg. loadErr is the error
// config.Load returned, if any.
func runAllChecks(ctx context.Context, cfg *config.Config, loadErr error) []*HealthCheck {
	return []*HealthCheck{
		checkConfigValid(loadErr),
		checkOpenRouterKey(cfg),
		checkSearchKey("Fact Search", "Tavily", cfg.Search.TavilyKey, "search.tavily_key", "TAVILY_API_KEY"),
		checkSearchKey("Discovery Search", "Exa", cfg.Search.ExaKey, "search.exa_key", "EXA_API_KEY"),
		checkUsageLedger(ctx, cfg),
		checkExportDir(cfg),
		checkExportFont(cfg),
	}
}

func checkConfigValid(loadErr error) *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}
	path, err := config.ConfigPathTOML()
	switch {
	case loadErr != nil:
		check.Status = CheckFail
		check.Message = "Config file is invalid: " + loadErr.Error()
		check.Fix = "deepresearch config init --force"
	case err != nil:
		check.Status = CheckWarn
		check.Message = "Could not locate config directory: " + err.Error()
		check.Fix = "Set DEEPRESEARCH_HOME"
	default:
		if _, statErr := os.Stat(path); statErr != nil {
			check.Status = CheckPass
			check.Message = "No config file; using defaults and environment"
			return check
		}
		check.Status = CheckPass
		check.Message = "Config valid (" + path + ")"
	}
	return check
}

func checkOpenRouterKey(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "OpenRouter Key"}
	key := cfg.Model.OpenRouterKey
	switch {
	case key == "":
		check.Status = CheckFail
		check.Message = "OpenRouter API key not set"
		check.Fix = "export OPENROUTER_API_KEY=sk-or-... (https://openrouter.ai/keys)"
	case !cloud.ValidateAPIKey(key):
		check.Status = CheckWarn
		check.Message = "OpenRouter key looks malformed (" + maskAPIKey(key) + ")"
		check.Fix = "OpenRouter keys start with sk-or-"
	default:
		check.Status = CheckPass
		check.Message = "OpenRouter key set (" + maskAPIKey(key) + ")"
	}
	return check
}

func checkSearchKey(name, provider, key, configKey, env string) *HealthCheck {
	check := &HealthCheck{Name: name}
	if key == "" {
		check.Status = CheckWarn
		check.Message = provider + " key not set; this search tool is disabled"
		check.Fix = fmt.Sprintf("export %s=... or deepresearch config set %s ...", env, configKey)
		return check
	}
	check.Status = CheckPass
	check.Message = provider + " key set (" + maskAPIKey(key) + ")"
	return check
}

func checkUsageLedger(ctx context.Context, cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Usage Ledger"}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lim, err := usage.Open(ctx, cfg.Usage, zerolog.Nop())
	if err == nil {
		defer lim.Close()
		_, err = lim.Snapshot(ctx)
	}
	switch {
	case err != nil && cfg.Usage.Enforce:
		check.Status = CheckFail
		check.Message = fmt.Sprintf("%s ledger unavailable: %v", cfg.Usage.Backend, err)
		check.Fix = "Searches are refused while the ledger is down; check usage.path or usage.redis_addr"
	case err != nil:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("%s ledger unavailable: %v (enforcement off)", cfg.Usage.Backend, err)
	case !cfg.Usage.Enforce:
		check.Status = CheckWarn
		check.Message = "Quota enforcement is off"
		check.Fix = "deepresearch config set usage.enforce true"
	default:
		check.Status = CheckPass
		check.Message = fmt.Sprintf("%s ledger ok (%d/day, %d/month)", cfg.Usage.Backend, cfg.Usage.DailyLimit, cfg.Usage.MonthlyLimit)
	}
	return check
}

func checkExportDir(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Export Directory"}
	dir := cfg.Export.OutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		check.Status = CheckFail
		check.Message = "Cannot create " + dir + ": " + err.Error()
		check.Fix = "deepresearch config set export.output_dir <dir>"
		return check
	}
	f, err := os.CreateTemp(dir, ".deepresearch_write_test_*")
	if err != nil {
		check.Status = CheckFail
		check.Message = dir + " is not writable"
		check.Fix = "deepresearch config set export.output_dir <dir>"
		return check
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	check.Status = CheckPass
	check.Message = "Reports are written to " + dir
	return check
}

func checkExportFont(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Export Font"}
	if cfg.Export.FontPath == "" {
		check.Status = CheckWarn
		check.Message = "No PDF font configured; non-Latin text becomes '?'"
		check.Fix = "deepresearch config set export.font_path /path/to/DejaVuSans.ttf"
		return check
	}
	if _, err := os.Stat(cfg.Export.FontPath); err != nil {
		check.Status = CheckWarn
		check.Message = "PDF font " + cfg.Export.FontPath + " not found; using Helvetica"
		check.Fix = "deepresearch config set export.font_path /path/to/DejaVuSans.ttf"
		return check
	}
	check.Status = CheckPass
	check.Message = "PDF font " + cfg.Export.FontPath
	return check
}

func checkModelAvailable(ctx context.Context, cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Model Available"}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := cloud.NewOpenRouterClient(cfg.Model.OpenRouterKey).
		WithBaseURL(cfg.Model.BaseURL).
		WithMaxRetries(0)
	models, err := client.ListModels(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = "Could not reach OpenRouter: " + err.Error()
		check.Fix = "Check network access to " + cfg.Model.BaseURL
		return check
	}
	for _, m := range models {
		if m.ID == cfg.Model.Name {
			check.Status = CheckPass
			check.Message = "Model " + cfg.Model.Name + " is available"
			return check
		}
	}
	check.Status = CheckFail
	check.Message = fmt.Sprintf("Model %s not found among %d OpenRouter models", cfg.Model.Name, len(models))
	check.Fix = "deepresearch config set model.name " + config.DefaultModel
	return check
}
