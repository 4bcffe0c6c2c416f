// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/deepresearch/internal/cloud"
	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/export"
	"github.com/jeranaias/deepresearch/internal/react"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// captureOutput redirects the package output streams for one test.
func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = oldOut, oldErr })
	return &out, &errOut
}

// testHome points the config directory at a temp dir and clears the
// environment overrides.
func testHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DEEPRESEARCH_HOME", dir)
	for _, env := range []string{
		"DEEPRESEARCH_OPENROUTER_KEY", "OPENROUTER_API_KEY",
		"DEEPRESEARCH_TAVILY_KEY", "TAVILY_API_KEY",
		"DEEPRESEARCH_EXA_KEY", "EXA_API_KEY",
		"DEEPRESEARCH_MODEL", "DEEPRESEARCH_USAGE_ENFORCE", "DEEPRESEARCH_USAGE_BACKEND",
		"DEEPRESEARCH_LOG_LEVEL", "DEEPRESEARCH_SERVER_TOKEN",
	} {
		t.Setenv(env, "")
	}
	return dir
}

// testConfig returns defaults with quota enforcement off and no search keys.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Usage.Enforce = false
	cfg.Usage.Path = filepath.Join(dir, "usage.json")
	cfg.Export.OutputDir = dir
	cfg.Export.FontPath = ""
	return cfg
}

// scriptedModel answers each call with the next reply and records the
// messages it saw.
type scriptedModel struct {
	replies []string
	errs    []error
	calls   [][]react.Message
}

func (m *scriptedModel) Stream(ctx context.Context, messages []react.Message, onFragment func(string)) error {
	i := len(m.calls)
	m.calls = append(m.calls, append([]react.Message(nil), messages...))
	if i < len(m.errs) && m.errs[i] != nil {
		return m.errs[i]
	}
	if i < len(m.replies) {
		onFragment(m.replies[i])
	}
	return nil
}

func testApp(t *testing.T, cfg *config.Config, model react.Model) *App {
	t.Helper()
	app, err := newApp(context.Background(), cfg, Args{}, zerolog.Nop(), model)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func decodeJSON(t *testing.T, buf *bytes.Buffer, data interface{}) JSONResponse {
	t.Helper()
	resp := JSONResponse{Data: data}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	return resp
}

// =============================================================================
// ARGUMENT PARSING
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name  string
		argv  []string
		cmd   Command
		check func(t *testing.T, a Args)
	}{
		{name: "no args starts the tui", argv: nil, cmd: CmdTUI},
		{
			name: "report joins the topic",
			argv: []string{"report", "LLM", "releases", "--pdf"},
			cmd:  CmdReport,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "LLM releases", a.Query)
				assert.Equal(t, []string{"LLM", "releases", "--pdf"}, a.Raw)
			},
		},
		{
			name: "unknown word is a topic",
			argv: []string{"quantum", "error", "correction"},
			cmd:  CmdReport,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "quantum error correction", a.Query)
			},
		},
		{
			name: "global flags anywhere",
			argv: []string{"--no-tools", "report", "topic", "--model", "sonnet", "-q"},
			cmd:  CmdReport,
			check: func(t *testing.T, a Args) {
				assert.True(t, a.NoTools)
				assert.True(t, a.Quiet)
				assert.Equal(t, "sonnet", a.Model)
				assert.Equal(t, "topic", a.Query)
			},
		},
		{
			name: "model with equals",
			argv: []string{"--model=gpt4o", "chat"},
			cmd:  CmdChat,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "gpt4o", a.Model)
			},
		},
		{
			name: "usage reset",
			argv: []string{"usage", "reset", "exa"},
			cmd:  CmdUsage,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "reset", a.Subcommand)
				assert.Equal(t, []string{"reset", "exa"}, a.Raw)
			},
		},
		{
			name: "config set joins the value",
			argv: []string{"config", "set", "server.allowed_origins", "http://a", "http://b"},
			cmd:  CmdConfig,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "set", a.Subcommand)
				assert.Equal(t, "server.allowed_origins", a.ConfigKey)
				assert.Equal(t, "http://a http://b", a.ConfigVal)
			},
		},
		{name: "server alias", argv: []string{"server"}, cmd: CmdServe},
		{name: "doctor", argv: []string{"doctor", "--online"}, cmd: CmdDoctor},
		{name: "version flag", argv: []string{"--version"}, cmd: CmdVersion},
		{name: "help flag", argv: []string{"-h"}, cmd: CmdHelp},
		{
			name: "json flag",
			argv: []string{"usage", "--json"},
			cmd:  CmdUsage,
			check: func(t *testing.T, a Args) {
				assert.True(t, a.JSON)
				assert.Empty(t, a.Subcommand)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := ParseArgs(tt.argv)
			assert.Equal(t, tt.cmd, cmd, "got %s", cmd)
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "report", CmdReport.String())
	assert.Equal(t, "serve", CmdServe.String())
	assert.Equal(t, "unknown", Command(99).String())
}

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"reset", "tavily", "--backend", "sqlite", "--format=md", "--json=false", "-y"})
	assert.Equal(t, "reset", p.Subcommand())
	assert.Equal(t, "tavily", p.Positional(1))
	assert.Equal(t, "", p.Positional(5))
	assert.Equal(t, "sqlite", p.Flag("backend"))
	assert.Equal(t, "sqlite", p.Flag("--backend"))
	assert.Equal(t, "md", p.Flag("format"))
	assert.False(t, p.BoolFlag("json"))
	assert.True(t, p.HasFlag("json"))
	assert.True(t, p.BoolFlag("y"))
	assert.False(t, p.HasFlag("missing"))
	assert.Equal(t, []string{"tavily"}, p.PositionalFrom(1))
	assert.Nil(t, p.PositionalFrom(2))
}

func TestArgParser_BoolNamesDoNotConsumeValues(t *testing.T) {
	p := NewArgParser([]string{"--yes", "tavily"})
	assert.Equal(t, "tavily", p.Flag("yes"), "without bool names the next word is a value")

	p = NewArgParser([]string{"--yes", "tavily"}, "yes")
	assert.True(t, p.BoolFlag("yes"))
	assert.Equal(t, "tavily", p.Subcommand())
}

func TestJoinPositionalArgs(t *testing.T) {
	p := NewArgParser([]string{"latest", "llm", "releases", "--md", "out.md", "--pdf"})
	assert.Equal(t, "latest llm releases", JoinPositionalArgs(p, 0))
	assert.Equal(t, "", JoinPositionalArgs(p, 3))
}

func TestResolveModel(t *testing.T) {
	for alias, id := range cloud.OpenRouterModels {
		assert.Equal(t, id, ResolveModel(alias))
		assert.Equal(t, id, ResolveModel(strings.ToUpper(alias)))
	}
	assert.Equal(t, "vendor/custom-model", ResolveModel("vendor/custom-model"))
}

// =============================================================================
// ERRORS AND EXIT CODES
// =============================================================================

func TestGetExitCode(t *testing.T) {
	bad := config.Default()
	bad.Log.Level = "loud"

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitGeneralError},
		{"validation", NewValidationErrorWithExample("topic", "", "missing", ""), ExitUsageError},
		{"config", bad.Validate(), ExitConfigError},
		{"not configured", fmt.Errorf("wrap: %w", cloud.ErrNotConfigured), ExitConfigError},
		{"auth", cloud.ErrAuthFailed, ExitAuthError},
		{"credits", cloud.ErrInsufficientCredits, ExitAuthError},
		{"quota", fmt.Errorf("search: %w", usage.ErrLimitExceeded), ExitQuotaError},
		{"timeout", fmt.Errorf("%w: x: %w", ErrResearchFailed, context.DeadlineExceeded), ExitTimeoutError},
		{"research failed", fmt.Errorf("%w: upstream", ErrResearchFailed), ExitNetworkError},
		{"rate limited", cloud.ErrRateLimited, ExitNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := NewValidationErrorWithExample("format", "docx", "unsupported export format", "deepresearch report x --format md")
	assert.Equal(t, "invalid format: unsupported export format (got: docx)\nExample: deepresearch report x --format md", err.Error())
}

func TestCommandError_Unwrap(t *testing.T) {
	err := NewCommandError("usage", "reset", "usage ledger unavailable", usage.ErrLimitExceeded)
	assert.ErrorIs(t, err, usage.ErrLimitExceeded)
	assert.Contains(t, err.Error(), "usage reset failed")
}

func TestDisplayErrorJSON(t *testing.T) {
	out, _ := captureOutput(t)
	DisplayError(NewValidationErrorWithExample("topic", "", "no research topic provided", "deepresearch report x"), true)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "validation_error", got["error_type"])
	assert.Equal(t, "topic", got["field"])
}

// =============================================================================
// VERSION
// =============================================================================

func TestHandleVersion_JSON(t *testing.T) {
	out, _ := captureOutput(t)
	require.NoError(t, HandleVersion(Args{JSON: true}))

	var data VersionData
	resp := decodeJSON(t, out, &data)
	assert.True(t, resp.Success)
	assert.Equal(t, "version", resp.Command)
	assert.Equal(t, Version, data.Version)
	assert.NotEmpty(t, data.GoVersion)
}

func TestHandleVersion_Text(t *testing.T) {
	out, _ := captureOutput(t)
	require.NoError(t, HandleVersion(Args{}))
	assert.Contains(t, out.String(), "deepresearch version "+Version)
}

// =============================================================================
// REPORT
// =============================================================================

func TestFinalReport(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no marker", "  plain answer \n", "plain answer"},
		{"single marker", "Thought: done\nFinal Answer: The answer.", "The answer."},
		{"last marker wins", "Final Answer: draft\nObservation...\nfinal answer:  real one\n", "real one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FinalReport(tt.in))
		})
	}
}

func TestParseReportExports(t *testing.T) {
	exports, err := parseReportExports([]string{"topic", "--pdf", "--md", "notes.md"})
	require.NoError(t, err)
	assert.Equal(t, []reportExport{
		{format: export.FormatPDF},
		{format: export.FormatMarkdown, path: "notes.md"},
	}, exports)

	exports, err = parseReportExports([]string{"topic", "--format", "json"})
	require.NoError(t, err)
	assert.Equal(t, []reportExport{{format: export.FormatJSON}}, exports)

	_, err = parseReportExports([]string{"topic", "--format", "docx"})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "format", valErr.Field)

	exports, err = parseReportExports([]string{"topic"})
	require.NoError(t, err)
	assert.Empty(t, exports)
}

func TestRunReport_StreamsAndExports(t *testing.T) {
	out, errOut := captureOutput(t)
	cfg := testConfig(t)
	model := &scriptedModel{replies: []string{"# Rust\n\nFinal Answer: Rust is fast."}}
	app := testApp(t, cfg, model)

	mdPath := filepath.Join(t.TempDir(), "rust.md")
	err := runReport(context.Background(), app, Args{}, "is rust fast", []reportExport{
		{format: export.FormatMarkdown, path: mdPath},
	}, false)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Final Answer: Rust is fast.")
	assert.Contains(t, errOut.String(), "No search keys configured")
	assert.Contains(t, errOut.String(), "Saved "+mdPath)

	data, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Rust is fast.")

	require.Len(t, model.calls, 1)
	assert.Equal(t, []react.Message{{Role: react.RoleUser, Content: "is rust fast"}}, model.calls[0])
}

func TestRunReport_JSON(t *testing.T) {
	out, _ := captureOutput(t)
	cfg := testConfig(t)
	app := testApp(t, cfg, &scriptedModel{replies: []string{"Final Answer: 42"}})

	require.NoError(t, runReport(context.Background(), app, Args{JSON: true}, "meaning", nil, false))

	var data ReportData
	resp := decodeJSON(t, out, &data)
	assert.True(t, resp.Success)
	assert.Equal(t, "meaning", data.Topic)
	assert.Equal(t, "Final Answer: 42", data.Report)
	assert.Equal(t, cfg.Model.Name, data.Model)
	assert.Zero(t, data.Searches)
	assert.Empty(t, data.Files)
}

func TestRunReport_ModelError(t *testing.T) {
	out, _ := captureOutput(t)
	cfg := testConfig(t)
	app := testApp(t, cfg, &scriptedModel{errs: []error{errors.New("upstream 502")}})

	err := runReport(context.Background(), app, Args{Quiet: true}, "topic", nil, false)
	require.ErrorIs(t, err, ErrResearchFailed)
	assert.Contains(t, err.Error(), "upstream 502")
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
	assert.Contains(t, out.String(), "Error: upstream 502")
}

// =============================================================================
// CHAT
// =============================================================================

func newTestSession(t *testing.T, cfg *config.Config, model react.Model) (*ChatSession, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s := NewChatSession(testApp(t, cfg, model), Args{Quiet: true})
	s.out = &out
	return s, &out
}

func TestProcessTurn_KeepsHistory(t *testing.T) {
	model := &scriptedModel{replies: []string{"First answer.", "Second answer."}}
	s, out := newTestSession(t, testConfig(t), model)
	ctx := context.Background()

	require.NoError(t, processTurn(ctx, s, "first question"))
	require.NoError(t, processTurn(ctx, s, "follow up"))

	assert.Equal(t, 2, s.Turns)
	assert.Equal(t, "Second answer.", s.LastAnswer)
	assert.Contains(t, out.String(), "First answer.")
	assert.Contains(t, out.String(), "Second answer.")

	require.Len(t, model.calls, 2)
	assert.Equal(t, []react.Message{
		{Role: react.RoleUser, Content: "first question"},
		{Role: react.RoleAssistant, Content: "First answer."},
		{Role: react.RoleUser, Content: "follow up"},
	}, model.calls[1])
	assert.Len(t, s.History, 4)
}

func TestProcessTurn_FailureIsNotRecorded(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("model down")}}
	s, out := newTestSession(t, testConfig(t), model)

	err := processTurn(context.Background(), s, "question")
	require.ErrorIs(t, err, ErrResearchFailed)
	assert.Contains(t, err.Error(), "model down")
	assert.Contains(t, out.String(), "Error: model down")
	assert.Empty(t, s.History)
	assert.Zero(t, s.Turns)
	assert.False(t, s.Cancel(), "no run should be left in flight")
}

func TestProcessTurn_UserCancel(t *testing.T) {
	var s *ChatSession
	model := react.ModelFunc(func(ctx context.Context, _ []react.Message, onFragment func(string)) error {
		onFragment("partial")
		s.Cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	s, _ = newTestSession(t, testConfig(t), model)

	require.NoError(t, processTurn(context.Background(), s, "question"))
	assert.Empty(t, s.History)
	assert.Zero(t, s.Turns)
}

func TestHandleSlashCommand(t *testing.T) {
	cfg := testConfig(t)
	s, out := newTestSession(t, cfg, &scriptedModel{})
	ctx := context.Background()

	cont, err := handleSlashCommand(ctx, s, "/help")
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Contains(t, out.String(), "/pdf [FILE]")

	cont, err = handleSlashCommand(ctx, s, "/pdf")
	assert.True(t, cont)
	assert.EqualError(t, err, "nothing to export yet")

	cont, err = handleSlashCommand(ctx, s, "/usage")
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Contains(t, out.String(), "Quota enforcement is off")

	cont, err = handleSlashCommand(ctx, s, "/bogus")
	assert.True(t, cont)
	assert.EqualError(t, err, "unknown command /bogus (try /help)")

	for _, cmd := range []string{"/exit", "/quit", "/Q"} {
		cont, err = handleSlashCommand(ctx, s, cmd)
		require.NoError(t, err)
		assert.False(t, cont, cmd)
	}
}

func TestHandleSlashCommand_ClearAndExport(t *testing.T) {
	cfg := testConfig(t)
	s, out := newTestSession(t, cfg, &scriptedModel{replies: []string{"Final Answer: exported text"}})
	ctx := context.Background()
	require.NoError(t, processTurn(ctx, s, "q"))

	pdfPath := filepath.Join(t.TempDir(), "answer.pdf")
	_, err := handleSlashCommand(ctx, s, "/pdf "+pdfPath)
	require.NoError(t, err)
	data, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
	assert.Contains(t, out.String(), "Saved "+pdfPath)

	_, err = handleSlashCommand(ctx, s, "/clear")
	require.NoError(t, err)
	assert.Empty(t, s.History)
	assert.Empty(t, s.LastAnswer)
}

func TestHandleSlashCommand_UsageTable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Usage.Enforce = true
	cfg.Usage.DailyLimit = 5
	s, out := newTestSession(t, cfg, &scriptedModel{})
	require.NotNil(t, s.App.Limiter)
	require.NoError(t, s.App.Limiter.CheckAndConsume(context.Background(), usage.ProviderExa))

	_, err := handleSlashCommand(context.Background(), s, "/usage")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "exa")
	assert.Contains(t, out.String(), "1/5")
	assert.Contains(t, out.String(), "tavily")
}

func TestCompleteSlashCommand(t *testing.T) {
	assert.Equal(t, []string{"/pdf"}, completeSlashCommand("/p"))
	assert.Len(t, completeSlashCommand("/"), len(slashCommands))
	assert.Nil(t, completeSlashCommand("hello"))
}

// =============================================================================
// USAGE
// =============================================================================

func TestHandleUsage_ShowAndReset(t *testing.T) {
	dir := testHome(t)
	t.Setenv("DEEPRESEARCH_USAGE_ENFORCE", "true")
	ctx := context.Background()

	// Seed one search through the same ledger the command opens.
	cfg, err := LoadConfig(Args{Quiet: true})
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(cfg.Usage.Path))
	lim, err := usage.Open(ctx, cfg.Usage, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, lim.CheckAndConsume(ctx, usage.ProviderTavily))
	require.NoError(t, lim.Close())

	out, _ := captureOutput(t)
	require.NoError(t, HandleUsage(ctx, Args{JSON: true, Quiet: true}))
	var data UsageData
	decodeJSON(t, out, &data)
	assert.True(t, data.Enforced)
	require.Len(t, data.Providers, 2)
	for _, p := range data.Providers {
		if p.Provider == usage.ProviderTavily {
			assert.Equal(t, 1, p.DailyCount)
		} else {
			assert.Zero(t, p.DailyCount)
		}
	}

	out.Reset()
	require.NoError(t, HandleUsage(ctx, Args{Quiet: true, Raw: []string{"reset", "tavily"}, Subcommand: "reset"}))

	out.Reset()
	require.NoError(t, HandleUsage(ctx, Args{JSON: true, Quiet: true}))
	data = UsageData{}
	decodeJSON(t, out, &data)
	for _, p := range data.Providers {
		assert.Zero(t, p.DailyCount, p.Provider)
	}
}

func TestHandleUsage_ResetUnknownProvider(t *testing.T) {
	testHome(t)
	captureOutput(t)
	err := HandleUsage(context.Background(), Args{Quiet: true, Raw: []string{"reset", "bing"}, Subcommand: "reset"})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "provider", valErr.Field)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestHandleConfig_SetGetInit(t *testing.T) {
	dir := testHome(t)
	out, _ := captureOutput(t)
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, HandleConfig(Args{Subcommand: "init"}))
	assert.FileExists(t, path)

	err := HandleConfig(Args{Subcommand: "init"})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr, "init must not overwrite without --force")
	require.NoError(t, HandleConfig(Args{Subcommand: "init", Raw: []string{"init", "--force"}}))

	require.NoError(t, HandleConfig(Args{Subcommand: "set", ConfigKey: "Usage.Daily_Limit", ConfigVal: "50"}))
	saved := config.Default()
	require.NoError(t, config.LoadTOML(saved, path))
	assert.Equal(t, 50, saved.Usage.DailyLimit)

	out.Reset()
	require.NoError(t, HandleConfig(Args{Subcommand: "get", ConfigKey: "usage.daily_limit", Quiet: true}))
	assert.Equal(t, "50\n", out.String())
}

func TestHandleConfig_SetSecretIsMasked(t *testing.T) {
	dir := testHome(t)
	out, _ := captureOutput(t)
	secret := "sk-or-v1-0123456789abcdef0123456789abcdef"

	require.NoError(t, HandleConfig(Args{Subcommand: "set", ConfigKey: "model.openrouter_key", ConfigVal: secret}))
	assert.NotContains(t, out.String(), secret)
	assert.Contains(t, out.String(), "sha256:")

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out.Reset()
	require.NoError(t, HandleConfig(Args{Subcommand: "get", ConfigKey: "model.openrouter_key", Quiet: true}))
	assert.NotContains(t, out.String(), secret)
}

func TestHandleConfig_SetModelAlias(t *testing.T) {
	dir := testHome(t)
	captureOutput(t)
	require.NoError(t, HandleConfig(Args{Subcommand: "set", ConfigKey: "model.name", ConfigVal: "sonnet"}))

	saved := config.Default()
	require.NoError(t, config.LoadTOML(saved, filepath.Join(dir, "config.toml")))
	assert.Equal(t, cloud.OpenRouterModels["sonnet"], saved.Model.Name)
}

func TestHandleConfig_Errors(t *testing.T) {
	dir := testHome(t)
	captureOutput(t)

	err := HandleConfig(Args{Subcommand: "set", ConfigKey: "nope.key", ConfigVal: "1"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	err = HandleConfig(Args{Subcommand: "set", ConfigKey: "log.level", ConfigVal: "loud"})
	assert.Equal(t, ExitConfigError, GetExitCode(err))
	assert.NoFileExists(t, filepath.Join(dir, "config.toml"), "invalid values must not be saved")

	err = HandleConfig(Args{Subcommand: "get"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	err = HandleConfig(Args{Subcommand: "frobnicate"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestHandleConfig_ShowJSONRedactsSecrets(t *testing.T) {
	testHome(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-v1-secretsecretsecretsecretsecret")
	out, _ := captureOutput(t)

	require.NoError(t, HandleConfig(Args{Subcommand: "show", JSON: true, Quiet: true}))
	assert.NotContains(t, out.String(), "secretsecret")
	var data ConfigData
	resp := decodeJSON(t, out, &data)
	assert.True(t, resp.Success)
	assert.False(t, data.Exists)
}

func TestIsSecretKey(t *testing.T) {
	assert.True(t, isSecretKey("model.openrouter_key"))
	assert.True(t, isSecretKey("search.tavily_key"))
	assert.True(t, isSecretKey("server.token"))
	assert.True(t, isSecretKey("usage.redis_password"))
	assert.False(t, isSecretKey("model.name"))
	assert.False(t, isSecretKey("usage.daily_limit"))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "(not set)", maskAPIKey(""))
	assert.Equal(t, "[invalid key]", maskAPIKey("short"))

	masked := maskAPIKey("tvly-0123456789")
	assert.True(t, strings.HasPrefix(masked, "sha256:"))
	assert.NotContains(t, masked, "tvly")
	assert.Equal(t, masked, maskAPIKey("tvly-0123456789"), "masking is deterministic")
	assert.NotEqual(t, masked, maskAPIKey("tvly-0123456780"))
}

func TestFormatConfigValue(t *testing.T) {
	assert.Equal(t, "a,b", formatConfigValue([]string{"a", "b"}))
	assert.Equal(t, "", formatConfigValue(nil))
	assert.Equal(t, "5", formatConfigValue(5))
}

// =============================================================================
// DOCTOR
// =============================================================================

func TestDoctorChecks(t *testing.T) {
	cfg := testConfig(t)

	check := checkSearchKey("Fact Search", "Tavily", "", "search.tavily_key", "TAVILY_API_KEY")
	assert.Equal(t, CheckWarn, check.Status)
	assert.Contains(t, check.Fix, "TAVILY_API_KEY")

	check = checkSearchKey("Fact Search", "Tavily", "tvly-0123456789", "search.tavily_key", "TAVILY_API_KEY")
	assert.Equal(t, CheckPass, check.Status)
	assert.NotContains(t, check.Message, "tvly-0123456789")

	assert.Equal(t, CheckFail, checkOpenRouterKey(cfg).Status)
	cfg.Model.OpenRouterKey = "not-a-key"
	assert.Equal(t, CheckWarn, checkOpenRouterKey(cfg).Status)

	assert.Equal(t, CheckWarn, checkExportFont(cfg).Status)
	cfg.Export.FontPath = filepath.Join(t.TempDir(), "missing.ttf")
	assert.Equal(t, CheckWarn, checkExportFont(cfg).Status)

	assert.Equal(t, CheckPass, checkExportDir(cfg).Status)

	assert.Equal(t, CheckFail, checkConfigValid(errors.New("bad toml")).Status)
}

func TestDoctorUsageLedger(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	assert.Equal(t, CheckWarn, checkUsageLedger(ctx, cfg).Status, "enforcement off")

	cfg.Usage.Enforce = true
	assert.Equal(t, CheckPass, checkUsageLedger(ctx, cfg).Status)

	cfg.Usage.Backend = "carrier-pigeon"
	assert.Equal(t, CheckFail, checkUsageLedger(ctx, cfg).Status)
}

func TestSummarizeChecks(t *testing.T) {
	summary := summarizeChecks([]*HealthCheck{
		{Status: CheckPass}, {Status: CheckPass}, {Status: CheckWarn},
	})
	assert.Equal(t, DoctorSummary{Passed: 2, Warned: 1, Healthy: true}, summary)

	summary = summarizeChecks([]*HealthCheck{{Status: CheckFail}})
	assert.False(t, summary.Healthy)
	assert.Equal(t, 1, summary.Failed)
}

func TestHandleDoctorJSON_Failure(t *testing.T) {
	out, _ := captureOutput(t)
	checks := []*HealthCheck{
		{Name: "OpenRouter Key", Status: CheckFail, Message: "not set", Fix: "export OPENROUTER_API_KEY=..."},
	}
	require.NoError(t, handleDoctorJSON(checks, summarizeChecks(checks)))

	var data DoctorData
	resp := decodeJSON(t, out, &data)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Len(t, data.Checks, 1)
	assert.Equal(t, "fail", data.Checks[0].Status)
}

func TestCheckStatusString(t *testing.T) {
	assert.Equal(t, "pass", CheckPass.String())
	assert.Equal(t, "warn", CheckWarn.String())
	assert.Equal(t, "fail", CheckFail.String())
}
