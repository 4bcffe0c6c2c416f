// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for deepresearch.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display current configuration (credentials masked)
//   get <key>           Print one value
//   set <key> <value>   Set a value in config.toml
//   path                Show configuration file path
//   init [--force]      Write a default config.toml
//
// Examples:
//   deepresearch config
//   deepresearch config show --json
//   deepresearch config set search.tavily_key tvly-xxx
//   deepresearch config set usage.daily_limit 50
//   deepresearch config set usage.backend sqlite
//   deepresearch config get research.max_steps
//
// Keys use dot notation matching the TOML file ("section.key").
package cli

import (
	"crypto/sha256"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/deepresearch/internal/config"
)

// =============================================================================
// CONFIG STYLES
// =============================================================================

var (
	configSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")).
				MarginTop(1)

	configKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(22)

	configValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82"))

	configMaskedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("242"))

	configPathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

// ConfigData is the JSON payload of "config show".
type ConfigData struct {
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
	Config *config.Config `json:"config"`
}

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch strings.ToLower(args.Subcommand) {
	case "", "show":
		return handleConfigShow(args)
	case "get":
		return handleConfigGet(args)
	case "set":
		return handleConfigSet(args)
	case "path":
		return handleConfigPath(args)
	case "init":
		return handleConfigInit(args)
	default:
		return NewValidationErrorWithExample("subcommand", args.Subcommand,
			"unknown config subcommand", "deepresearch config set usage.daily_limit 50")
	}
}

// configPath returns config.toml's location and whether it exists.
func configPath() (string, bool, error) {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return "", false, err
	}
	_, statErr := os.Stat(path)
	return path, statErr == nil, nil
}

func handleConfigShow(args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	path, exists, err := configPath()
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config show", ConfigData{
			Path:   path,
			Exists: exists,
			Config: cfg.Redacted(),
		}).Print()
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, TitleStyle.Render("deepresearch Configuration"))
	fmt.Fprintln(stdout, RenderSeparator())

	section := ""
	for _, key := range config.GetAllKeys() {
		sec, name, _ := strings.Cut(key, ".")
		if name == "" {
			continue
		}
		if sec != section {
			section = sec
			fmt.Fprintln(stdout, configSectionStyle.Render("["+sec+"]"))
		}
		value, _ := cfg.Get(key)
		fmt.Fprintf(stdout, "  %s%s\n", configKeyStyle.Render(name+":"), renderConfigValue(key, value))
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, RenderSeparator())
	note := ""
	if !exists {
		note = DimStyle.Render(" (not created; defaults and environment in use)")
	}
	fmt.Fprintf(stdout, "Config file: %s%s\n\n", configPathStyle.Render(path), note)
	return nil
}

func handleConfigGet(args Args) error {
	if args.ConfigKey == "" {
		return NewValidationErrorWithExample("key", "", "no config key provided",
			"deepresearch config get research.max_steps")
	}
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	key := normalizeConfigKey(args.ConfigKey)
	value, err := cfg.Get(key)
	if err != nil {
		return unknownKeyError(key, err)
	}
	if isSecretKey(key) {
		value = maskAPIKey(fmt.Sprint(value))
	}
	if args.JSON {
		return NewJSONResponse("config get", map[string]interface{}{"key": key, "value": value}).Print()
	}
	fmt.Fprintln(stdout, formatConfigValue(value))
	return nil
}

// handleConfigSet edits config.toml. Environment overrides are not applied
// so they never get persisted.
func handleConfigSet(args Args) error {
	if args.ConfigKey == "" {
		return NewValidationErrorWithExample("key", "", "no config key provided",
			"deepresearch config set usage.daily_limit 50")
	}
	if args.ConfigVal == "" {
		return NewValidationErrorWithExample("value", "", "no config value provided",
			"deepresearch config set "+args.ConfigKey+" <value>")
	}

	path, exists, err := configPath()
	if err != nil {
		return err
	}
	cfg := config.Default()
	if exists {
		if err := config.LoadTOML(cfg, path); err != nil {
			return NewCommandError("config", "set", "existing config.toml is invalid", err)
		}
	}

	key := normalizeConfigKey(args.ConfigKey)
	if err := cfg.Set(key, args.ConfigVal); err != nil {
		return unknownKeyError(key, err)
	}
	if key == "model.name" {
		cfg.Model.Name = ResolveModel(cfg.Model.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	shown := args.ConfigVal
	if isSecretKey(key) {
		shown = maskAPIKey(shown)
	}
	if args.JSON {
		return NewJSONResponse("config set", map[string]string{"key": key, "value": shown, "path": path}).Print()
	}
	fmt.Fprintf(stdout, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, shown)
	return nil
}

func handleConfigPath(args Args) error {
	path, exists, err := configPath()
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config path", map[string]interface{}{"path": path, "exists": exists}).Print()
	}
	fmt.Fprintln(stdout, path)
	if !exists {
		fmt.Fprintf(stderr, "%s (file does not exist; run 'deepresearch config init')\n",
			configMaskedStyle.Render("Note"))
	}
	return nil
}

func handleConfigInit(args Args) error {
	path, exists, err := configPath()
	if err != nil {
		return err
	}
	force := NewArgParser(args.Raw, "force").BoolFlag("force")
	if exists && !force {
		return NewValidationErrorWithExample("path", path, "config file already exists",
			"deepresearch config init --force")
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Print()
	}
	fmt.Fprintf(stdout, "%s Wrote %s\n", SuccessStyle.Render("[OK]"), configPathStyle.Render(path))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// normalizeConfigKey lowercases a dotted key.
func normalizeConfigKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func unknownKeyError(key string, err error) error {
	return &ValidationError{
		Field:   "key",
		Value:   key,
		Reason:  err.Error(),
		Example: "valid keys: " + strings.Join(config.GetAllKeys(), ", "),
	}
}

var secretKeyMarkers = []string{"key", "secret", "token", "password"}

func isSecretKey(key string) bool {
	name := key
	if i := strings.LastIndex(key, "."); i >= 0 {
		name = key[i+1:]
	}
	return slices.ContainsFunc(secretKeyMarkers, func(m string) bool {
		return strings.Contains(name, m)
	})
}

// maskAPIKey masks an API key for display using a SHA-256 fingerprint.
// SECURITY: showing a key prefix would let keys be correlated.
func maskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) < 8 {
		return "[invalid key]"
	}
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x...", hash[:4])
}

func renderConfigValue(key string, value interface{}) string {
	if isSecretKey(key) {
		return configMaskedStyle.Render(maskAPIKey(fmt.Sprint(value)))
	}
	s := formatConfigValue(value)
	if s == "" {
		return configMaskedStyle.Render("(empty)")
	}
	return configValueStyle.Render(s)
}

func formatConfigValue(value interface{}) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, ",")
	case nil:
		return ""
	}
	return fmt.Sprint(value)
}
