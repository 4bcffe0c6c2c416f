// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/deepresearch/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete deepresearch configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Model is the OpenRouter chat model configuration
	Model ModelConfig `toml:"model" json:"model"`

	// Search holds the search provider credentials and endpoints
	Search SearchConfig `toml:"search" json:"search"`

	// Research bounds the ReAct loop
	Research ResearchConfig `toml:"research" json:"research"`

	// Usage is the search quota policy
	Usage UsageConfig `toml:"usage" json:"usage"`

	Export ExportConfig `toml:"export" json:"export"`
	Server ServerConfig `toml:"server" json:"server"`
	Log    LogConfig    `toml:"log" json:"log"`
}

// ModelConfig contains the OpenRouter configuration.
type ModelConfig struct {
	// OpenRouterKey is the OpenRouter API key
	OpenRouterKey string `toml:"openrouter_key" json:"openrouter_key"`
	// Name is the model identifier sent with each request
	Name string `toml:"name" json:"name"`
	// BaseURL is the OpenRouter-compatible API root
	BaseURL string `toml:"base_url" json:"base_url"`
}

// SearchConfig contains search provider configuration.
//
// A provider is available to the research loop only when its key is set.
type SearchConfig struct {
	// TavilyKey enables the fact search tool
	TavilyKey string `toml:"tavily_key" json:"tavily_key"`
	// ExaKey enables the discovery search tool
	ExaKey    string `toml:"exa_key" json:"exa_key"`
	TavilyURL string `toml:"tavily_url" json:"tavily_url"`
	ExaURL    string `toml:"exa_url" json:"exa_url"`
	// RequestsPerSecond paces outbound calls per provider (0 = unpaced)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	TimeoutSecs       int     `toml:"timeout_secs" json:"timeout_secs"`
}

// ResearchConfig contains ReAct loop bounds.
type ResearchConfig struct {
	// MaxSteps is the maximum number of model invocations per request
	MaxSteps int `toml:"max_steps" json:"max_steps"`
	// TimeoutSecs bounds one research request end to end (0 = none)
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// ShowLimitNotice emits a marker when the step bound cuts off a pending action
	ShowLimitNotice bool `toml:"show_limit_notice" json:"show_limit_notice"`
}

// UsageConfig contains the search quota policy and ledger location.
type UsageConfig struct {
	// Enforce gates every search call through the usage limiter
	Enforce bool `toml:"enforce" json:"enforce"`
	// Backend is one of "file", "sqlite" or "redis"
	Backend string `toml:"backend" json:"backend"`
	// Path is the ledger file for the file and sqlite backends
	Path          string `toml:"path" json:"path"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
	DailyLimit    int    `toml:"daily_limit" json:"daily_limit"`
	MonthlyLimit  int    `toml:"monthly_limit" json:"monthly_limit"`
}

// ExportConfig contains report export settings.
type ExportConfig struct {
	OutputDir string `toml:"output_dir" json:"output_dir"`
	// FontPath is a TTF font with broad Unicode coverage; empty or missing
	// falls back to the built-in Helvetica with Windows-1252 text
	FontPath string `toml:"font_path" json:"font_path"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`

	// Token, when set, is required as a Bearer token on /api routes
	Token string `toml:"token" json:"token"`

	// RequestsPerMinute bounds research runs per client IP; 0 disables
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Pretty bool   `toml:"pretty" json:"pretty"`
}

// Backend names accepted in usage.backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultModel is the free deep-research model on OpenRouter.
const DefaultModel = "alibaba/tongyi-deepresearch-30b-a3b:free"

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Model: ModelConfig{
			Name:    DefaultModel,
			BaseURL: "https://openrouter.ai/api/v1",
		},

		Search: SearchConfig{
			TavilyURL:         "https://api.tavily.com/search",
			ExaURL:            "https://api.exa.ai/search",
			RequestsPerSecond: 2,
			TimeoutSecs:       30,
		},

		Research: ResearchConfig{
			MaxSteps:        5,
			TimeoutSecs:     600,
			ShowLimitNotice: true,
		},

		Usage: UsageConfig{
			Enforce:      true,
			Backend:      BackendFile,
			DailyLimit:   30,
			MonthlyLimit: 1000,
		},

		Export: ExportConfig{
			OutputDir: ".",
			FontPath:  filepath.Join("assets", "fonts", "DejaVuSans.ttf"),
		},

		Server: ServerConfig{
			Addr:              "127.0.0.1:8501",
			AllowedOrigins:    []string{"http://localhost:8501", "http://127.0.0.1:8501"},
			RequestsPerMinute: 10,
		},

		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the deepresearch configuration directory path.
// DEEPRESEARCH_HOME overrides the default ~/.deepresearch.
func ConfigDir() (string, error) {
	if dir := os.Getenv("DEEPRESEARCH_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".deepresearch"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files hold API keys and must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg, err := LoadFromPath(jsonPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}

	// Defaults, with any load error for informational purposes
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// finish applies env overrides, migration, defaults and validation.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.Migrate()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# deepresearch configuration file\n")
	b.WriteString("# API keys may also be supplied through OPENROUTER_API_KEY, TAVILY_API_KEY and EXA_API_KEY\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write; SECURITY: owner read/write only
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// MaxResearchSteps caps research.max_steps.
const MaxResearchSteps = 20

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Endpoints
	for field, raw := range map[string]string{
		"model.base_url":    c.Model.BaseURL,
		"search.tavily_url": c.Search.TavilyURL,
		"search.exa_url":    c.Search.ExaURL,
	} {
		if err := validateHTTPURL(raw); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	if c.Search.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "search.requests_per_second",
			Message: "must not be negative",
		})
	}

	// Research loop bounds
	if c.Research.MaxSteps < 1 || c.Research.MaxSteps > MaxResearchSteps {
		errs = append(errs, ValidationError{
			Field:   "research.max_steps",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxResearchSteps, c.Research.MaxSteps),
		})
	}
	if c.Research.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "research.timeout_secs",
			Message: "must not be negative",
		})
	}

	// Usage ledger
	switch c.Usage.Backend {
	case BackendFile, BackendSQLite:
	case BackendRedis:
		if c.Usage.RedisAddr == "" {
			errs = append(errs, ValidationError{
				Field:   "usage.redis_addr",
				Message: "required when usage.backend is redis",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "usage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, redis", c.Usage.Backend),
		})
	}
	if c.Usage.DailyLimit < 1 {
		errs = append(errs, ValidationError{
			Field:   "usage.daily_limit",
			Message: fmt.Sprintf("must be positive, got %d", c.Usage.DailyLimit),
		})
	}
	if c.Usage.MonthlyLimit < c.Usage.DailyLimit {
		errs = append(errs, ValidationError{
			Field:   "usage.monthly_limit",
			Message: fmt.Sprintf("must be at least daily_limit (%d), got %d", c.Usage.DailyLimit, c.Usage.MonthlyLimit),
		})
	}

	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.requests_per_minute",
			Message: "must not be negative",
		})
	}

	// Logging
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Model.Name == "" {
		c.Model.Name = defaults.Model.Name
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = defaults.Model.BaseURL
	}
	if c.Search.TavilyURL == "" {
		c.Search.TavilyURL = defaults.Search.TavilyURL
	}
	if c.Search.ExaURL == "" {
		c.Search.ExaURL = defaults.Search.ExaURL
	}
	if c.Search.TimeoutSecs == 0 {
		c.Search.TimeoutSecs = defaults.Search.TimeoutSecs
	}
	if c.Research.MaxSteps == 0 {
		c.Research.MaxSteps = defaults.Research.MaxSteps
	}
	if c.Usage.Backend == "" {
		c.Usage.Backend = defaults.Usage.Backend
	}
	if c.Usage.DailyLimit == 0 {
		c.Usage.DailyLimit = defaults.Usage.DailyLimit
	}
	if c.Usage.MonthlyLimit == 0 {
		c.Usage.MonthlyLimit = defaults.Usage.MonthlyLimit
	}
	if c.Usage.Path == "" && c.Usage.Backend != BackendRedis {
		if dir, err := ConfigDir(); err == nil {
			name := "usage_stats.json"
			if c.Usage.Backend == BackendSQLite {
				name = "usage.db"
			}
			c.Usage.Path = filepath.Join(dir, name)
		}
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = defaults.Export.OutputDir
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// Migrate normalizes values written by older or hand-edited configs.
func (c *Config) Migrate() {
	c.Usage.Backend = strings.ToLower(strings.TrimSpace(c.Usage.Backend))
	if c.Usage.Backend == "json" {
		c.Usage.Backend = BackendFile
	}
	c.Model.BaseURL = strings.TrimSuffix(c.Model.BaseURL, "/")
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - DEEPRESEARCH_OPENROUTER_KEY or OPENROUTER_API_KEY: model.openrouter_key
//   - DEEPRESEARCH_TAVILY_KEY or TAVILY_API_KEY: search.tavily_key
//   - DEEPRESEARCH_EXA_KEY or EXA_API_KEY: search.exa_key
//   - DEEPRESEARCH_MODEL: model.name
//   - DEEPRESEARCH_USAGE_ENFORCE: "1"/"true" or "0"/"false"
//   - DEEPRESEARCH_USAGE_BACKEND: usage.backend
//   - DEEPRESEARCH_REDIS_ADDR: usage.redis_addr
//   - DEEPRESEARCH_LOG_LEVEL: log.level
//   - DEEPRESEARCH_ADDR: server.addr
//   - DEEPRESEARCH_SERVER_TOKEN: server.token
func (c *Config) ApplyEnvOverrides() {
	if key := firstEnv("DEEPRESEARCH_OPENROUTER_KEY", "OPENROUTER_API_KEY"); key != "" {
		c.Model.OpenRouterKey = key
	}
	if key := firstEnv("DEEPRESEARCH_TAVILY_KEY", "TAVILY_API_KEY"); key != "" {
		c.Search.TavilyKey = key
	}
	if key := firstEnv("DEEPRESEARCH_EXA_KEY", "EXA_API_KEY"); key != "" {
		c.Search.ExaKey = key
	}
	if model := os.Getenv("DEEPRESEARCH_MODEL"); model != "" {
		c.Model.Name = model
	}
	if enforce := os.Getenv("DEEPRESEARCH_USAGE_ENFORCE"); enforce != "" {
		c.Usage.Enforce = parseBool(enforce)
	}
	if backend := os.Getenv("DEEPRESEARCH_USAGE_BACKEND"); backend != "" {
		c.Usage.Backend = backend
	}
	if addr := os.Getenv("DEEPRESEARCH_REDIS_ADDR"); addr != "" {
		c.Usage.RedisAddr = addr
	}
	if level := os.Getenv("DEEPRESEARCH_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if addr := os.Getenv("DEEPRESEARCH_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("DEEPRESEARCH_SERVER_TOKEN"); token != "" {
		c.Server.Token = token
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// ResearchTimeout returns research.timeout_secs as a duration.
func (c *Config) ResearchTimeout() time.Duration {
	return time.Duration(c.Research.TimeoutSecs) * time.Second
}

// SearchTimeout returns search.timeout_secs as a duration.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSecs) * time.Second
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "usage.daily_limit").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "usage.enforce").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup resolves a dotted key against toml tags.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]; tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag := strings.Split(f.Tag.Get("toml"), ",")[0]
			if tag == "" || tag == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// Redacted returns a copy with every credential replaced by "[REDACTED]".
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	for _, s := range []*string{
		&safe.Model.OpenRouterKey,
		&safe.Search.TavilyKey,
		&safe.Search.ExaKey,
		&safe.Usage.RedisPassword,
		&safe.Server.Token,
	} {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	return safe
}

// String returns a JSON representation with credentials redacted.
// SECURITY: API keys must never reach logs or terminal output.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
