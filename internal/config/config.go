package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultConfigPath    = "config.yaml"
	DefaultAgentRoot     = ".review-triage"
	DefaultContextRadius = 20
)

// DiffConfig selects what diff the collector produces.
type DiffConfig struct {
	Mode          string `yaml:"mode"`           // working, staged, pr, commit, auto
	BaseBranch    string `yaml:"base_branch"`    // pr mode; empty resolves main/master
	CommitFrom    string `yaml:"commit_from"`    // commit mode
	CommitTo      string `yaml:"commit_to"`      // commit mode; empty means HEAD
	ContextRadius int    `yaml:"context_radius"` // lines of file context around each hunk (default: 20)
}

// PlannerConfig holds configuration for the external LLM planner.
type PlannerConfig struct {
	Backend         string        `yaml:"backend"`  // openai, langchain, gemini (default: openai)
	Model           string        `yaml:"model"`    // model name
	Endpoint        string        `yaml:"endpoint"` // API base URL (openai-compatible backends)
	APIKey          string        `yaml:"api_key"`  // From YAML or Env
	Timeout         time.Duration `yaml:"timeout"`
	MaxConcurrency  int           `yaml:"max_concurrency"`   // Concurrent LLM requests (default: 2)
	IndexByteBudget int           `yaml:"index_byte_budget"` // Serialized index size before snippet slimming (default: 256KB)
	Temperature     float64       `yaml:"temperature"`
	PromptDir       string        `yaml:"prompt_dir"` // Root directory for prompt files
}

// IntentCacheConfig controls memoization of planner responses.
type IntentCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"` // default: 24h
}

// ScannerConfig is the per-scanner tunable block. Enabled is a pointer so an
// omitted key keeps the builtin default instead of silently disabling.
type ScannerConfig struct {
	Enabled *bool         `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"` // wall-clock per invocation (default: 30s)
	Command string        `yaml:"command"` // override binary path
}

// IsEnabled reports whether the scanner is enabled; unset means enabled.
func (s ScannerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ScanCacheConfig controls the content-hash scanner cache.
type ScanCacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`         // default: 1h
	MaxEntries int           `yaml:"max_entries"` // LRU eviction above this (default: 1000)
}

// ScanConfig holds configuration for the static scan side service.
type ScanConfig struct {
	Workers              int                      `yaml:"workers"`                 // scans in flight (default: 2)
	QueueSize            int                      `yaml:"queue_size"`              // pending file jobs (default: 64)
	MaxIssuesPerSeverity int                      `yaml:"max_issues_per_severity"` // session cache cap (default: 20000)
	Cache                ScanCacheConfig          `yaml:"cache"`
	Scanners             map[string]ScannerConfig `yaml:"scanners"`
}

// ScannerFor returns the configured block for a scanner name, zero when absent.
func (s ScanConfig) ScannerFor(name string) ScannerConfig {
	return s.Scanners[name]
}

// ConflictsConfig controls conflict persistence and retention.
type ConflictsConfig struct {
	Dir             string `yaml:"dir"`          // default: <agent_root>/data/conflicts
	MaxAgeDays      int    `yaml:"max_age_days"` // default: 30
	MaxCount        int    `yaml:"max_count"`    // default: 1000
	TrendWindowDays int    `yaml:"trend_window_days"`
}

// LearnedRulesConfig controls the learned-rule store.
type LearnedRulesConfig struct {
	Path  string `yaml:"path"`  // default: <agent_root>/data/learned_rules.json
	Watch bool   `yaml:"watch"` // reload on file change
}

// StorageConfig holds configuration for run/intent persistence
type StorageConfig struct {
	Driver  string        `yaml:"driver"`  // sqlite
	DSN     string        `yaml:"dsn"`     // Connection string; default: <agent_root>/data/triage.db
	Timeout time.Duration `yaml:"timeout"` // Timeout for storage operations (default: 5s)
}

// MetricsConfig exposes the optional Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9190"; empty disables the listener
}

// Config holds the configuration for the review triage pipeline
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	// AgentRoot is the base directory for all pipeline state: sessions,
	// conflicts, learned rules and the sqlite database live under
	// <agent_root>/data.
	AgentRoot string `yaml:"agent_root"`

	Diff         DiffConfig         `yaml:"diff"`
	Planner      PlannerConfig      `yaml:"planner"`
	IntentCache  IntentCacheConfig  `yaml:"intent_cache"`
	Scan         ScanConfig         `yaml:"scan"`
	Conflicts    ConflictsConfig    `yaml:"conflicts"`
	LearnedRules LearnedRulesConfig `yaml:"learned_rules"`
	Storage      StorageConfig      `yaml:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// DataDir returns the directory holding all persisted pipeline state.
func (c *Config) DataDir() string {
	return filepath.Join(c.AgentRoot, "data")
}

// SessionsDir returns the session store directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir(), "sessions")
}

// ConflictsDir returns the conflict file directory, honoring the override.
func (c *Config) ConflictsDir() string {
	if c.Conflicts.Dir != "" {
		return c.Conflicts.Dir
	}
	return filepath.Join(c.DataDir(), "conflicts")
}

// LearnedRulesPath returns the learned-rules file path, honoring the override.
func (c *Config) LearnedRulesPath() string {
	if c.LearnedRules.Path != "" {
		return c.LearnedRules.Path
	}
	return filepath.Join(c.DataDir(), "learned_rules.json")
}

// StorageDSN returns the sqlite DSN, honoring the override.
func (c *Config) StorageDSN() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	return filepath.Join(c.DataDir(), "triage.db")
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with environment variables
func LoadConfig() *Config {
	cfg := &Config{}

	// Set some defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.AgentRoot = DefaultAgentRoot

	cfg.Diff.Mode = ModeAuto
	cfg.Diff.ContextRadius = DefaultContextRadius

	cfg.Planner.Backend = BackendOpenAI
	cfg.Planner.Model = "gpt-4o"
	cfg.Planner.Endpoint = "https://api.openai.com/v1"
	cfg.Planner.Timeout = 120 * time.Second
	cfg.Planner.MaxConcurrency = 2
	cfg.Planner.IndexByteBudget = 256 * 1024
	cfg.Planner.Temperature = 0.1
	cfg.Planner.PromptDir = "prompts"

	cfg.IntentCache.Enabled = true
	cfg.IntentCache.TTL = 24 * time.Hour

	cfg.Scan.Workers = 2
	cfg.Scan.QueueSize = 64
	cfg.Scan.MaxIssuesPerSeverity = 20000
	cfg.Scan.Cache.TTL = time.Hour
	cfg.Scan.Cache.MaxEntries = 1000

	cfg.Conflicts.MaxAgeDays = 30
	cfg.Conflicts.MaxCount = 1000
	cfg.Conflicts.TrendWindowDays = 7

	cfg.LearnedRules.Watch = true

	// Log Rotation defaults
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	// Storage defaults
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Timeout = 5 * time.Second

	// Try to load from YAML
	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	normalizeScannerTimeouts(cfg)

	// Always supplement/override with environment variables for secrets and critical items
	cfg.Planner.APIKey = getEnv("LLM_API_KEY", cfg.Planner.APIKey)

	if envRoot := getEnv("AGENT_ROOT", ""); envRoot != "" {
		cfg.AgentRoot = envRoot
	}
	if envMode := getEnv("DIFF_MODE", ""); envMode != "" {
		cfg.Diff.Mode = envMode
	}
	if envBackend := getEnv("PLANNER_BACKEND", ""); envBackend != "" {
		cfg.Planner.Backend = envBackend
	}
	if envModel := getEnv("PLANNER_MODEL", ""); envModel != "" {
		cfg.Planner.Model = envModel
	}
	if envEndpoint := getEnv("PLANNER_ENDPOINT", ""); envEndpoint != "" {
		cfg.Planner.Endpoint = envEndpoint
	}

	// Support for existing environment variables for backward compatibility (optional but keep some common ones)
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}
	if envLogMaxSize := getEnvInt("LOG_MAX_SIZE", 0); envLogMaxSize != 0 {
		cfg.Log.Rotation.MaxSize = envLogMaxSize
	}
	if envLogMaxBackups := getEnvInt("LOG_MAX_BACKUPS", 0); envLogMaxBackups != 0 {
		cfg.Log.Rotation.MaxBackups = envLogMaxBackups
	}
	if envLogMaxAge := getEnvInt("LOG_MAX_AGE", 0); envLogMaxAge != 0 {
		cfg.Log.Rotation.MaxAge = envLogMaxAge
	}

	return cfg
}

// normalizeScannerTimeouts backfills the per-scanner timeout where YAML named
// a scanner without one.
func normalizeScannerTimeouts(cfg *Config) {
	for name, sc := range cfg.Scan.Scanners {
		if sc.Timeout <= 0 {
			sc.Timeout = DefaultScannerTimeout
			cfg.Scan.Scanners[name] = sc
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Planner.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}

	switch c.Diff.Mode {
	case ModeWorking, ModeStaged, ModePR, ModeCommit, ModeAuto:
	default:
		errs = append(errs, fmt.Sprintf("invalid diff mode: %q", c.Diff.Mode))
	}

	if c.Diff.Mode == ModeCommit && c.Diff.CommitFrom == "" {
		errs = append(errs, "commit mode requires diff.commit_from")
	}

	switch c.Planner.Backend {
	case BackendOpenAI, BackendLangChain, BackendGemini:
	default:
		errs = append(errs, fmt.Sprintf("invalid planner backend: %q", c.Planner.Backend))
	}

	if c.Diff.ContextRadius < 0 {
		errs = append(errs, fmt.Sprintf("negative context radius: %d", c.Diff.ContextRadius))
	}
	if c.Scan.Workers < 1 {
		errs = append(errs, fmt.Sprintf("scan workers must be >= 1, got %d", c.Scan.Workers))
	}
	if c.Scan.Cache.MaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("scan cache max entries must be >= 1, got %d", c.Scan.Cache.MaxEntries))
	}
	if c.Conflicts.MaxAgeDays < 0 {
		errs = append(errs, fmt.Sprintf("negative conflict max age: %d", c.Conflicts.MaxAgeDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
