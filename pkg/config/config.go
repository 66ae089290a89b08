// Package config loads, validates and persists the project configuration stored in
// <project>/.patchmind/config.yaml, plus the model registry and the secrets vault.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"patchmind/pkg/logx"
)

// Project layout.
const (
	ProjectConfigDir      = ".patchmind"
	ProjectConfigFilename = "config.yaml"
	DatabaseFilename      = "history.db"
	SchemaVersion         = "1.0"
)

// Workflow kinds accepted in workflow.default.
const (
	WorkflowDirect              = "direct"
	WorkflowPlanCritiqueExecute = "plan_critique_execute"
)

// Retrieval source names.
const (
	SourceGoogle     = "google"
	SourceDuckDuckGo = "duckduckgo"
	SourceLocal      = "local"
)

// Defaults applied to missing fields.
const (
	DefaultThreshold      = 0.6
	DefaultPollIntervalMS = 50
	DefaultOutputReserve  = 4096
	DefaultBudgetMax      = 100000
	DefaultMaxDepth       = 8
	DefaultMaxFileBytes   = 5 * 1024 * 1024
	DefaultPerSourceLimit = 3
	DefaultMaxPassages    = 5
	DefaultMetricsAddr    = ":9464"
	DefaultPrometheusURL  = "http://localhost:9090"
	DefaultLogKeep        = 3

	EnvGoogleSearchAPIKey = "GOOGLE_SEARCH_API_KEY"
	EnvGoogleSearchCX     = "GOOGLE_SEARCH_CX"
)

// ModelConfig selects the default model and sampling settings.
type ModelConfig struct {
	Default         string  `yaml:"default"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// BudgetConfig controls the context token budget. Default 0 derives it from the model.
type BudgetConfig struct {
	Default       int `yaml:"default"`
	Max           int `yaml:"max"`
	OutputReserve int `yaml:"output_reserve"`
}

type WorkflowConfig struct {
	Default        string `yaml:"default"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

type MatcherConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// ContextConfig controls directory expansion in the workspace.
type ContextConfig struct {
	Include          []string `yaml:"include"`
	Exclude          []string `yaml:"exclude"`
	MaxDepth         int      `yaml:"max_depth"`
	MaxFileBytes     int64    `yaml:"max_file_bytes"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
}

// RetrievalConfig selects retrieval sources. The Google key and cx fields name secrets, not values.
type RetrievalConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Sources        []string `yaml:"sources"`
	PerSourceLimit int      `yaml:"per_source_limit"`
	MaxPassages    int      `yaml:"max_passages"`
	RewriteQuery   bool     `yaml:"rewrite_query"`
	LocalDirs      []string `yaml:"local_dirs"`
	GoogleKeyName  string   `yaml:"google_key_name"`
	GoogleCXName   string   `yaml:"google_cx_name"`
}

type PersistenceConfig struct {
	DBPath string `yaml:"db_path"`
}

type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen_addr"`
	PrometheusURL string `yaml:"prometheus_url"`
}

type LogsConfig struct {
	Dir  string `yaml:"dir"`
	Keep int    `yaml:"keep"`
	Tee  bool   `yaml:"tee"`
}

// Config is the complete project configuration.
type Config struct {
	SchemaVersion string            `yaml:"schema_version"`
	Model         ModelConfig       `yaml:"model"`
	Budget        BudgetConfig      `yaml:"budget"`
	Workflow      WorkflowConfig    `yaml:"workflow"`
	Matcher       MatcherConfig     `yaml:"matcher"`
	Context       ContextConfig     `yaml:"context"`
	Retrieval     RetrievalConfig   `yaml:"retrieval"`
	Persistence   PersistenceConfig `yaml:"persistence"`
	Metrics       MetricsConfig     `yaml:"metrics"`
	Logs          LogsConfig        `yaml:"logs"`
}

// ErrNotLoaded is returned by Get before Load or SetForTesting.
var ErrNotLoaded = errors.New("config not initialized - call Load first")

//nolint:gochecknoglobals // config singleton
var (
	current    *Config
	projectDir string
	mu         sync.RWMutex
	logger     = logx.NewLogger("config")
)

// Load reads <dir>/.patchmind/config.yaml into the singleton. A missing file is created with
// defaults; an unparseable file is an error so user edits are never overwritten.
func Load(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	path := Path(dir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("config file not found, creating %s", path)
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		current = cfg
		return saveLocked()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("config file %s exists but cannot be parsed: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	current = &cfg
	logger.Debug("config loaded from %s", path)
	return nil
}

// Path returns the config file location for a project directory.
func Path(dir string) string {
	return filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
}

// Get returns a copy of the loaded config.
func Get() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Config{}, ErrNotLoaded
	}
	return current.clone(), nil
}

// ProjectDir returns the directory passed to Load.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// SetForTesting replaces the singleton. nil resets it.
func SetForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// Save writes cfg to the project directory used by Load and makes it current.
func Save(cfg *Config) error {
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	c := cfg.clone()
	current = &c
	return saveLocked()
}

// saveLocked must be called with mu held.
func saveLocked() error {
	if projectDir == "" {
		return ErrNotLoaded
	}
	path := Path(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *Config) clone() Config {
	out := *c
	out.Context.Include = append([]string(nil), c.Context.Include...)
	out.Context.Exclude = append([]string(nil), c.Context.Exclude...)
	out.Retrieval.Sources = append([]string(nil), c.Retrieval.Sources...)
	out.Retrieval.LocalDirs = append([]string(nil), c.Retrieval.LocalDirs...)
	return out
}

// Defaults returns a config with every field at its default.
func Defaults() *Config {
	cfg := &Config{
		Context: ContextConfig{
			Exclude:          []string{".git/**", ProjectConfigDir + "/**", "**/*.patchmind.json", "node_modules/**", "vendor/**"},
			RespectGitignore: true,
		},
		Retrieval: RetrievalConfig{
			Sources:      []string{SourceDuckDuckGo},
			RewriteQuery: true,
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Model.Default == "" {
		cfg.Model.Default = DefaultModel
	}
	if cfg.Model.MaxOutputTokens <= 0 {
		cfg.Model.MaxOutputTokens = defaultOutputTokens
	}
	if cfg.Budget.Max <= 0 {
		cfg.Budget.Max = DefaultBudgetMax
	}
	if cfg.Budget.OutputReserve <= 0 {
		cfg.Budget.OutputReserve = DefaultOutputReserve
	}
	if cfg.Workflow.Default == "" {
		cfg.Workflow.Default = WorkflowDirect
	}
	if cfg.Workflow.PollIntervalMS <= 0 {
		cfg.Workflow.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.Matcher.Threshold <= 0 {
		cfg.Matcher.Threshold = DefaultThreshold
	}
	if cfg.Context.MaxDepth <= 0 {
		cfg.Context.MaxDepth = DefaultMaxDepth
	}
	if cfg.Context.MaxFileBytes <= 0 {
		cfg.Context.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.Retrieval.PerSourceLimit <= 0 {
		cfg.Retrieval.PerSourceLimit = DefaultPerSourceLimit
	}
	if cfg.Retrieval.MaxPassages <= 0 {
		cfg.Retrieval.MaxPassages = DefaultMaxPassages
	}
	if cfg.Retrieval.GoogleKeyName == "" {
		cfg.Retrieval.GoogleKeyName = EnvGoogleSearchAPIKey
	}
	if cfg.Retrieval.GoogleCXName == "" {
		cfg.Retrieval.GoogleCXName = EnvGoogleSearchCX
	}
	if cfg.Persistence.DBPath == "" {
		cfg.Persistence.DBPath = filepath.Join(ProjectConfigDir, DatabaseFilename)
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = DefaultMetricsAddr
	}
	if cfg.Metrics.PrometheusURL == "" {
		cfg.Metrics.PrometheusURL = DefaultPrometheusURL
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = filepath.Join(ProjectConfigDir, "logs")
	}
	if cfg.Logs.Keep <= 0 {
		cfg.Logs.Keep = DefaultLogKeep
	}
}

func validate(cfg *Config) error {
	switch cfg.Workflow.Default {
	case WorkflowDirect, WorkflowPlanCritiqueExecute:
	default:
		return fmt.Errorf("workflow.default must be %q or %q (got %q)", WorkflowDirect, WorkflowPlanCritiqueExecute, cfg.Workflow.Default)
	}
	if cfg.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher.threshold must be in (0, 1] (got %v)", cfg.Matcher.Threshold)
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be in [0, 2] (got %v)", cfg.Model.Temperature)
	}
	if _, err := GetModelProvider(cfg.Model.Default); err != nil {
		return fmt.Errorf("model.default: %w", err)
	}
	if cfg.Budget.Default < 0 {
		return fmt.Errorf("budget.default must not be negative")
	}
	for _, s := range cfg.Retrieval.Sources {
		switch s {
		case SourceGoogle, SourceDuckDuckGo, SourceLocal:
		default:
			return fmt.Errorf("retrieval.sources: unknown source %q", s)
		}
	}
	return nil
}

// BudgetFor returns the token budget for a model: budget.default when set, otherwise the
// model's context window minus the output reserve, capped by budget.max.
func (b BudgetConfig) BudgetFor(model string) int {
	if b.Default > 0 {
		return b.Default
	}
	info, _ := GetModelInfo(model)
	budget := info.MaxContextTokens - b.OutputReserve
	if b.Max > 0 && budget > b.Max {
		budget = b.Max
	}
	if budget <= 0 {
		budget = info.MaxContextTokens / 2
	}
	return budget
}
