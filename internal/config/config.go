package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the output encoding of analysis reports
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// DefaultIgnoreFile is the per-project file listing paths the scanner skips
const DefaultIgnoreFile = ".pystructignore"

// Config holds all configuration for pystruct
type Config struct {
	// Format selects how reports are written
	Format Format `yaml:"format" env:"PYSTRUCT_FORMAT"`

	// Logging
	LogLevel string `yaml:"log_level" env:"PYSTRUCT_LOG_LEVEL"`
	JSONLogs bool   `yaml:"json_logs" env:"PYSTRUCT_JSON_LOGS"`
	Verbose  bool   `yaml:"verbose" env:"PYSTRUCT_VERBOSE"`

	// Workers bounds how many files are analysed at once
	Workers int `yaml:"workers" env:"PYSTRUCT_WORKERS"`

	// MaxPaths caps the entry to exit paths printed per function
	MaxPaths int `yaml:"max_paths" env:"PYSTRUCT_MAX_PATHS"`

	// ExtraBuiltins are names resolved like Python builtins
	ExtraBuiltins []string `yaml:"extra_builtins" env:"PYSTRUCT_EXTRA_BUILTINS"`

	// ModuleName overrides the module name derived from the file path
	ModuleName string `yaml:"module_name" env:"PYSTRUCT_MODULE_NAME"`

	// ReportUnreachable includes unreachable blocks in text reports
	ReportUnreachable bool `yaml:"report_unreachable" env:"PYSTRUCT_REPORT_UNREACHABLE"`

	// IgnoreFile is the gitignore style file read from each analysed root
	IgnoreFile string `yaml:"ignore_file" env:"PYSTRUCT_IGNORE_FILE"`

	// Cache keeps reports of unchanged files between analyze runs
	Cache    bool   `yaml:"cache" env:"PYSTRUCT_CACHE"`
	CacheDir string `yaml:"cache_dir" env:"PYSTRUCT_CACHE_DIR"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Format:            FormatText,
		LogLevel:          "info",
		JSONLogs:          false,
		Verbose:           false,
		Workers:           runtime.NumCPU(),
		MaxPaths:          100,
		ExtraBuiltins:     nil,
		ModuleName:        "",
		ReportUnreachable: true,
		IgnoreFile:        DefaultIgnoreFile,
		Cache:             false,
		CacheDir:          filepath.Join(".pystruct", "cache"),
	}
}

// GlobalConfigFilePath returns the global config file path (~/.pystruct/config.yaml)
func GlobalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pystruct", "config.yaml")
	}
	return filepath.Join(home, ".pystruct", "config.yaml")
}

// ProjectConfigFilePath returns the project-level config file path (./.pystruct/config.yaml)
func ProjectConfigFilePath() string {
	return filepath.Join(".pystruct", "config.yaml")
}

// Load reads configuration with the following priority (highest to lowest):
// 1. Project-level config (./.pystruct/config.yaml)
// 2. Environment variables
// 3. Global config (~/.pystruct/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	return load(GlobalConfigFilePath(), ProjectConfigFilePath())
}

func load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if err := mergeFile(cfg, globalPath); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := mergeFile(cfg, projectPath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg. A missing file is not an error.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PYSTRUCT_FORMAT"); v != "" {
		cfg.Format = Format(strings.ToLower(v))
	}
	if v := os.Getenv("PYSTRUCT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PYSTRUCT_JSON_LOGS"); v != "" {
		cfg.JSONLogs = parseBool(v)
	}
	if v := os.Getenv("PYSTRUCT_VERBOSE"); v != "" {
		cfg.Verbose = parseBool(v)
	}
	if v := os.Getenv("PYSTRUCT_WORKERS"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.Workers = i
		}
	}
	if v := os.Getenv("PYSTRUCT_MAX_PATHS"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.MaxPaths = i
		}
	}
	if v := os.Getenv("PYSTRUCT_EXTRA_BUILTINS"); v != "" {
		cfg.ExtraBuiltins = splitList(v)
	}
	if v := os.Getenv("PYSTRUCT_MODULE_NAME"); v != "" {
		cfg.ModuleName = v
	}
	if v := os.Getenv("PYSTRUCT_REPORT_UNREACHABLE"); v != "" {
		cfg.ReportUnreachable = parseBool(v)
	}
	if v := os.Getenv("PYSTRUCT_IGNORE_FILE"); v != "" {
		cfg.IgnoreFile = v
	}
	if v := os.Getenv("PYSTRUCT_CACHE"); v != "" {
		cfg.Cache = parseBool(v)
	}
	if v := os.Getenv("PYSTRUCT_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
}

// Validate checks that the configuration has valid required fields
func (c *Config) Validate() error {
	switch c.Format {
	case FormatText, FormatJSON, FormatYAML, FormatMsgpack:
	default:
		return fmt.Errorf("invalid format: %s (must be text, json, yaml or msgpack)", c.Format)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxPaths <= 0 {
		return fmt.Errorf("max_paths must be positive")
	}
	for _, name := range c.ExtraBuiltins {
		if !isIdentifier(name) {
			return fmt.Errorf("extra_builtins: %q is not a Python identifier", name)
		}
	}
	if c.ModuleName != "" {
		for _, part := range strings.Split(c.ModuleName, ".") {
			if !isIdentifier(part) {
				return fmt.Errorf("module_name: %q is not a dotted Python name", c.ModuleName)
			}
		}
	}
	if c.IgnoreFile == "" {
		return fmt.Errorf("ignore_file must not be empty")
	}
	if c.Cache && c.CacheDir == "" {
		return fmt.Errorf("cache_dir must be set when cache is enabled")
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r > 127:
		default:
			return false
		}
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func parseInt(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}
