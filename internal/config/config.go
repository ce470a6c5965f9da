// Package config loads filingcheck settings: defaults, then a YAML file,
// then FILINGCHECK_* environment variables. Command-line flags are applied
// last by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no file is named.
const DefaultFile = "filingcheck.yaml"

// Config is the complete filingcheck configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// ModelConfig configures the optional completion provider.
type ModelConfig struct {
	// Name is "provider:model"; empty answers from templates only.
	Name        string        `yaml:"name"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// AnalysisConfig configures document analysis.
type AnalysisConfig struct {
	Workers int `yaml:"workers"`
	// Catalog is a rule catalog file; empty uses the built-in ADGM catalog.
	Catalog string `yaml:"catalog"`
}

// KnowledgeConfig configures question answering retrieval.
type KnowledgeConfig struct {
	Dir   string  `yaml:"dir"`
	TopK  int     `yaml:"top_k"`
	Floor float64 `yaml:"floor"`
}

// ServerConfig configures `filingcheck serve`.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Timeout:     2 * time.Minute,
			Temperature: 0.1,
		},
		Analysis: AnalysisConfig{Workers: 4},
		Knowledge: KnowledgeConfig{
			TopK:  5,
			Floor: 0.05,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 32 << 20,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path reads DefaultFile if it exists.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	file, required := path, true
	if file == "" {
		file, required = DefaultFile, false
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("FILINGCHECK_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := getenv("FILINGCHECK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FILINGCHECK_WORKERS: %w", err)
		}
		c.Analysis.Workers = n
	}
	if v := getenv("FILINGCHECK_KB_DIR"); v != "" {
		c.Knowledge.Dir = v
	}
	if v := getenv("FILINGCHECK_CATALOG"); v != "" {
		c.Analysis.Catalog = v
	}
	if v := getenv("FILINGCHECK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis.workers must be at least 1, got %d", c.Analysis.Workers)
	}
	if c.Knowledge.TopK < 1 {
		return fmt.Errorf("knowledge.top_k must be at least 1, got %d", c.Knowledge.TopK)
	}
	if c.Knowledge.Floor < 0 || c.Knowledge.Floor >= 1 {
		return fmt.Errorf("knowledge.floor must be in [0, 1), got %g", c.Knowledge.Floor)
	}
	if c.Model.Name != "" && !strings.Contains(c.Model.Name, ":") {
		return fmt.Errorf("model.name %q: expected provider:model", c.Model.Name)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger returns a slog logger writing to w at the configured level.
// verbose forces debug level.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil || verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
