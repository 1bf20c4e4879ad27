// Package config provides configuration for vcslog.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"vcslog/internal/ref"
)

// Config holds runtime configuration.
type Config struct {
	// CacheSize is the number of ancestor closures the reachability engine
	// keeps.
	CacheSize int
	// LogLevel is a logrus level name ("info", "debug", ...).
	LogLevel string
	// MaxCommits caps how many commits are loaded from a repository; 0
	// loads everything.
	MaxCommits int
	// RulesFile, if set, is a YAML file of ref classification rules.
	RulesFile string
	// Rules classify ref names.
	Rules ref.Rules
}

// file is the YAML config file layout.
type file struct {
	CacheSize  *int       `yaml:"cache_size"`
	LogLevel   string     `yaml:"log_level"`
	MaxCommits *int       `yaml:"max_commits"`
	RulesFile  string     `yaml:"rules_file"`
	Refs       *ref.Rules `yaml:"refs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheSize: 32,
		LogLevel:  "info",
		Rules:     ref.DefaultRules(),
	}
}

// FromEnv creates a Config from environment variables.
func FromEnv() (*Config, error) {
	return Load("")
}

// Load builds a Config from the defaults, the YAML file at path (if path
// is not empty) and then environment variables, later sources winning.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.CacheSize = getEnvInt("VCSLOG_CACHE_SIZE", cfg.CacheSize)
	cfg.LogLevel = getEnv("VCSLOG_LOG_LEVEL", cfg.LogLevel)
	cfg.MaxCommits = getEnvInt("VCSLOG_MAX_COMMITS", cfg.MaxCommits)
	cfg.RulesFile = getEnv("VCSLOG_RULES", cfg.RulesFile)

	if cfg.RulesFile != "" {
		rules, err := ref.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Rules = rules
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if f.CacheSize != nil {
		c.CacheSize = *f.CacheSize
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.MaxCommits != nil {
		c.MaxCommits = *f.MaxCommits
	}
	if f.RulesFile != "" {
		c.RulesFile = f.RulesFile
	}
	if f.Refs != nil {
		c.Rules = ref.DefaultRules().Merge(*f.Refs)
	}
	return nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if c.MaxCommits < 0 {
		return fmt.Errorf("max commits must not be negative, got %d", c.MaxCommits)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return c.Rules.Validate()
}

// Logger returns a logger writing to stderr at the configured level.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
