package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/gabewillen/mlx-vlm/internal/logger"
)

// Config represents the vlm configuration file (~/.config/vlm/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero.
type Config struct {
	Model string `yaml:"model"`

	MaxTokens   *int64   `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Seed        *int64   `yaml:"seed"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vlm", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyConfig applies config file defaults to flag variables when the
// corresponding CLI flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config,
	modelID *string, maxTokens *int64, temp *float64, seed *int64,
	logLevel, logFormat *string,
) {
	if cfg.Model != "" && !c.IsSet("model") {
		*modelID = cfg.Model
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") && !c.IsSet("max_tokens") {
		*maxTokens = *cfg.MaxTokens
	}
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		*temp = *cfg.Temperature
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*logFormat = cfg.LogFormat
	}
}

// newLogger builds the process logger from the level and format knobs.
// Logs go to stderr so generated text on stdout stays clean.
func newLogger(level, format string) logger.Logger {
	lvl := logger.ParseLevel(level)
	if format == "json" {
		return logger.JSON(os.Stderr, lvl)
	}
	return logger.Pretty(os.Stderr, lvl)
}
