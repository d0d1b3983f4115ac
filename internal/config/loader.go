package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the standalone driver's parameters. Zero values mean
// "unspecified" and are replaced by defaults in the CLI.
type Config struct {
	Models      []string `json:"models" yaml:"models" toml:"models" env:"MDBRIDGE_MODELS" envSeparator:","`
	ModelsDir   string   `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"MDBRIDGE_MODELS_DIR"`
	Steps       int64    `json:"steps" yaml:"steps" toml:"steps" env:"MDBRIDGE_STEPS"`
	Atoms       int      `json:"atoms" yaml:"atoms" toml:"atoms" env:"MDBRIDGE_ATOMS"`
	Ranks       int      `json:"ranks" yaml:"ranks" toml:"ranks" env:"MDBRIDGE_RANKS"`
	OutFreq     int64    `json:"out_freq" yaml:"out_freq" toml:"out_freq" env:"MDBRIDGE_OUT_FREQ"`
	OutFile     string   `json:"out_file" yaml:"out_file" toml:"out_file" env:"MDBRIDGE_OUT_FILE"`
	Eps         float64  `json:"eps" yaml:"eps" toml:"eps" env:"MDBRIDGE_EPS"`
	EpsV        float64  `json:"eps_v" yaml:"eps_v" toml:"eps_v" env:"MDBRIDGE_EPS_V"`
	MonitorAddr string   `json:"monitor_addr" yaml:"monitor_addr" toml:"monitor_addr" env:"MDBRIDGE_MONITOR_ADDR"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level" env:"MDBRIDGE_LOG_LEVEL"`
}

// Load reads a configuration file based on its extension and then applies
// MDBRIDGE_* environment overrides on top.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env overrides: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables alone, for runs without
// a config file.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
