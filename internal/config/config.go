package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration structure.
type Config struct {
	Server ServerConfig `json:"server"`
	Source SourceConfig `json:"source"`
	App    AppConfig    `json:"app"`
}

type ServerConfig struct {
	Port     int    `json:"port" validate:"gt=0,lte=65535"`
	LogLevel string `json:"log_level" validate:"oneof=debug info warn error"`
}

// SourceConfig points at the conversation-history API.
type SourceConfig struct {
	BaseURL     string `json:"base_url" validate:"required,url"`
	TimeoutSecs int    `json:"timeout_secs" validate:"gt=0"`
}

// AppConfig tunes the frame loop and persistence locations.
type AppConfig struct {
	FrameRate    int    `json:"frame_rate" validate:"gt=0,lte=240"`
	SettingsPath string `json:"settings_path" validate:"required"`
	LayoutSeed   int64  `json:"layout_seed"`
	SeedExtent   int    `json:"seed_extent" validate:"gt=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8431, LogLevel: "info"},
		Source: SourceConfig{BaseURL: "http://localhost:8420", TimeoutSecs: 10},
		App: AppConfig{
			FrameRate:    30,
			SettingsPath: "convograph-settings.json",
			LayoutSeed:   1,
			SeedExtent:   400,
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
