// Package config holds the runtime configuration: defaults, a JSON5 config
// file, and environment overrides, in that order of precedence (lowest
// first).
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for the hearth runtime.
type Config struct {
	Provider  ProviderConfig  `json:"provider"`
	Store     StoreConfig     `json:"store"`
	Heartware HeartwareConfig `json:"heartware"`
	Gateway   GatewayConfig   `json:"gateway"`
	Agent     AgentConfig     `json:"agent"`
	Compactor CompactorConfig `json:"compactor"`
	Janitor   JanitorConfig   `json:"janitor"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ProviderConfig points at an OpenAI-compatible chat API.
type ProviderConfig struct {
	Name    string `json:"name"`
	APIBase string `json:"api_base"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model"`
}

// StoreConfig locates the embedded database.
type StoreConfig struct {
	Path string `json:"path"`
}

// HeartwareConfig locates the identity/preferences/memories files.
type HeartwareConfig struct {
	Dir string `json:"dir"`
}

// GatewayConfig configures the local HTTP surface.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	MaxMessageChars int    `json:"max_message_chars"`
	RateLimitRPM    int    `json:"rate_limit_rpm"`
}

// AgentConfig tunes the primary turn pipeline.
type AgentConfig struct {
	MaxIterations  int `json:"max_iterations"`
	HistoryLimit   int `json:"history_limit"`
	TurnTimeoutSec int `json:"turn_timeout_sec"`
}

// CompactorConfig tunes history compaction.
type CompactorConfig struct {
	Threshold  int  `json:"threshold"`
	KeepRecent int  `json:"keep_recent"`
	StripEmoji bool `json:"strip_emoji"`
}

// JanitorConfig schedules retention sweeps.
type JanitorConfig struct {
	Schedule string `json:"schedule"` // cron expression
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:    "openai",
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Store: StoreConfig{
			Path: "~/.hearth/hearth.db",
		},
		Heartware: HeartwareConfig{
			Dir: "~/.hearth/heartware",
		},
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            18690,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Agent: AgentConfig{
			MaxIterations:  24,
			HistoryLimit:   50,
			TurnTimeoutSec: 300,
		},
		Compactor: CompactorConfig{
			Threshold:  60,
			KeepRecent: 20,
		},
		Janitor: JanitorConfig{
			Schedule: "0 * * * *",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "hearth",
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	return ExpandHome("~/.hearth/config.json")
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
