package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("HEARTH_PROVIDER_NAME", &c.Provider.Name)
	envStr("HEARTH_API_BASE", &c.Provider.APIBase)
	envStr("HEARTH_API_KEY", &c.Provider.APIKey)
	envStr("HEARTH_MODEL", &c.Provider.Model)

	envStr("HEARTH_DB_PATH", &c.Store.Path)
	envStr("HEARTH_HEARTWARE_DIR", &c.Heartware.Dir)

	envStr("HEARTH_HOST", &c.Gateway.Host)
	envInt("HEARTH_PORT", &c.Gateway.Port)
	envInt("HEARTH_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)

	envStr("HEARTH_JANITOR_SCHEDULE", &c.Janitor.Schedule)

	envBool("HEARTH_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("HEARTH_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("HEARTH_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("HEARTH_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

func (c *Config) expandPaths() {
	c.Store.Path = ExpandHome(c.Store.Path)
	c.Heartware.Dir = ExpandHome(c.Heartware.Dir)
}
