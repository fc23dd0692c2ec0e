package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML config at path. A missing file is
// reported with an error matching os.ErrNotExist.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("CONVSYNC_BASE_URL"); v != "" {
		envUsed = true
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("CONVSYNC_WS_URL"); v != "" {
		envUsed = true
		cfg.Server.WSURL = v
	}
	if v := os.Getenv("CONVSYNC_TOKEN"); v != "" {
		envUsed = true
		cfg.Server.Token = v
	}
	if v := os.Getenv("CONVSYNC_USER_ID"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			envUsed = true
			cfg.Server.UserID = n
		}
	}
	if v := os.Getenv("CONVSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Sync.PageSize = n
		}
	}
	if v := os.Getenv("CONVSYNC_RESYNC_CRON"); v != "" {
		envUsed = true
		cfg.Sync.Resync.Enabled = true
		cfg.Sync.Resync.Cron = v
	}
	if v := os.Getenv("CONVSYNC_OUTBOX_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Outbox.RPS = f
		}
	}
	if v := os.Getenv("CONVSYNC_OUTBOX_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Outbox.Burst = n
		}
	}
	if v := os.Getenv("CONVSYNC_OPS_ADDR"); v != "" {
		envUsed = true
		cfg.Ops.Enabled = true
		cfg.Ops.Addr = v
	}
	if v := os.Getenv("CONVSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file is not fatal (env vars alone can configure
// the client), but a present file that fails to parse is.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	if cfg.Server.BaseURL == "" {
		return nil, envUsed, fmt.Errorf("server base_url not configured (file or CONVSYNC_BASE_URL)")
	}
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable `CONVSYNC_CONFIG` when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CONVSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
