package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	Outbox  OutboxConfig  `yaml:"outbox"`
	Upload  UploadConfig  `yaml:"upload"`
	Ops     OpsConfig     `yaml:"ops"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds backend endpoints and credentials.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`
	Token   string `yaml:"token"`
	UserID  int64  `yaml:"user_id"`
}

// SyncConfig controls paging and the scheduled resync runner.
type SyncConfig struct {
	PageSize      int          `yaml:"page_size"`
	PageIncrement int          `yaml:"page_increment"`
	Resync        ResyncConfig `yaml:"resync"`
}

// ResyncConfig holds configuration for the periodic full-reload runner.
type ResyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// OutboxConfig paces offline-queue sends.
type OutboxConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// UploadConfig bounds client-side attachment uploads.
type UploadConfig struct {
	MaxBytes SizeBytes `yaml:"max_bytes"`
}

// OpsConfig holds the local health/metrics endpoint settings.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Defaults applied when the corresponding fields are zero.
const (
	DefaultPageSize      = 50
	DefaultPageIncrement = 50
	DefaultUploadMax     = 5 * 1024 * 1024
	DefaultOutboxRPS     = 2.0
	DefaultOutboxBurst   = 5
)

// PageSizeOrDefault returns the configured initial page size or the default.
func (s SyncConfig) PageSizeOrDefault() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return DefaultPageSize
}

// PageIncrementOrDefault returns the load-more increment or the default.
func (s SyncConfig) PageIncrementOrDefault() int {
	if s.PageIncrement > 0 {
		return s.PageIncrement
	}
	return DefaultPageIncrement
}

// MaxBytesOrDefault returns the upload ceiling or the 5MB default.
func (u UploadConfig) MaxBytesOrDefault() int64 {
	if u.MaxBytes > 0 {
		return u.MaxBytes.Int64()
	}
	return DefaultUploadMax
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "5MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
