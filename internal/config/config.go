// Package config loads and validates the zedctl HCL configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/zedctl/internal/brand"
)

// Config is the daemon configuration, decoded from zedctl.hcl.
type Config struct {
	Listen   string `hcl:"listen,optional"`
	DataDir  string `hcl:"data_dir,optional"`
	KeyFile  string `hcl:"key_file,optional"`
	LogLevel string `hcl:"log_level,optional"`

	Admin    *AdminConfig    `hcl:"admin,block"`
	Poll     *PollConfig     `hcl:"poll,block"`
	Workshop *WorkshopConfig `hcl:"workshop,block"`
	History  *HistoryConfig  `hcl:"history,block"`
}

// AdminConfig holds the single admin identity for the HTTP API.
type AdminConfig struct {
	Username     string `hcl:"username"`
	PasswordHash string `hcl:"password_hash"`
	SessionTTL   string `hcl:"session_ttl,optional"`
}

// PollConfig tunes connection supervision.
type PollConfig struct {
	Interval       string `hcl:"interval,optional"`
	CommandTimeout string `hcl:"command_timeout,optional"`
	DialTimeout    string `hcl:"dial_timeout,optional"`
	QuietPeriod    string `hcl:"quiet_period,optional"`
}

// WorkshopConfig tunes Steam Workshop page resolution.
type WorkshopConfig struct {
	BaseURL         string `hcl:"base_url,optional"`
	PolitenessDelay string `hcl:"politeness_delay,optional"`
}

// HistoryConfig tunes player count retention.
type HistoryConfig struct {
	FlushInterval string `hcl:"flush_interval,optional"`
	RawRetention  string `hcl:"raw_retention,optional"`
	Retention     string `hcl:"retention,optional"`
}

// Default returns a config with all defaults applied and no admin set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a config file. Environment variables with
// the ZEDCTL_ prefix override the listen address and data directory.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.DataDir == "" {
		c.DataDir = brand.StateDir()
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, "master.key")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Poll == nil {
		c.Poll = &PollConfig{}
	}
	if c.Workshop == nil {
		c.Workshop = &WorkshopConfig{}
	}
	if c.History == nil {
		c.History = &HistoryConfig{}
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(brand.ConfigEnvPrefix + "_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(brand.ConfigEnvPrefix + "_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// Validate checks the config for operator mistakes.
func (c *Config) Validate() error {
	if _, portStr, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	} else if port, err := strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid listen port %q", portStr)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", c.LogLevel)
	}

	if c.Admin == nil {
		return fmt.Errorf("missing admin block (run %q to generate a password hash)", brand.BinaryName+" hash-password")
	}
	if c.Admin.Username == "" {
		return fmt.Errorf("admin username must not be empty")
	}
	if c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin password_hash must not be empty")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"admin session_ttl", c.Admin.SessionTTL},
		{"poll interval", c.Poll.Interval},
		{"poll command_timeout", c.Poll.CommandTimeout},
		{"poll dial_timeout", c.Poll.DialTimeout},
		{"poll quiet_period", c.Poll.QuietPeriod},
		{"workshop politeness_delay", c.Workshop.PolitenessDelay},
		{"history flush_interval", c.History.FlushInterval},
		{"history raw_retention", c.History.RawRetention},
		{"history retention", c.History.Retention},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
	}

	return nil
}

// DatabasePath returns the SQLite file location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, brand.LowerName+".db")
}

// SessionTTL returns the parsed admin session lifetime, or zero for
// the package default.
func (c *Config) SessionTTL() time.Duration {
	return parseDurationOr(c.Admin.SessionTTL, 0)
}

// PollInterval returns the health poll interval, or zero for the
// supervisor default.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Poll.Interval, 0)
}

// CommandTimeout returns the RCON command timeout, or zero for the
// session default.
func (c *Config) CommandTimeout() time.Duration {
	return parseDurationOr(c.Poll.CommandTimeout, 0)
}

// DialTimeout returns the TCP dial timeout, or zero for the
// supervisor default.
func (c *Config) DialTimeout() time.Duration {
	return parseDurationOr(c.Poll.DialTimeout, 0)
}

// QuietPeriod returns the fragment reassembly window, or zero for the
// session default.
func (c *Config) QuietPeriod() time.Duration {
	return parseDurationOr(c.Poll.QuietPeriod, 0)
}

// PolitenessDelay returns the delay between Workshop page fetches, or
// zero for the reconciler default.
func (c *Config) PolitenessDelay() time.Duration {
	return parseDurationOr(c.Workshop.PolitenessDelay, 0)
}

// HistoryFlushInterval returns how often player samples are flushed,
// or zero for the recorder default.
func (c *Config) HistoryFlushInterval() time.Duration {
	return parseDurationOr(c.History.FlushInterval, 0)
}

// HistoryRawRetention returns how long raw player samples are kept, or
// zero for the recorder default.
func (c *Config) HistoryRawRetention() time.Duration {
	return parseDurationOr(c.History.RawRetention, 0)
}

// HistoryRetention returns how long hourly rollups are kept, or zero
// for the recorder default.
func (c *Config) HistoryRetention() time.Duration {
	return parseDurationOr(c.History.Retention, 0)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
