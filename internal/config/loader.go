// Package config provides configuration loading for relkit.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "RELKIT_"
)

// Load builds the effective configuration from a YAML file and environment
// variables layered over the built-in defaults.
//
// Precedence (highest to lowest):
//  1. RELKIT_-prefixed environment variables (RELKIT_GITHUB_TOKEN, RELKIT_LOG_LEVEL, ...)
//  2. YAML config file (~/.config/relkit/config.yaml by default)
//  3. Built-in defaults (Default)
//
// The config file must be owned by the operator and not group/world readable
// (0600 or 0400); weaker permissions are rejected because the file may carry
// the forge token. Files larger than 1MB are rejected.
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	RELKIT_GITHUB_TOKEN    -> github.token
//	RELKIT_LOG_LEVEL       -> log.level
//	RELKIT_WORKSPACE_ROOT  -> workspace.root
//	RELKIT_DIST_SLUG       -> dist.slug
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	// Load from the YAML file when it exists. Open once and validate through
	// the file descriptor to avoid a stat/read race.
	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	// Environment overrides. The transformer splits on the first underscore
	// after the prefix: section, then field name (which keeps underscores).
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills values that depend on the runtime environment and
// re-fills polling policies a partial file override may have zeroed.
func applyDefaults(cfg *Config) error {
	if cfg.Workspace.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.Workspace.Root = filepath.Join(home, "src")
	}

	// Conventional fallback so operators with GITHUB_TOKEN exported do not
	// need to duplicate it under the RELKIT_ prefix.
	if !cfg.GitHub.Token.IsSet() {
		cfg.GitHub.Token = Secret(os.Getenv("GITHUB_TOKEN"))
	}

	fillPoll(&cfg.Dist.MergeablePoll, 5*time.Second, 15*time.Minute)
	fillPoll(&cfg.Dist.MergedPoll, 5*time.Second, 10*time.Minute)
	fillPoll(&cfg.CI.WatchPoll, 10*time.Second, 30*time.Minute)
	fillPoll(&cfg.CI.LocatePoll, 3*time.Second, 45*time.Second)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	return nil
}

func fillPoll(p *Poll, interval, deadline time.Duration) {
	if p.Interval.Duration() <= 0 {
		p.Interval = Duration(interval)
	}
	if p.Deadline.Duration() <= 0 {
		p.Deadline = Duration(deadline)
	}
}

// EnsureStateDirs creates the relkit config and session directories with
// owner-only permissions.
func EnsureStateDirs() error {
	sessions, err := SessionsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(sessions, 0700); err != nil {
		return fmt.Errorf("creating session directory %s: %w", sessions, err)
	}
	return nil
}
