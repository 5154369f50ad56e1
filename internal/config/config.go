// Package config loads the optional androsync configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"

	"github.com/sonodavide/androsync/internal/category"
	"github.com/sonodavide/androsync/internal/filter"
)

// Config represents the optional androsync configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	// Categories maps extra file extensions to category names.
	Categories map[string]string `toml:"categories"`
	Excludes   ExcludesConfig    `toml:"excludes"`
	SFTP       SFTPConfig        `toml:"sftp"`
}

// DefaultsConfig holds persistent flag defaults. Nil fields leave the flag
// default alone.
type DefaultsConfig struct {
	Workers    *int     `toml:"workers"`
	Tolerance  *string  `toml:"tolerance"`
	Mode       *string  `toml:"mode"`
	SaveEvery  *int     `toml:"save_every"`
	Retries    *int     `toml:"retries"`
	BWLimit    *string  `toml:"bwlimit"`
	CheckLocal *bool    `toml:"check_local"`
	Link       *string  `toml:"link"`
	ADB        *string  `toml:"adb"`
	Serial     *string  `toml:"serial"`
	Roots      []string `toml:"roots"`
	Categories []string `toml:"categories"`
}

// ExcludesConfig holds extra exclude patterns.
type ExcludesConfig struct {
	Patterns []string `toml:"patterns"`
	// NoDefaults drops the built-in excludes.
	NoDefaults *bool `toml:"no_defaults"`
}

// SFTPConfig holds the SSH settings of the sftp link.
type SFTPConfig struct {
	Host       *string `toml:"host"`
	User       *string `toml:"user"`
	Port       *int    `toml:"port"`
	KeyFile    *string `toml:"key_file"`
	KnownHosts *string `toml:"known_hosts"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "androsync", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	path, err := Expand(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := c.Defaults.ToleranceDuration(); err != nil {
		return err
	}
	for ext, name := range c.Categories {
		if _, err := category.Parse(name); err != nil {
			return fmt.Errorf("categories.%s: %w", ext, err)
		}
	}
	return nil
}

// ToleranceDuration parses the tolerance default; zero when unset.
func (d DefaultsConfig) ToleranceDuration() (time.Duration, error) {
	if d.Tolerance == nil {
		return 0, nil
	}
	v, err := time.ParseDuration(*d.Tolerance)
	if err != nil {
		return 0, fmt.Errorf("defaults.tolerance: %w", err)
	}
	if v < 0 {
		return 0, fmt.Errorf("defaults.tolerance: must not be negative")
	}
	return v, nil
}

// ApplyCategories adds the [categories] mappings to rules.
func (c Config) ApplyCategories(rules *category.Rules) error {
	for ext, name := range c.Categories {
		cat, err := category.Parse(name)
		if err != nil {
			return fmt.Errorf("categories.%s: %w", ext, err)
		}
		rules.Set(ext, cat)
	}
	return nil
}

// ApplyExcludes adds the [excludes] patterns to chain.
func (c Config) ApplyExcludes(chain *filter.Chain) error {
	for _, p := range c.Excludes.Patterns {
		if err := chain.AddExclude(p); err != nil {
			return fmt.Errorf("excludes: %w", err)
		}
	}
	return nil
}

// Expand resolves a leading ~ in p.
func Expand(p string) (string, error) {
	out, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return out, nil
}
