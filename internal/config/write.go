package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by Write when the file is already there.
var ErrExists = errors.New("config file already exists")

// Starter returns a config with every default spelled out, suitable as a
// template for users.
func Starter() Config {
	workers, saveEvery, retries := 2, 1, 3
	tolerance, mode, link := "2s", "metadata", "adb"
	checkLocal := false
	return Config{
		Defaults: DefaultsConfig{
			Workers:    &workers,
			Tolerance:  &tolerance,
			Mode:       &mode,
			SaveEvery:  &saveEvery,
			Retries:    &retries,
			CheckLocal: &checkLocal,
			Link:       &link,
			Roots:      []string{},
		},
		Categories: map[string]string{},
		Excludes:   ExcludesConfig{Patterns: []string{}},
	}
}

// Write encodes cfg to path, creating the parent directory. It refuses to
// overwrite unless force is set.
func Write(path string, cfg Config, force bool) error {
	path, err := Expand(path)
	if err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
