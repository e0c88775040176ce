package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	fc := FileConfig{MailFile: Default()}
	if path == "" {
		return fc.MailFile, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc.MailFile, nil
		}
		return fc.MailFile, fmt.Errorf("reading config file: %w", err)
	}
	// Keys absent from the file keep their default values.
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Default(), fmt.Errorf("parsing config file: %w", err)
	}
	return fc.MailFile, nil
}

// LoadWithEnv loads path, applies environment overrides and validates.
func LoadWithEnv(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	cfg = ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
