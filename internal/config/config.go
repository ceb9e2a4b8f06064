// Package config reads and writes the global ~/.fetmsg/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// API holds the remote endpoint settings consumed, not owned, by the
// engine; they are injected at construction.
type API struct {
	BaseURL             string `toml:"base_url"`
	ClientID            string `toml:"client_id"`
	ClientSecret        string `toml:"client_secret"`
	RedirectURI         string `toml:"redirect_uri"`
	SyncIntervalSeconds int    `toml:"sync_interval_seconds"`
}

// Config represents the global config file.
type Config struct {
	DefaultSession string `toml:"default_session"`
	API            API    `toml:"api"`
}

// Load reads config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.API.SyncIntervalSeconds <= 0 {
		cfg.API.SyncIntervalSeconds = 60
	}
	return &cfg, nil
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.ClientID == "" || c.API.ClientSecret == "" {
		return fmt.Errorf("api.client_id and api.client_secret are required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
