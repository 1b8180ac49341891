package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Path string

func (p Path) Join(elem ...string) Path {
	parts := append([]string{string(p)}, elem...)
	return Path(filepath.Join(parts...))
}

func (p Path) ToString() string {
	return string(p)
}

// Load reads a TOML file into cfg and applies env overrides and defaults.
func Load(path Path, cfg any) error {
	return cleanenv.ReadConfig(path.ToString(), cfg)
}

// LoadHub loads an optional .env file, then the hub config. A missing config
// file is not an error: the hub then runs from environment and defaults only.
func LoadHub(path Path) (*HubConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &HubConfig{}
	if _, err := os.Stat(path.ToString()); err == nil {
		if err := Load(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HubPath is the config file named by LNHUB_CONFIG, or config.toml.
func HubPath() Path {
	if p := os.Getenv("LNHUB_CONFIG"); p != "" {
		return Path(p)
	}
	return Path("config.toml")
}
