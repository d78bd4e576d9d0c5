package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"
)

// BridgeConfig is the persisted user configuration. Environment variables
// override it at load time.
type BridgeConfig struct {
	ServerURL              string `toml:"server_url"`
	DBPath                 string `toml:"db_path"`
	LogLevel               string `toml:"log_level"`
	FirstRunTimeoutSeconds int    `toml:"first_run_timeout_seconds"`
	PingIntervalSeconds    int    `toml:"ping_interval_seconds"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) LoadOrInit() (BridgeConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return BridgeConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg BridgeConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return BridgeConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return BridgeConfig{}, err
	}

	cfg := normalizeConfig(BridgeConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg BridgeConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), normalizeConfig(cfg))
}

func normalizeConfig(cfg BridgeConfig) BridgeConfig {
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://127.0.0.1:1234"
	}
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "error":
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	default:
		cfg.LogLevel = "info"
	}
	if cfg.FirstRunTimeoutSeconds <= 0 {
		cfg.FirstRunTimeoutSeconds = 90
	}
	if cfg.PingIntervalSeconds <= 0 {
		cfg.PingIntervalSeconds = 5
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
