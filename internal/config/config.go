package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"plutobridge/internal/global"
)

// Config is the resolved runtime configuration: environment first, then the
// config.toml file, then built-in defaults.
type Config struct {
	ServerBaseURL   string
	LogLevel        string
	DBPath          string
	FirstRunTimeout time.Duration
	PingInterval    time.Duration
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := load()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := load()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func load() Config {
	file := loadFileConfig()

	base := os.Getenv("PLUTOBRIDGE_SERVER_URL")
	if base == "" {
		base = file.ServerURL
	}

	level := os.Getenv("PLUTOBRIDGE_LOG_LEVEL")
	if level == "" {
		level = file.LogLevel
	}

	dbPath := os.Getenv("PLUTOBRIDGE_DB_PATH")
	if dbPath == "" {
		dbPath = file.DBPath
	}
	if dbPath == "" {
		dbPath = defaultDBPath()
	}

	firstRunSecs := atoiOrDefault(os.Getenv("PLUTOBRIDGE_FIRST_RUN_TIMEOUT"), file.FirstRunTimeoutSeconds)
	pingSecs := atoiOrDefault(os.Getenv("PLUTOBRIDGE_PING_INTERVAL"), file.PingIntervalSeconds)

	return Config{
		ServerBaseURL:   base,
		LogLevel:        level,
		DBPath:          dbPath,
		FirstRunTimeout: time.Duration(firstRunSecs) * time.Second,
		PingInterval:    time.Duration(pingSecs) * time.Second,
	}
}

// loadFileConfig reads config.toml; an unreadable file degrades to the
// normalized defaults rather than failing config resolution.
func loadFileConfig() global.BridgeConfig {
	dir, err := global.DefaultConfigDir()
	if err != nil {
		return fallbackFileConfig()
	}
	cfg, err := global.NewConfigStore(dir).LoadOrInit()
	if err != nil {
		return fallbackFileConfig()
	}
	return cfg
}

func fallbackFileConfig() global.BridgeConfig {
	return global.BridgeConfig{
		ServerURL:              "http://127.0.0.1:1234",
		LogLevel:               "info",
		FirstRunTimeoutSeconds: 90,
		PingIntervalSeconds:    5,
	}
}

func defaultDBPath() string {
	dir, err := global.DefaultConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "plutobridge.db")
	}
	return filepath.Join(dir, "plutobridge.db")
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
