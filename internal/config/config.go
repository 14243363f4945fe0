package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr    string        `toml:"addr"`
	BaseURL string        `toml:"base_url"`
	DataDir string        `toml:"data_dir"`
	Admins  []string      `toml:"admins"`
	Seed    string        `toml:"seed"`
	Storage StorageConfig `toml:"storage"`
	Assist  AssistConfig  `toml:"assist"`
	Log     LogConfig     `toml:"log"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is one of "sqlite", "surreal" or "memory".
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`

	SurrealURL       string `toml:"surreal_url"`
	SurrealNamespace string `toml:"surreal_namespace"`
	SurrealDatabase  string `toml:"surreal_database"`
	SurrealUser      string `toml:"surreal_user"`
	SurrealPass      string `toml:"surreal_pass"`

	Retries      int           `toml:"retries"`
	RetryInitial time.Duration `toml:"retry_initial"`
	RetryMax     time.Duration `toml:"retry_max"`
}

type AssistConfig struct {
	// Endpoint overrides the service base URL. Empty uses the Gemini API.
	Endpoint string        `toml:"endpoint"`
	APIKey   string        `toml:"api_key"`
	Model    string        `toml:"model"`
	Timeout  time.Duration `toml:"timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

const (
	BackendSQLite  = "sqlite"
	BackendSurreal = "surreal"
	BackendMemory  = "memory"
)

func Default() Config {
	return Config{
		Addr:    ":8080",
		BaseURL: "http://localhost:8080",
		DataDir: "data",
		Storage: StorageConfig{
			Backend:          BackendSQLite,
			SurrealURL:       "ws://localhost:8000",
			SurrealNamespace: "teamsync",
			SurrealDatabase:  "teamsync",
			Retries:          3,
			RetryInitial:     200 * time.Millisecond,
			RetryMax:         5 * time.Second,
		},
		Assist: AssistConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load returns the defaults overlaid by the TOML file at path (if it
// exists) and then by TEAMSYNC_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	cfg.Addr = getEnv("TEAMSYNC_ADDR", cfg.Addr)
	cfg.BaseURL = getEnv("TEAMSYNC_BASE_URL", cfg.BaseURL)
	cfg.DataDir = getEnv("TEAMSYNC_DATA_DIR", cfg.DataDir)
	cfg.Seed = getEnv("TEAMSYNC_SEED", cfg.Seed)
	if admins := getEnv("TEAMSYNC_ADMINS", ""); admins != "" {
		cfg.Admins = strings.Split(admins, ",")
	}

	cfg.Storage.Backend = getEnv("TEAMSYNC_STORAGE", cfg.Storage.Backend)
	cfg.Storage.SQLitePath = getEnv("TEAMSYNC_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.SurrealURL = getEnv("TEAMSYNC_SURREAL_URL", cfg.Storage.SurrealURL)
	cfg.Storage.SurrealUser = getEnv("TEAMSYNC_SURREAL_USER", cfg.Storage.SurrealUser)
	cfg.Storage.SurrealPass = getEnv("TEAMSYNC_SURREAL_PASS", cfg.Storage.SurrealPass)
	if n, err := strconv.Atoi(getEnv("TEAMSYNC_STORAGE_RETRIES", "")); err == nil {
		cfg.Storage.Retries = n
	}

	cfg.Assist.APIKey = getEnv("TEAMSYNC_ASSIST_API_KEY", cfg.Assist.APIKey)
	cfg.Assist.Endpoint = getEnv("TEAMSYNC_ASSIST_ENDPOINT", cfg.Assist.Endpoint)

	cfg.Log.Level = getEnv("TEAMSYNC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("TEAMSYNC_LOG_FORMAT", cfg.Log.Format)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendSurreal, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Retries < 0 {
		return fmt.Errorf("storage retries must not be negative")
	}
	return nil
}

// SQLitePath is the configured database path, defaulting into DataDir.
func (c Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.DataDir, "teamsync.db")
}
