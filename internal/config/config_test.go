package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teamsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":9000"
admins = ["root"]

[storage]
backend = "memory"
retries = 5
retry_initial = "50ms"

[log]
format = "console"
`), 0o644))

	t.Setenv("TEAMSYNC_ADDR", ":9100")
	t.Setenv("TEAMSYNC_ADMINS", "ana,bob")
	t.Setenv("TEAMSYNC_STORAGE_RETRIES", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr, "env wins over the file")
	assert.Equal(t, []string{"ana", "bob"}, cfg.Admins)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 1, cfg.Storage.Retries)
	assert.Equal(t, 50*time.Millisecond, cfg.Storage.RetryInitial)
	assert.Equal(t, 5*time.Second, cfg.Storage.RetryMax, "unset keys keep defaults")
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("addr = \n"), 0o644))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "parse config file")

	t.Setenv("TEAMSYNC_STORAGE", "postgres")
	_, err = Load("")
	assert.ErrorContains(t, err, `unknown storage backend "postgres"`)
}

func TestSQLitePath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("data", "teamsync.db"), cfg.SQLitePath())
	cfg.Storage.SQLitePath = "/tmp/x.db"
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath())
}
