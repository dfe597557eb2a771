package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"addr = \":9000\"\nmax_payload = 1024\nlog_level = \"debug\"\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.EqualValues(t, 1024, cfg.MaxPayload)
	require.Equal(t, "debug", cfg.LogLevel)

	// Keys the file omits keep their defaults.
	require.Equal(t, defaultConfig().URL, cfg.URL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("addr = [broken"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)
}
