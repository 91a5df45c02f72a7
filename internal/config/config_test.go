package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validYAML = `
server:
  addr: ":9090"
database:
  host: db.internal
  port: 5432
  user: poi
  password: secret
  name: poi
lookup:
  base_url: https://api.lookup.example
  token: file-token
  anchor: "Tokyo, Japan"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 20, cfg.Lookup.Limit)
	assert.Equal(t, "best_match", cfg.Lookup.SortBy)
	assert.Equal(t, "en_US", cfg.Lookup.Locale)
	assert.Equal(t, 10*time.Second, cfg.Lookup.Timeout)
	assert.Equal(t, 4, cfg.Lookup.Concurrency)
}

func TestLoadEnvOverridesToken(t *testing.T) {
	t.Setenv("LOOKUP_TOKEN", "env-token")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Lookup.Token)
}

func TestLoadFailsFastOnMissingAnchor(t *testing.T) {
	yaml := `
server:
  addr: ":9090"
database:
  host: db.internal
  port: 5432
  user: poi
  name: poi
lookup:
  base_url: https://api.lookup.example
  token: tok
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", d.DSN())
}
