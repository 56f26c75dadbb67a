package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcdc/pkg/runner"
)

func TestLoadParsesSlotsAndPG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgcdc.yaml")
	yaml := `
pg:
  conn_string: "postgres://localhost:5432/app"
metrics:
  enabled: true
  addr: ":9100"
slots:
  orders:
    watcher: kafka
    publications: ["orders_pub"]
    worker: ingest
    retries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/app", cfg.PG.ConnString)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	require.Contains(t, cfg.Slots, "orders")
	assert.Equal(t, "kafka", cfg.Slots["orders"].Watcher)
	assert.Equal(t, []string{"orders_pub"}, cfg.Slots["orders"].Publications)
	assert.Equal(t, "ingest", cfg.Slots["orders"].Worker)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRunnerConfigCarriesSlotsThrough(t *testing.T) {
	cfg := Config{Slots: map[string]runner.SlotConfig{"orders": {Watcher: "kafka"}}}
	rc := cfg.RunnerConfig()
	require.Contains(t, rc.Slots, "orders")
	assert.Equal(t, "kafka", rc.Slots["orders"].Watcher)
}
