package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	var cfg Config
	cfg.withDefaults()

	assert.Equal(t, []string{"localhost:9000"}, cfg.Addr)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "default", cfg.Username)
	assert.Equal(t, "pgcdc_events", cfg.Table)
}

func TestConfigWithDefaultsPreservesSetFields(t *testing.T) {
	cfg := Config{Addr: []string{"ch:9000"}, Table: "events_custom"}
	cfg.withDefaults()

	assert.Equal(t, []string{"ch:9000"}, cfg.Addr)
	assert.Equal(t, "events_custom", cfg.Table)
}
