package mqtt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	var cfg Config
	cfg.withDefaults()

	assert.Equal(t, []string{"tcp://localhost:1883"}, cfg.Servers)
	assert.Equal(t, "pgcdc", cfg.TopicPrefix)
	assert.Equal(t, "pgcdc-watcher", cfg.ClientID)
}

func TestConfigWithDefaultsPreservesSetFields(t *testing.T) {
	cfg := Config{Servers: []string{"tcp://broker:1883"}, ClientID: "custom-id"}
	cfg.withDefaults()

	assert.Equal(t, []string{"tcp://broker:1883"}, cfg.Servers)
	assert.Equal(t, "custom-id", cfg.ClientID)
}

func TestTopicNamingUsesSlashSeparator(t *testing.T) {
	topic := fmt.Sprintf("%s/%s/%s/%s", prefixOrDefault("pgcdc"), "public", "orders", "insert")
	assert.Equal(t, "pgcdc/public/orders/insert", topic)
}

func TestPrefixOrDefault(t *testing.T) {
	assert.Equal(t, "pgcdc", prefixOrDefault(""))
	assert.Equal(t, "custom", prefixOrDefault("custom"))
}
