package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgeflare/pgcdc/pkg/watcher/wire"
)

func TestConfigWithDefaults(t *testing.T) {
	var cfg Config
	cfg.withDefaults()

	assert.Equal(t, "pgcdc", cfg.SubjectPrefix)
	assert.Equal(t, "pgcdc-stream", cfg.Stream)
	assert.NotEmpty(t, cfg.Servers)
}

func TestConfigWithDefaultsDerivesStreamFromCustomPrefix(t *testing.T) {
	cfg := Config{SubjectPrefix: "custom"}
	cfg.withDefaults()

	assert.Equal(t, "custom-stream", cfg.Stream)
}

func TestConfigWithDefaultsPreservesExplicitStream(t *testing.T) {
	cfg := Config{SubjectPrefix: "custom", Stream: "explicit-stream"}
	cfg.withDefaults()

	assert.Equal(t, "explicit-stream", cfg.Stream)
}

func TestSubjectNaming(t *testing.T) {
	env := wire.Envelope{Schema: "public", Table: "orders", Kind: "delete"}
	assert.Equal(t, "pgcdc.public.orders.delete", wire.Subject("pgcdc", env))
}
