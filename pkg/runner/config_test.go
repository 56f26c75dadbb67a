package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerGroupDefaultsToDefault(t *testing.T) {
	assert.Equal(t, "default", SlotConfig{}.workerGroup())
	assert.Equal(t, "ingest", SlotConfig{Worker: "ingest"}.workerGroup())
}

func TestAutoRestartDefaultsTrue(t *testing.T) {
	assert.True(t, SlotConfig{}.autoRestart())
	f := false
	assert.False(t, SlotConfig{AutoRestart: &f}.autoRestart())
}

func TestMaxRetriesUnboundedByDefault(t *testing.T) {
	assert.Equal(t, -1, SlotConfig{}.maxRetries())
	n := 5
	assert.Equal(t, 5, SlotConfig{Retries: &n}.maxRetries())
	neg := -3
	assert.Equal(t, -1, SlotConfig{Retries: &neg}.maxRetries())
}

func TestBackoffBaseDefaultsToOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, SlotConfig{}.backoffBase())
	assert.Equal(t, 2500*time.Millisecond, SlotConfig{RetryBackoff: 2.5}.backoffBase())
}

func TestBackoffExponentDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0.0, SlotConfig{}.backoffExponent())
	assert.Equal(t, 2.0, SlotConfig{RetryBackoffExponent: 2}.backoffExponent())
}

func TestConfigGroupsPartitionsByWorker(t *testing.T) {
	cfg := Config{Slots: map[string]SlotConfig{
		"a": {Worker: "g1"},
		"b": {Worker: "g1"},
		"c": {Worker: "g2"},
		"d": {},
	}}
	groups := cfg.groups()
	assert.ElementsMatch(t, []string{"a", "b"}, groups["g1"])
	assert.ElementsMatch(t, []string{"c"}, groups["g2"])
	assert.ElementsMatch(t, []string{"d"}, groups["default"])
}
