package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEventsByKindIncrements(t *testing.T) {
	EventsByKind.Reset()
	EventsByKind.WithLabelValues("slot1", "insert", "public.users").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(EventsByKind.WithLabelValues("slot1", "insert", "public.users")))
}

func TestRelationCacheSizeSetsGauge(t *testing.T) {
	RelationCacheSize.WithLabelValues("slot1").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(RelationCacheSize.WithLabelValues("slot1")))
}

func TestSlotRetriesIncrements(t *testing.T) {
	SlotRetries.Reset()
	SlotRetries.WithLabelValues("slot1").Inc()
	SlotRetries.WithLabelValues("slot1").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(SlotRetries.WithLabelValues("slot1")))
}
