package relcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelationFullNamePublicSchemaOmitted(t *testing.T) {
	r := &Relation{Schema: "public", Table: "records"}
	assert.Equal(t, "records", r.FullName())

	r.Schema = "alternate"
	assert.Equal(t, "alternate.records", r.FullName())
}

func TestCachePutInvalidatesStalePrimaryKey(t *testing.T) {
	c := New(nil, nil)
	c.pks[pkKey{"public", "records"}] = []string{"id"}

	c.Put(&Relation{OID: 1, Schema: "public", Table: "records"})

	_, ok := c.pks[pkKey{"public", "records"}]
	assert.False(t, ok, "Put must invalidate the cached PK for the relation's (schema, table)")

	got, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "records", got.Table)
}

func TestPrimaryConstraintQueryPrefersPrimaryConstraint(t *testing.T) {
	assert.Contains(t, primaryConstraintQuery, "contype = 'p'")
}

func TestUniqueIndexFallbackQueryOrdersByPrimaryFirst(t *testing.T) {
	assert.True(t, strings.Contains(uniqueIndexFallbackQuery, "indisprimary DESC"))
	assert.True(t, strings.Contains(uniqueIndexFallbackQuery, "indisunique"))
}

// When a table carries more than one unique index, the fallback query must
// restrict itself to exactly one index's columns (the subquery below),
// rather than joining every unique index's attnames together.
func TestUniqueIndexFallbackQueryRestrictsToSingleIndex(t *testing.T) {
	assert.Contains(t, uniqueIndexFallbackQuery, "i.indexrelid = (")
	assert.Contains(t, uniqueIndexFallbackQuery, "LIMIT 1")
}
