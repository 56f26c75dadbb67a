package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

// A composite primary key must round-trip through its JSON array encoding
// with each element's original int64/string type intact, rather than
// flattening to a single text value the way the (table_name, primary_key)
// index column does.
func TestPrimaryKeyJSONRoundTripPreservesCompositeTypes(t *testing.T) {
	pk := cdcevent.PrimaryKey{int64(2), int64(200)}

	data, err := marshalPrimaryKey(pk)
	require.NoError(t, err)

	got, err := unmarshalPrimaryKey(data)
	require.NoError(t, err)
	assert.Equal(t, pk, got)
	assert.Equal(t, []any{int64(2), int64(200)}, got.Scalar())
}

func TestPrimaryKeyJSONRoundTripMixedStringAndInt(t *testing.T) {
	pk := cdcevent.PrimaryKey{"tenant-a", int64(42)}

	data, err := marshalPrimaryKey(pk)
	require.NoError(t, err)

	got, err := unmarshalPrimaryKey(data)
	require.NoError(t, err)
	assert.Equal(t, pk, got)
}

func TestPrimaryKeyJSONRoundTripSingleElement(t *testing.T) {
	pk := cdcevent.PrimaryKey{int64(7)}

	data, err := marshalPrimaryKey(pk)
	require.NoError(t, err)

	got, err := unmarshalPrimaryKey(data)
	require.NoError(t, err)
	assert.Equal(t, pk, got)
}
