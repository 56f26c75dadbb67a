package relcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcdc/internal/testutil/pgtest"
	"github.com/edgeflare/pgcdc/pkg/relcache"
)

// A table with two unique indexes (one covering two columns, one covering
// one) must resolve to exactly one index's columns, not the union of both.
func TestPrimaryKeyColumnsMultipleUniqueIndexesReturnsOneIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	testConn := pgtest.Connect(t, ctx)

	_, err := testConn.Exec(ctx, `
		DROP TABLE IF EXISTS relcache_it_accounts;
		CREATE TABLE relcache_it_accounts (
			tenant_id BIGINT NOT NULL,
			account_id BIGINT NOT NULL,
			email TEXT NOT NULL
		);
		CREATE UNIQUE INDEX relcache_it_accounts_tenant_account_uq
			ON relcache_it_accounts (tenant_id, account_id);
		CREATE UNIQUE INDEX relcache_it_accounts_email_uq
			ON relcache_it_accounts (email);
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = testConn.Exec(context.Background(), `DROP TABLE IF EXISTS relcache_it_accounts`)
	})

	c := relcache.New(testConn, nil)
	cols, err := c.PrimaryKeyColumns(ctx, "public", "relcache_it_accounts")
	require.NoError(t, err)

	// Whichever index pg_index picks first (lowest indexrelid, since neither
	// is a primary key), the result must be exactly that index's columns —
	// never the three-column union of both indexes.
	assert.True(t,
		assertEqualColumns(cols, []string{"tenant_id", "account_id"}) || assertEqualColumns(cols, []string{"email"}),
		"expected exactly one index's columns, got %v", cols)
}

func assertEqualColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
