package wire

import (
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

func TestFromEventInsert(t *testing.T) {
	env, ok := FromEvent(cdcevent.Insert{
		Xid: 7, LSN_: pglogrepl.LSN(100),
		Schema: "public", Table: "users",
		PrimaryKey: cdcevent.PrimaryKey{int64(1)},
		New:        cdcevent.DecodedRow{"id": int64(1), "name": "alice"},
	})
	require.True(t, ok)
	assert.Equal(t, "insert", env.Kind)
	assert.Equal(t, uint32(7), env.Xid)
	assert.Equal(t, "users", env.Table)
	assert.Equal(t, []any{int64(1)}, env.PrimaryKey)
	assert.Equal(t, "alice", env.New["name"])
	assert.Nil(t, env.Old)
}

func TestFromEventUpdate(t *testing.T) {
	env, ok := FromEvent(cdcevent.Update{
		Xid: 7, LSN_: pglogrepl.LSN(200),
		Schema: "public", Table: "users",
		PrimaryKey: cdcevent.PrimaryKey{int64(1)},
		Old:        cdcevent.DecodedRow{"name": "alice"},
		New:        cdcevent.DecodedRow{"name": "bob"},
	})
	require.True(t, ok)
	assert.Equal(t, "update", env.Kind)
	assert.Equal(t, "alice", env.Old["name"])
	assert.Equal(t, "bob", env.New["name"])
}

func TestFromEventDelete(t *testing.T) {
	env, ok := FromEvent(cdcevent.Delete{
		Xid: 7, LSN_: pglogrepl.LSN(300),
		Schema: "public", Table: "users",
		PrimaryKey: cdcevent.PrimaryKey{int64(1)},
		Old:        cdcevent.DecodedRow{"name": "alice"},
	})
	require.True(t, ok)
	assert.Equal(t, "delete", env.Kind)
	assert.Nil(t, env.New)
}

func TestFromEventDropsBeginAndCommit(t *testing.T) {
	_, ok := FromEvent(cdcevent.BeginTransaction{Xid: 1})
	assert.False(t, ok)

	_, ok = FromEvent(cdcevent.CommitTransaction{Xid: 1})
	assert.False(t, ok)
}

func TestSubjectFormatsDotSeparatedRoutingKey(t *testing.T) {
	env := Envelope{Schema: "public", Table: "users", Kind: "insert"}
	assert.Equal(t, "pgcdc.public.users.insert", Subject("pgcdc", env))
	assert.Equal(t, "pgcdc.public.users.insert", Subject("", env))
	assert.Equal(t, "custom.public.users.insert", Subject("custom", env))
}
