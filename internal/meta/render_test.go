package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/parser"
)

// spec.md §8 scenario 3: GRANT rendering must match the given textual form
// bit-for-bit (modulo insignificant whitespace, which there is none of
// here).
func TestRenderGrant(t *testing.T) {
	stmts, err := parser.All("grant all on database testdb to test@localhost")
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	sql, err := Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Equal(t, `replace into 'meta'.db(host, user, db)values('localhost','test','all')`, sql)
}

func TestRenderCreateAndDropUser(t *testing.T) {
	stmts, err := parser.All("create user 'alice'@'%' identified by 'secret'")
	require.NoError(t, err)
	sql, err := Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Contains(t, sql, "insert into 'meta'.user")
	assert.Contains(t, sql, "'secret'")

	stmts, err = parser.All("drop user 'alice'@'%'")
	require.NoError(t, err)
	sql, err = Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Contains(t, sql, "delete from 'meta'.user")
	assert.Contains(t, sql, "host = '%'")
}

func TestRenderAlterUserOnlySetAttributes(t *testing.T) {
	stmts, err := parser.All("alter user 'bob'@'%' with superuser")
	require.NoError(t, err)
	sql, err := Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Equal(t, `update 'meta'.user set sa = 1 where host = '%' and user = 'bob' and protocol = 'pg'`, sql)
}

func TestRenderCreateDropDatabase(t *testing.T) {
	stmts, err := parser.All("create database testdb")
	require.NoError(t, err)
	sql, err := Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Equal(t, `insert into 'meta'.catalog(db, dir) values('testdb', NULL)`, sql)

	stmts, err = parser.All("drop database testdb")
	require.NoError(t, err)
	sql, err = Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Equal(t, `delete from 'meta'.catalog where db = 'testdb'`, sql)
}

func TestRenderRevoke(t *testing.T) {
	stmts, err := parser.All("revoke select on database testdb from test@localhost")
	require.NoError(t, err)
	sql, err := Render(stmts[0], "meta")
	require.NoError(t, err)
	assert.Equal(t, `delete from 'meta'.db where (host = 'localhost' and user = 'test' and db = 'select')`, sql)
}

// Every rendering must re-parse as exactly the command family Render
// expects (spec.md §4.2's "must re-parse" requirement); a malformed
// renderer would be caught by verifyRendersAs before reaching the caller.
func TestRenderRoundTripsThroughParser(t *testing.T) {
	cases := []string{
		"create user 'u'@'h' identified by 'pw'",
		"alter user 'u'@'h' with nosuperuser",
		"drop user 'u'@'h'",
		"create database d location 'd'",
		"drop database d",
		"grant select, insert on database d to u@h",
		"revoke all on database d from u@h",
	}
	for _, sql := range cases {
		stmts, err := parser.All(sql)
		require.NoError(t, err, sql)
		rendered, err := Render(stmts[0], "meta")
		require.NoError(t, err, sql)
		require.NotEmpty(t, rendered)
	}
}
