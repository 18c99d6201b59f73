package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
)

// spec.md §8 scenario 1: parse splitting of two BEGIN DEFERRED statements,
// one of which has its terminating semicolon swallowed by a line comment.
func TestParseSplitting_BeginDeferred(t *testing.T) {
	stmts, err := All("begIn deferred transaction;/*tx*/begin deferred/*tx*/work--;")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	for _, st := range stmts {
		assert.Equal(t, statement.CmdBegin, st.Command)
		require.NotNil(t, st.TxMode)
		assert.Equal(t, statement.Deferred, st.TxMode.Behavior)
		assert.Equal(t, statement.Serializable, st.TxMode.Isolation)
		assert.Nil(t, st.TxMode.ReadOnly)
	}
}

// spec.md §8 scenario 2: SELECT FOR UPDATE strip.
func TestSelectForUpdateStrip(t *testing.T) {
	stmts, err := All("select *from t/**for update*/for update --;")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	st := stmts[0]
	assert.Equal(t, statement.CmdSelect, st.Command)
	assert.True(t, st.ForUpdate)
	assert.Equal(t, "select *from t/**for update*/", st.ExecSQL)
}

// spec.md §8 scenario 3: GRANT extraction (rendering is tested in
// internal/meta).
func TestGrantExtraction(t *testing.T) {
	stmts, err := All("grant all on database testdb to test@localhost")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	st := stmts[0]
	require.Equal(t, statement.CmdGrant, st.Command)
	require.NotNil(t, st.Grant)
	assert.Equal(t, []string{"all"}, st.Grant.Privileges)
	assert.Equal(t, []string{"testdb"}, st.Grant.Databases)
	require.Len(t, st.Grant.Grantees, 1)
	assert.Equal(t, "test", st.Grant.Grantees[0].User)
	assert.Equal(t, "localhost", st.Grant.Grantees[0].Host)
}

func TestUnterminatedBlockComment(t *testing.T) {
	_, err := All("select 1 /* never closes")
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindParseError))
}

func TestUnterminatedString(t *testing.T) {
	_, err := All("select 'never closes")
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindParseError))
}

func TestKeywordFusionRejected(t *testing.T) {
	_, err := All("create user 'u'@'h' nosuperusersuperuser")
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindParseError))
}

func TestMultipleAuthMethodsRejected(t *testing.T) {
	_, err := All("create user 'u'@'h' identified with pg md5 identified with pg md5")
	require.Error(t, err)
}

func TestPragmaDoubleDecimalRejected(t *testing.T) {
	_, err := All("PRAGMA a = .0.0")
	require.Error(t, err)
}

func TestPragmaAcceptedNumerics(t *testing.T) {
	for _, sql := range []string{
		"PRAGMA a = .0", "PRAGMA a = -.0", "PRAGMA a = +.0",
		"PRAGMA a = -1.0", "PRAGMA a = 1.0", "PRAGMA a = 0x1000",
	} {
		stmts, err := All(sql)
		require.NoError(t, err, sql)
		require.Len(t, stmts, 1)
		require.True(t, stmts[0].Pragma.HasValue)
	}
}

func TestTruncateYieldsDelete(t *testing.T) {
	stmts, err := All("truncate table main.orders")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	st := stmts[0]
	assert.Equal(t, statement.CmdDelete, st.Command)
	require.NotNil(t, st.Truncate)
	assert.Equal(t, "main", st.Truncate.Schema)
	assert.Equal(t, "orders", st.Truncate.Table)
}

func TestInsertReturning(t *testing.T) {
	stmts, err := All("insert into t(a) values(1) returning  a, b -- trailing\n")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	st := stmts[0]
	assert.Equal(t, statement.CmdInsert, st.Command)
	assert.True(t, st.Returning)
	assert.Equal(t, "  a, b -- trailing\n", st.ReturningColumn)
}

func TestEmptyAndCommentStatements(t *testing.T) {
	stmts, err := All("   ; /* just a comment */ ; select 1;")
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.True(t, stmts[0].Empty)
	assert.False(t, stmts[0].Comment)
	assert.True(t, stmts[1].Empty)
	assert.True(t, stmts[1].Comment)
	assert.False(t, stmts[2].Empty)
}

func TestPredicateInvariants(t *testing.T) {
	stmts, err := All("select 1; begin; commit; pragma foo; pragma foo=1;")
	require.NoError(t, err)
	require.Len(t, stmts, 5)
	assert.True(t, stmts[0].IsQuery())
	assert.True(t, stmts[1].IsTransaction())
	assert.True(t, stmts[2].IsTransaction())
	assert.True(t, stmts[3].IsQuery()) // PRAGMA with no value is a query
	assert.False(t, stmts[4].IsQuery()) // PRAGMA with a value is not
}

// spec.md §8: parse(s1 + ";" + s2) = parse(s1) ++ parse(s2) when s1 ends
// at a top-level statement boundary.
func TestPartitionInvariant(t *testing.T) {
	s1 := "select 1"
	s2 := "select 2"
	combined, err := All(s1 + ";" + s2)
	require.NoError(t, err)

	left, err := All(s1)
	require.NoError(t, err)
	right, err := All(s2)
	require.NoError(t, err)

	require.Len(t, combined, len(left)+len(right))
	assert.Equal(t, left[0].ExecSQL, combined[0].ExecSQL)
	assert.Equal(t, right[0].ExecSQL, combined[1].ExecSQL)
}
