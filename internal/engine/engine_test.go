package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/srverr"
)

func TestExecAndQuery(t *testing.T) {
	ctx := context.Background()
	conn, err := New().Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(ctx, "create table t(a integer primary key, b text)")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, "insert into t(a, b) values(1, 'x')")
	require.NoError(t, err)

	rows, err := conn.Query(ctx, "select a, b from t")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var a int
	var b string
	require.NoError(t, rows.Scan(&a, &b))
	assert.Equal(t, 1, a)
	assert.Equal(t, "x", b)
	assert.False(t, rows.Next())
	assert.NoError(t, rows.Err())
}

func TestUniqueViolationClassified(t *testing.T) {
	ctx := context.Background()
	conn, err := New().Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(ctx, "create table t(a integer primary key)")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "insert into t(a) values(1)")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, "insert into t(a) values(1)")
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindUniqueViolation))
}

func TestInterruptWithNothingInFlightIsNoop(t *testing.T) {
	ctx := context.Background()
	conn, err := New().Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	defer conn.Close()

	conn.Interrupt() // no statement in flight: must be a harmless no-op
}
