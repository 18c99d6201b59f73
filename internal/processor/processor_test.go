package processor

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/auth"
	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
	"github.com/sqlited/sqlited/internal/txn"
)

func boolPtr(b bool) *bool { return &b }

// newTestProcessor wires a Processor against a real file-backed meta
// registry and logical database, pre-populated with a trust-auth
// superuser and one catalog entry, mirroring what a completed
// authentication handshake would have set up.
func newTestProcessor(t *testing.T) (*Processor, *meta.Registry) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.db")

	reg, err := meta.Open(ctx, metaPath, "meta")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	eng := engine.New()

	setup, err := eng.Open(ctx, metaPath)
	require.NoError(t, err)
	_, err = setup.Exec(ctx, `ATTACH DATABASE '`+metaPath+`' AS "meta"`)
	require.NoError(t, err)

	require.NoError(t, reg.Apply(ctx, setup, statement.Statement{
		Command: statement.CmdCreateUser,
		User: &statement.UserArgs{Users: []statement.UserAuth{{
			Host: "%", User: "root", Protocol: "pg", AuthMethod: "trust",
			SuperUser: boolPtr(true), HasIdentified: true,
		}}},
	}))
	require.NoError(t, reg.Apply(ctx, setup, statement.Statement{
		Command:  statement.CmdCreateDatabase,
		Database: &statement.DatabaseArgs{Name: "testdb", HasDir: true, Dir: dir},
	}))
	require.NoError(t, setup.Close())

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	coord := txn.NewCoordinator()
	handle := Handle{WorkerID: 1, Slot: 1, Generation: 1}
	p := New(handle, serverConn, eng, reg, coord, DefaultTunables(), zerolog.Nop())

	require.NoError(t, p.Authenticate(ctx, "localhost", "root", "pg", "testdb", []byte("seed"), []byte("anything")))
	require.True(t, p.SARole)
	require.Equal(t, "testdb", p.Database)

	return p, reg
}

func TestAuthenticateSelectsDatabase(t *testing.T) {
	p, _ := newTestProcessor(t)
	state, _ := p.State()
	assert.Equal(t, StateSleep, state)
	require.NotNil(t, p.dbConn)
}

func TestAuthenticateUnknownUserRejected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.db")
	reg, err := meta.Open(ctx, metaPath, "meta")
	require.NoError(t, err)
	defer reg.Close()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	p := New(Handle{1, 1, 1}, serverConn, engine.New(), reg, txn.NewCoordinator(), DefaultTunables(), zerolog.Nop())
	err = p.Authenticate(ctx, "localhost", "nobody", "pg", "", []byte("seed"), []byte("sig"))
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindPermissionDenied))
}

func TestExecuteFrameCreateAndQuery(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	results, err := p.ExecuteFrame(ctx, "create table t(a integer primary key, b text);")
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = p.ExecuteFrame(ctx, "insert into t(a, b) values(1, 'x');")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, 1, results[0].RowsAffected)

	results, err = p.ExecuteFrame(ctx, "select a, b from t;")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 1)
	assert.Equal(t, []string{"a", "b"}, results[0].Columns)
}

func TestExecuteFrameExplicitTransactionRollback(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.ExecuteFrame(ctx, "create table t(a integer primary key);")
	require.NoError(t, err)

	_, err = p.ExecuteFrame(ctx, "begin; insert into t(a) values(1); rollback;")
	require.NoError(t, err)

	results, err := p.ExecuteFrame(ctx, "select count(*) from t;")
	require.NoError(t, err)
	assert.EqualValues(t, 0, results[0].Rows[0][0])
}

func TestExecuteFrameSavepointReleaseKeepsRow(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.ExecuteFrame(ctx, "create table t(a integer primary key);")
	require.NoError(t, err)

	_, err = p.ExecuteFrame(ctx, "begin; savepoint s1; insert into t(a) values(1); release s1; commit;")
	require.NoError(t, err)

	results, err := p.ExecuteFrame(ctx, "select count(*) from t;")
	require.NoError(t, err)
	assert.EqualValues(t, 1, results[0].Rows[0][0])
}

func TestExecuteFrameImplicitWriteCommitsAutomatically(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.ExecuteFrame(ctx, "create table t(a integer primary key);")
	require.NoError(t, err)

	_, err = p.ExecuteFrame(ctx, "insert into t(a) values(1);")
	require.NoError(t, err)

	state, _ := p.State()
	assert.Equal(t, StateSleep, state)

	st := p.Coord.StateFor(p.connID)
	assert.True(t, st.AutoCommit())
}

func TestExecuteFramePermissionDeniedForNonSuperuser(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()
	p.SARole = false

	_, err := p.ExecuteFrame(ctx, "create table t(a integer primary key);")
	require.NoError(t, err) // plain DDL isn't gated by requiredPrivilege

	_, err = p.ExecuteFrame(ctx, "insert into t(a) values(1);")
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindPermissionDenied))
}

func TestExecuteFrameSleepHonorsCancel(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.ExecuteFrame(ctx, "select sleep(5);")
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	p.RequestCancel(false)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep was not cancelled in time")
	}
}

func TestWriteLockExclusionAcrossProcessors(t *testing.T) {
	p1, reg := newTestProcessor(t)
	ctx := context.Background()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	p2 := New(Handle{2, 1, 1}, serverConn, p1.Engine, reg, p1.Coord, Tunables{BusyTimeout: 50 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, p2.Authenticate(ctx, "localhost", "root", "pg", "testdb", []byte("seed"), []byte("anything")))

	require.True(t, p1.Coord.AcquireWrite(p1.connID))
	defer p1.Coord.ReleaseWrite(p1.connID)

	_, err := p2.ExecuteFrame(ctx, "create table u(a integer);")
	require.True(t, IsParked(err))

	// p2 never blocks its caller: it must be retried explicitly, the way a
	// Worker's busy-resume pass would, until BusyTimeout elapses.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err = p2.ResumeParked(ctx)
		if !IsParked(err) {
			break
		}
		require.True(t, time.Now().Before(deadline), "never resolved")
		time.Sleep(5 * time.Millisecond)
	}
	require.Error(t, err)
	assert.True(t, srverr.Is(err, srverr.KindBusy))
}

var _ = auth.SeedLen // keep internal/auth import meaningful if reordered
