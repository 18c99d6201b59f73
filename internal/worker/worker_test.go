package worker

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/processor"
	"github.com/sqlited/sqlited/internal/statement"
	"github.com/sqlited/sqlited/internal/txn"
	"github.com/sqlited/sqlited/internal/wire"
)

func boolPtr(b bool) *bool { return &b }

// newAuthenticatedPair opens a real file-backed meta registry with one
// trust-auth superuser and one catalog database, then returns a Processor
// already past authentication plus the client side of its net.Pipe, the
// same fixture shape internal/processor's own tests use.
func newAuthenticatedPair(t *testing.T, w *Worker, slot uint32) (net.Conn, *processor.Processor) {
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

	handle := processor.Handle{WorkerID: w.ID, Slot: slot, Generation: slot}
	p := processor.New(handle, serverConn, eng, reg, w.coord, processor.DefaultTunables(), zerolog.Nop())
	require.NoError(t, p.Authenticate(ctx, "localhost", "root", "pg", "testdb", []byte("seed"), []byte("anything")))

	return clientConn, p
}

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	tun := DefaultTunables()
	tun.IdleCheckInterval = 20 * time.Millisecond
	w := New(1, wire.QueryCodec{}, wire.QueryCodec{}, tun, txn.NewCoordinator(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func TestOfferRegistersConnection(t *testing.T) {
	w := newTestWorker(t)
	client, p := newAuthenticatedPair(t, w, 0)
	defer client.Close()

	require.True(t, w.Offer(p))
	require.Eventually(t, func() bool { return w.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOfferRejectsWhenFull(t *testing.T) {
	w := newTestWorker(t)
	w.tun.MaxConns = 1
	client1, p1 := newAuthenticatedPair(t, w, 0)
	defer client1.Close()
	client2, p2 := newAuthenticatedPair(t, w, 1)
	defer client2.Close()

	require.True(t, w.Offer(p1))
	require.Eventually(t, func() bool { return w.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	// intake accepts the offer (it's just a buffered channel send), but
	// registerIntake rejects it once MaxConns is already reached and
	// closes the connection rather than adding a second slot.
	require.True(t, w.Offer(p2))
	require.Never(t, func() bool { return w.ActiveCount() == 2 }, 100*time.Millisecond, 10*time.Millisecond)

	buf := make([]byte, 16)
	client2.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client2.Read(buf)
	require.Error(t, err)
}

func TestDrainFramesExecutesQueryAndReplies(t *testing.T) {
	w := newTestWorker(t)
	client, p := newAuthenticatedPair(t, w, 0)
	defer client.Close()

	require.True(t, w.Offer(p))
	require.Eventually(t, func() bool { return w.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := client.Write(wire.EncodeQueryCommand(0, "create table t(a integer primary key);"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	// An OK packet's payload leads with a 0x00 tag byte.
	require.Equal(t, byte(0x00), buf[4])
}

func TestDrainFramesSurfacesExecutionError(t *testing.T) {
	w := newTestWorker(t)
	client, p := newAuthenticatedPair(t, w, 0)
	defer client.Close()

	require.True(t, w.Offer(p))
	require.Eventually(t, func() bool { return w.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := client.Write(wire.EncodeQueryCommand(0, "select * from does_not_exist;"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	// An error packet's payload leads with a 0xff tag byte.
	require.Equal(t, byte(0xff), buf[4])
}

func TestCloseSlotTerminatesConnection(t *testing.T) {
	w := newTestWorker(t)
	client, p := newAuthenticatedPair(t, w, 0)
	defer client.Close()

	require.True(t, w.Offer(p))
	require.Eventually(t, func() bool { return w.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	var slot uint32
	for s := range w.slots {
		slot = s
	}
	w.mu.Unlock()

	w.closeSlot(slot, "test teardown")
	require.Equal(t, 0, w.ActiveCount())

	buf := make([]byte, 16)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client.Read(buf)
	require.Error(t, err)
}

// TestBusyResumeWakesOnWriteLockRelease exercises the non-blocking park path:
// a write frame that loses the race for the write lock must not stall this
// Worker's single goroutine, and must complete as soon as the lock is freed,
// without the connection ever polling for it.
func TestBusyResumeWakesOnWriteLockRelease(t *testing.T) {
	w := newTestWorker(t)
	client, p := newAuthenticatedPair(t, w, 0)
	defer client.Close()
	require.True(t, w.Offer(p))
	require.Eventually(t, func() bool { return w.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	// Hold the write lock on behalf of some other connection entirely, so
	// p's own write must park rather than proceed.
	const rival txn.ConnID = 0xdead
	require.True(t, w.coord.AcquireWrite(rival))

	_, err := client.Write(wire.EncodeQueryCommand(0, "create table parked(a integer);"))
	require.NoError(t, err)

	w.mu.Lock()
	var slot uint32
	for s := range w.slots {
		slot = s
	}
	w.mu.Unlock()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.slots[slot].parked
	}, time.Second, 5*time.Millisecond, "write never parked on contended lock")

	// Nothing should reach the client while parked.
	buf := make([]byte, 16)
	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err = client.Read(buf)
	require.Error(t, err, "parked write must not reply before the lock frees up")

	w.coord.ReleaseWrite(rival)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, byte(0x00), buf[4])

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.slots[slot].parked
	}, time.Second, 5*time.Millisecond)
}
