package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/processor"
	"github.com/sqlited/sqlited/internal/statement"
	"github.com/sqlited/sqlited/internal/wire"
	"github.com/sqlited/sqlited/internal/worker"
)

func boolPtr(b bool) *bool { return &b }

func mustFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// newTestServer builds a Server over a fresh meta database seeded with a
// trust-auth superuser and a "testdb" catalog entry, then starts Serve in
// the background, the same fixture shape internal/worker's tests use one
// layer down.
func newTestServer(t *testing.T) (*Server, int) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.db")

	reg, err := meta.Open(ctx, metaPath, "meta")
	require.NoError(t, err)

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
	require.NoError(t, reg.Close())

	port := mustFreePort(t)
	s, err := New(ctx, Options{
		Host:           "127.0.0.1",
		Port:           port,
		WorkerCount:    2,
		MetaPath:       metaPath,
		ProcessorTun:   processor.DefaultTunables(),
		WorkerTun:      worker.DefaultTunables(),
		HandshakeTitle: "sqlited-test",
	}, zerolog.Nop())
	require.NoError(t, err)

	srvCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(srvCtx) }()
	t.Cleanup(func() {
		cancel()
		s.Stop()
		<-errCh
	})

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return s, port
}

// dialAndLogin performs the full handshake over a real TCP connection
// using trust auth, returning the established conn for further I/O.
func dialAndLogin(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 512)
	total := 0
	var init wire.HandshakeInit
	for {
		n, err := conn.Read(buf[total:])
		require.NoError(t, err)
		total += n
		var consumed int
		init, consumed, err = wire.DecodeHandshakeInit(buf[:total])
		require.NoError(t, err)
		if consumed > 0 {
			break
		}
	}
	require.Equal(t, "sqlited-test", init.ServerVersion)

	var sig [wire.SeedLen]byte
	reply := wire.LoginReply{
		Sequence:  1,
		Database:  "testdb",
		User:      "root",
		Protocol:  "pg",
		Signature: sig,
	}
	_, err = conn.Write(wire.EncodeLoginReply(reply))
	require.NoError(t, err)
	return conn
}

func TestHandshakeAndDispatchAuthenticatesAndRoutes(t *testing.T) {
	_, port := newTestServer(t)
	conn := dialAndLogin(t, port)
	defer conn.Close()

	_, err := conn.Write(wire.EncodeQueryCommand(0, "create table t(a integer primary key);"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, byte(0x00), buf[4])
}

func TestAllowListRejectsDisallowedHost(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.db")
	reg, err := meta.Open(ctx, metaPath, "meta")
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	allowPath := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(allowPath, []byte("only.allowed.example\n"), 0o644))

	port := mustFreePort(t)
	s, err := New(ctx, Options{
		Host:          "127.0.0.1",
		Port:          port,
		WorkerCount:   1,
		MetaPath:      metaPath,
		ProcessorTun:  processor.DefaultTunables(),
		WorkerTun:     worker.DefaultTunables(),
		AllowListPath: allowPath,
	}, zerolog.Nop())
	require.NoError(t, err)

	srvCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(srvCtx) }()
	defer func() {
		cancel()
		s.Stop()
		<-errCh
	}()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.Error(t, err) // 127.0.0.1 is not on the allow list, so the server closes immediately
}
