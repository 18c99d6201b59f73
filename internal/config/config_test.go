package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	require.Equal(t, 4, v.GetInt(KeyWorkerCount))
	require.Equal(t, 4096, v.GetInt(KeyMaxConns))
	require.Equal(t, "0.0.0.0", v.GetString(KeyHost))
}

func TestNewReadsEnvOverride(t *testing.T) {
	t.Setenv("SQLITED_WORKER_COUNT", "8")
	v, err := New("")
	require.NoError(t, err)
	require.Equal(t, 8, v.GetInt(KeyWorkerCount))
}

func TestNewToleratesMissingConfigFile(t *testing.T) {
	dir := t.TempDir()
	_, err := New(filepath.Join(dir, "does-not-exist.yaml"))
	require.NoError(t, err)
}

func TestProcessorAndWorkerTunables(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	pt := ProcessorTunables(v)
	require.Equal(t, 4096, pt.InitReadBuffer)
	require.Equal(t, 65536, pt.MaxReadBuffer)

	wt := WorkerTunables(v)
	require.Equal(t, 50, wt.IORatio)
	require.Equal(t, 4096, wt.MaxConns)
}

func TestAllowListEmptyPathAllowsAll(t *testing.T) {
	al, err := NewAllowList("")
	require.NoError(t, err)
	require.True(t, al.Allowed("anything"))
}

func TestAllowListLoadsHostsAndSkipsComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nlocalhost\n\n10.0.0.1\n"), 0o644))

	al, err := NewAllowList(path)
	require.NoError(t, err)
	require.True(t, al.Allowed("localhost"))
	require.True(t, al.Allowed("10.0.0.1"))
	require.False(t, al.Allowed("evil.example"))
}

func TestAllowListMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewAllowList(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestAllowListWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(path, []byte("localhost\n"), 0o644))

	al, err := NewAllowList(path)
	require.NoError(t, err)
	require.True(t, al.Allowed("localhost"))
	require.False(t, al.Allowed("10.0.0.1"))

	stop, err := al.Watch(path, zerolog.Nop())
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("localhost\n10.0.0.1\n"), 0o644))

	require.Eventually(t, func() bool {
		return al.Allowed("10.0.0.1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAllowListWatchEmptyPathIsNoop(t *testing.T) {
	al, err := NewAllowList("")
	require.NoError(t, err)
	stop, err := al.Watch("", zerolog.Nop())
	require.NoError(t, err)
	stop()
}
