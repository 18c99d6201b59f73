package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/auth"
	"github.com/sqlited/sqlited/internal/meta"
)

func TestInitDBCreatesDataDirAndSuperAdmin(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "datadir")

	require.NoError(t, InitDB(ctx, dir, "hunter2"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	reg, err := meta.Open(ctx, filepath.Join(dir, "meta.db"), "meta")
	require.NoError(t, err)
	defer reg.Close()

	u, err := reg.LookupUser(ctx, "%", SuperAdminUser, "pg")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.True(t, u.SuperUser)
	require.Equal(t, "password", u.AuthMethod)
	require.NoError(t, auth.Verify(u, []byte("seed"), []byte("hunter2")))
}

func TestInitDBRejectsDoubleInit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, InitDB(ctx, dir, "hunter2"))
	err := InitDB(ctx, dir, "hunter2")
	require.Error(t, err)
}
