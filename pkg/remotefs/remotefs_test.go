package remotefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

func filesystems(t *testing.T) map[string]FS {
	t.Helper()
	server := connection.NewServer(protocol.Current)
	Register(server)
	conn, err := connection.Dial(context.Background(), connection.Pipe(server), protocol.Current)
	require.NoError(t, err)
	return map[string]FS{
		"local":  For(connection.Local(protocol.Current)),
		"remote": For(conn),
	}
}

func TestFS(t *testing.T) {
	for name, fsys := range filesystems(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("x"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("x"), 0o644))

			e, err := fsys.Lstat(ctx, dir)
			require.NoError(t, err)
			assert.Equal(t, entry.Dir, e.Type)

			_, err = fsys.Lstat(ctx, filepath.Join(dir, "missing"))
			assert.ErrorIs(t, err, ErrNotExist)

			names, err := fsys.ReadDirNames(ctx, dir)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, names)

			ok, err := fsys.Writable(ctx, dir)
			require.NoError(t, err)
			assert.True(t, ok)

			deep := filepath.Join(dir, "x", "y")
			require.NoError(t, fsys.MkdirAll(ctx, deep))
			e, err = fsys.Lstat(ctx, deep)
			require.NoError(t, err)
			assert.True(t, e.IsDir())
		})
	}
}
