package legacy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/owners"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

func legacyPeer(t *testing.T) *connection.Remote {
	t.Helper()
	server := connection.NewServer(protocol.Minimum)
	Register(server, shadow.Register(server))
	conn, err := connection.Dial(context.Background(), connection.Pipe(server), protocol.Current)
	require.NoError(t, err)
	require.False(t, protocol.Decide(conn.Version()).Modern())
	return conn
}

func TestLocalRolesStayInProcess(t *testing.T) {
	conn := connection.Local(protocol.Minimum)
	assert.IsType(t, &shadow.LocalRead{}, NewSource(conn))

	target := NewTarget(conn)
	require.NoError(t, target.InitOwnersMapping(context.Background(), owners.Config{UsersMap: []byte("0:0\n")}))
	assert.Error(t, target.InitOwnersMapping(context.Background(), owners.Config{UsersMap: []byte("garbage\n")}))
}

func TestLegacyBackup(t *testing.T) {
	ctx := context.Background()
	conn := legacyPeer(t)
	src := entry.NewPath(t.TempDir())
	dst := entry.NewPath(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, os.WriteFile(filepath.Join(src.Root, "f1"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src.Root, "f2.tmp"), []byte("world"), 0o644))

	source := NewSource(conn)
	target := NewTarget(conn)
	require.NoError(t, target.InitOwnersMapping(ctx, owners.Config{}))
	require.NoError(t, source.SetSelect(ctx, src, []selection.Rule{{Method: selection.Exclude, Param: "**.tmp"}}))
	rules, err := source.GetSelect(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	sigs, err := target.GetInitialIter(ctx, dst)
	require.NoError(t, err)
	diffs, err := source.GetDiffs(ctx, src, sigs)
	require.NoError(t, err)
	events, err := target.Patch(ctx, dst, diffs)
	require.NoError(t, err)
	got, err := entry.Collect(ctx, events)
	require.NoError(t, err)
	assert.Len(t, got, 2, "root and f1")

	b, err := os.ReadFile(filepath.Join(dst.Root, "f1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	assert.NoFileExists(t, filepath.Join(dst.Root, "f2.tmp"))
}

func TestLegacyRejectsBadArguments(t *testing.T) {
	conn := legacyPeer(t)
	err := conn.Call(context.Background(), TargetObject, "get_initial_iter", []string{}, nil)
	assert.True(t, protocol.IsProtocolError(err), "wrong argument count: %v", err)

	err = call(context.Background(), conn, TargetObject, "init_owners_mapping", nil, []byte("x"), []byte(nil))
	var remote *connection.RemoteError
	assert.ErrorAs(t, err, &remote)
}
