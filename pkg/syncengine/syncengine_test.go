package syncengine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/legacy"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
	"github.com/yuya-takeyama/strict-backup/pkg/logger"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/remotefs"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

func connections(t *testing.T) map[string]connection.Connection {
	t.Helper()
	peer := func(v protocol.Version) connection.Connection {
		server := connection.NewServer(v)
		remotefs.Register(server)
		legacy.Register(server, shadow.Register(server))
		conn, err := connection.Dial(context.Background(), connection.Pipe(server), protocol.Current)
		require.NoError(t, err)
		return conn
	}
	return map[string]connection.Connection{
		"local":         connection.Local(protocol.Current),
		"remote":        peer(protocol.Current),
		"remote legacy": peer(protocol.Minimum),
	}
}

func setup(t *testing.T, conn connection.Connection, src, dst string) (*location.ReadLocation, *location.WriteLocation) {
	t.Helper()
	ctx := context.Background()
	r := location.NewReadLocation(entry.NewPath(src), conn, location.Options{})
	require.Equal(t, location.CodeOK, r.Setup(ctx))
	w := location.NewWriteLocation(entry.NewPath(dst), conn, nil, location.Options{Force: true})
	require.Equal(t, location.CodeOK, w.Check(ctx))
	require.Equal(t, location.CodeOK, w.Setup(ctx, r.Capabilities(), nil))
	return r, w
}

func TestSyncEndToEnd(t *testing.T) {
	for name, conn := range connections(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := t.TempDir()
			dst := filepath.Join(t.TempDir(), "backup")
			require.NoError(t, os.WriteFile(filepath.Join(src, "f1"), []byte("hello"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(src, "f2"), []byte("world"), 0o644))

			var out bytes.Buffer
			r, w := setup(t, conn, src, dst)
			run, err := Sync(ctx, r, w, Options{Logger: &logger.SyncLogger{Out: &out}, KeepResult: true})
			require.NoError(t, err)
			assert.Equal(t, int64(3), run.Summary.Created, "root, f1 and f2")
			assert.Zero(t, run.Failed())
			assert.Equal(t, int64(len("hello")+len("world")), run.Summary.BytesWritten)
			assert.Contains(t, out.String(), "create: "+filepath.Join(dst, "f1"))
			assert.Equal(t, 3, run.Result.Summary.Created)

			for name, want := range map[string]string{"f1": "hello", "f2": "world"} {
				b, err := os.ReadFile(filepath.Join(dst, name))
				require.NoError(t, err)
				assert.Equal(t, want, string(b))
			}

			r, w = setup(t, conn, src, dst)
			run, err = Sync(ctx, r, w, Options{KeepPlan: true})
			require.NoError(t, err)
			assert.Empty(t, run.Plan.Files, "nothing changes on a second run")
		})
	}
}

func TestSyncDryRun(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "new"), []byte("n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "old"), []byte("o"), 0o644))

	var out bytes.Buffer
	r, w := setup(t, connection.Local(protocol.Current), src, dst)
	run, err := Sync(ctx, r, w, Options{
		DryRun:   true,
		KeepPlan: true,
		Logger:   &logger.SyncLogger{IsDryRun: true, Out: &out},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Plan.Summary.Create)
	assert.Equal(t, 1, run.Plan.Summary.Delete)
	assert.Contains(t, out.String(), "(dryrun) delete: "+filepath.Join(dst, "old"))
	assert.FileExists(t, filepath.Join(dst, "old"))
	assert.NoFileExists(t, filepath.Join(dst, "new"))
}

func TestSyncDryRunCountsSplitRecordsOnce(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	size := 2*diff.PartSize + 1
	require.NoError(t, os.WriteFile(filepath.Join(src, "big"), bytes.Repeat([]byte("x"), size), 0o644))

	r, w := setup(t, connection.Local(protocol.Current), src, dst)
	run, err := Sync(ctx, r, w, Options{
		DryRun:   true,
		KeepPlan: true,
		Logger:   &logger.SyncLogger{IsDryRun: true, Out: &bytes.Buffer{}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Plan.Summary.Create)
	var big []PlanFile
	for _, f := range run.Plan.Files {
		if f.Target == filepath.Join(dst, "big") {
			big = append(big, f)
		}
	}
	require.Len(t, big, 1)
	assert.Equal(t, int64(size), big[0].Bytes)
	assert.Equal(t, int64(1), run.Summary.Created)
	assert.Equal(t, int64(size), run.Summary.BytesWritten)
}

func TestSyncReportsFailures(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(src, "locked"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "locked", "f"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "z"), []byte("z"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dst, "locked"), 0o755))
	// Same mode on both sides, so the directory itself needs no record.
	for _, dir := range []string{src, dst} {
		locked := filepath.Join(dir, "locked")
		require.NoError(t, os.Chmod(locked, 0o555))
		t.Cleanup(func() { os.Chmod(locked, 0o755) })
	}

	var errOut bytes.Buffer
	r, w := setup(t, connection.Local(protocol.Current), src, dst)
	run, err := Sync(ctx, r, w, Options{Logger: &logger.SyncLogger{IsQuiet: true, ErrOut: &errOut}, KeepResult: true})
	require.NoError(t, err)

	assert.Equal(t, int64(1), run.Failed())
	assert.Len(t, run.Result.Errors, 1)
	assert.Contains(t, errOut.String(), "create failed")
	assert.FileExists(t, filepath.Join(dst, "z"), "later records are still applied")
}

func TestWritePlanAndResult(t *testing.T) {
	dir := t.TempDir()

	planPath := filepath.Join(dir, "plan.json")
	require.NoError(t, WritePlan(planPath, Plan{}))
	var plan map[string]any
	b, err := os.ReadFile(planPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &plan))
	assert.Equal(t, []any{}, plan["files"])

	resultPath := filepath.Join(dir, "result.json")
	result := Result{}
	result.Files = append(result.Files, ResultFile{Action: "created", Target: "/x"})
	require.NoError(t, WriteResult(resultPath, result))
	var got Result
	b, err = os.ReadFile(resultPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, result.Files, got.Files)
	assert.Empty(t, got.Errors)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	path := filepath.Join(src, "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	info, err := os.Lstat(path)
	require.NoError(t, err)
	rootInfo, err := os.Lstat(src)
	require.NoError(t, err)
	repo := []compare.RepoEntry{
		{Entry: entry.FromFileInfo(entry.Index{}, src, rootInfo)},
		{Entry: entry.FromFileInfo(entry.Index{"f"}, path, info), Data: []byte("abd")},
	}

	for name, conn := range connections(t) {
		t.Run(name, func(t *testing.T) {
			r := location.NewReadLocation(entry.NewPath(src), conn, location.Options{})
			require.Equal(t, location.CodeOK, r.Setup(ctx))

			meta, err := Compare(ctx, r, compare.Meta, entry.FromSlice(repo))
			require.NoError(t, err)
			assert.True(t, meta.Clean())

			full, err := Compare(ctx, r, compare.Full, entry.FromSlice(repo))
			require.NoError(t, err)
			assert.Equal(t, 1, full.Different)
		})
	}
}
