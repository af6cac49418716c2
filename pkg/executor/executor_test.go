package executor

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
)

func literalRecord(t *testing.T, op diff.Op, rel string, content []byte, mtime time.Time) diff.Record {
	t.Helper()
	ops, hash, err := diff.Literal(bytes.NewReader(content))
	require.NoError(t, err)
	idx := entry.ParseIndex(rel)
	return diff.Record{
		Index: idx,
		Op:    op,
		Entry: entry.Entry{
			Index:   idx,
			Type:    entry.Regular,
			Size:    int64(len(content)),
			ModTime: mtime.UnixNano(),
			Mode:    0o640,
			UID:     -1,
			GID:     -1,
		},
		Delta: ops,
		Hash:  hash,
	}
}

func TestExecute(t *testing.T) {
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	settings := fsabilities.Settings{Permissions: true, Symlinks: true, HighResTimestamps: true}

	tests := []struct {
		name    string
		setup   func(t *testing.T, root string)
		record  func(t *testing.T) diff.Record
		check   func(t *testing.T, root string)
		written int64
	}{
		{
			name: "create file",
			record: func(t *testing.T) diff.Record {
				return literalRecord(t, diff.Create, "a.txt", []byte("hello"), mtime)
			},
			check: func(t *testing.T, root string) {
				data, err := os.ReadFile(filepath.Join(root, "a.txt"))
				require.NoError(t, err)
				assert.Equal(t, "hello", string(data))
				info, err := os.Stat(filepath.Join(root, "a.txt"))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
				assert.True(t, info.ModTime().Equal(mtime))
			},
			written: 5,
		},
		{
			name: "create directory",
			record: func(t *testing.T) diff.Record {
				idx := entry.ParseIndex("sub")
				return diff.Record{Index: idx, Op: diff.Create, Entry: entry.Entry{Index: idx, Type: entry.Dir, Mode: 0o750, UID: -1, GID: -1}}
			},
			check: func(t *testing.T, root string) {
				info, err := os.Stat(filepath.Join(root, "sub"))
				require.NoError(t, err)
				assert.True(t, info.IsDir())
				assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
			},
		},
		{
			name: "create replaces file with directory",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.WriteFile(filepath.Join(root, "sub"), []byte("x"), 0o644))
			},
			record: func(t *testing.T) diff.Record {
				idx := entry.ParseIndex("sub")
				return diff.Record{Index: idx, Op: diff.Create, Entry: entry.Entry{Index: idx, Type: entry.Dir, Mode: 0o755, UID: -1, GID: -1}}
			},
			check: func(t *testing.T, root string) {
				info, err := os.Stat(filepath.Join(root, "sub"))
				require.NoError(t, err)
				assert.True(t, info.IsDir())
			},
		},
		{
			name: "create symlink",
			record: func(t *testing.T) diff.Record {
				idx := entry.ParseIndex("link")
				return diff.Record{Index: idx, Op: diff.Create, Entry: entry.Entry{Index: idx, Type: entry.Symlink, LinkTarget: "a.txt", UID: -1, GID: -1}}
			},
			check: func(t *testing.T, root string) {
				target, err := os.Readlink(filepath.Join(root, "link"))
				require.NoError(t, err)
				assert.Equal(t, "a.txt", target)
			},
		},
		{
			name: "delete tree",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "gone", "deep"), 0o755))
			},
			record: func(t *testing.T) diff.Record {
				return diff.Record{Index: entry.ParseIndex("gone"), Op: diff.Delete}
			},
			check: func(t *testing.T, root string) {
				_, err := os.Lstat(filepath.Join(root, "gone"))
				assert.True(t, os.IsNotExist(err))
			},
		},
		{
			name: "attrs only",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same"), 0o600))
			},
			record: func(t *testing.T) diff.Record {
				idx := entry.ParseIndex("a.txt")
				return diff.Record{Index: idx, Op: diff.Attrs, Entry: entry.Entry{Index: idx, Type: entry.Regular, Mode: 0o644, ModTime: mtime.UnixNano(), UID: -1, GID: -1}}
			},
			check: func(t *testing.T, root string) {
				info, err := os.Stat(filepath.Join(root, "a.txt"))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
				assert.True(t, info.ModTime().Equal(mtime))
				data, err := os.ReadFile(filepath.Join(root, "a.txt"))
				require.NoError(t, err)
				assert.Equal(t, "same", string(data))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if tt.setup != nil {
				tt.setup(t, root)
			}
			ex := NewExecutor(entry.NewPath(root), settings, nil)
			n, err := ex.Execute(tt.record(t))
			require.NoError(t, err)
			assert.Equal(t, tt.written, n)
			tt.check(t, root)
		})
	}
}

func TestExecuteUpdateUsesBasis(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.bin")
	old := make([]byte, 256*1024)
	rand.New(rand.NewSource(7)).Read(old)
	require.NoError(t, os.WriteFile(path, old, 0o644))

	sig, err := diff.Sign(entry.Entry{Type: entry.Regular}, bytes.NewReader(old))
	require.NoError(t, err)
	updated := append(append([]byte{}, old...), []byte("tail")...)
	ops, hash, err := diff.Delta(sig, bytes.NewReader(updated))
	require.NoError(t, err)

	idx := entry.ParseIndex("big.bin")
	rec := diff.Record{
		Index: idx,
		Op:    diff.Update,
		Entry: entry.Entry{Index: idx, Type: entry.Regular, Size: int64(len(updated)), Mode: 0o644, UID: -1, GID: -1},
		Delta: ops,
		Hash:  hash,
	}
	ex := NewExecutor(entry.NewPath(root), fsabilities.Settings{Permissions: true}, nil)
	_, err = ex.Execute(rec)
	require.NoError(t, err)
	assert.Less(t, rec.LiteralBytes(), int64(len(updated)))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestExecuteDigestMismatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("keep"), 0o644))

	rec := literalRecord(t, diff.Create, "a.txt", []byte("new"), time.Now())
	rec.Hash = strings.Repeat("0", 64)

	ex := NewExecutor(entry.NewPath(root), fsabilities.Settings{}, nil)
	_, err := ex.Execute(rec)
	assert.ErrorIs(t, err, ErrDigestMismatch)

	matches, err := filepath.Glob(filepath.Join(root, ".strict-backup-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestExecuteRejects(t *testing.T) {
	tests := []struct {
		name     string
		settings fsabilities.Settings
		record   diff.Record
	}{
		{
			name:   "unknown op",
			record: diff.Record{Index: entry.ParseIndex("x"), Op: "rename"},
		},
		{
			name:   "symlink without support",
			record: diff.Record{Index: entry.ParseIndex("l"), Op: diff.Create, Entry: entry.Entry{Type: entry.Symlink, LinkTarget: "x"}},
		},
		{
			name:   "fifo",
			record: diff.Record{Index: entry.ParseIndex("p"), Op: diff.Create, Entry: entry.Entry{Type: entry.Fifo}},
		},
		{
			name:   "update of missing basis",
			record: diff.Record{Index: entry.ParseIndex("none"), Op: diff.Update, Entry: entry.Entry{Type: entry.Regular}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := NewExecutor(entry.NewPath(t.TempDir()), tt.settings, nil)
			_, err := ex.Execute(tt.record)
			assert.Error(t, err)
		})
	}
}

func tempFiles(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, ".strict-backup-*.tmp"))
	require.NoError(t, err)
	return matches
}

func TestExecuteSplitRecord(t *testing.T) {
	content := make([]byte, 64*1024)
	rand.New(rand.NewSource(9)).Read(content)
	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	for _, op := range []diff.Op{diff.Create, diff.Update} {
		t.Run(string(op), func(t *testing.T) {
			root := t.TempDir()
			if op == diff.Update {
				require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), []byte("old"), 0o644))
			}
			rec := literalRecord(t, op, "big.bin", content, mtime)
			parts := rec.Split(8 * 1024)
			require.Greater(t, len(parts), 4)

			ex := NewExecutor(entry.NewPath(root), fsabilities.Settings{Permissions: true, HighResTimestamps: true}, nil)
			var written int64
			for i, p := range parts {
				n, err := ex.Execute(p)
				require.NoError(t, err)
				written += n
				if i < len(parts)-1 {
					assert.Len(t, tempFiles(t, root), 1, "content stays in a temporary file until the last part")
				}
			}
			assert.Equal(t, int64(len(content)), written)
			assert.Empty(t, tempFiles(t, root))

			got, err := os.ReadFile(filepath.Join(root, "big.bin"))
			require.NoError(t, err)
			assert.Equal(t, content, got)
			info, err := os.Stat(filepath.Join(root, "big.bin"))
			require.NoError(t, err)
			assert.True(t, info.ModTime().Equal(mtime))
		})
	}
}

func TestExecuteSplitRecordInterrupted(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 4096)
	parts := literalRecord(t, diff.Create, "a.bin", content, time.Now()).Split(4096)
	require.Greater(t, len(parts), 2)
	other := literalRecord(t, diff.Create, "b.bin", []byte("b"), time.Now())

	tests := []struct {
		name   string
		finish func(t *testing.T, ex *Executor)
	}{
		{
			name: "other index",
			finish: func(t *testing.T, ex *Executor) {
				_, err := ex.Execute(other)
				assert.Error(t, err)
			},
		},
		{
			name: "wrong digest",
			finish: func(t *testing.T, ex *Executor) {
				for _, p := range parts[1 : len(parts)-1] {
					_, err := ex.Execute(p)
					require.NoError(t, err)
				}
				last := parts[len(parts)-1]
				last.Hash = strings.Repeat("0", 64)
				_, err := ex.Execute(last)
				assert.ErrorIs(t, err, ErrDigestMismatch)
			},
		},
		{
			name:   "aborted",
			finish: func(t *testing.T, ex *Executor) { ex.Abort() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			ex := NewExecutor(entry.NewPath(root), fsabilities.Settings{}, nil)
			_, err := ex.Execute(parts[0])
			require.NoError(t, err)

			tt.finish(t, ex)
			assert.Empty(t, tempFiles(t, root))
			assert.NoFileExists(t, filepath.Join(root, "a.bin"))

			_, err = ex.Execute(other)
			require.NoError(t, err, "the executor recovers after an interrupted record")
			assert.FileExists(t, filepath.Join(root, "b.bin"))
		})
	}
}
