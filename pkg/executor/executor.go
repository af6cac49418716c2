// Package executor applies diff records to a directory tree.
package executor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/strict-backup/internal/checksum"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/owners"
)

const tempPattern = ".strict-backup-*.tmp"

// ErrDigestMismatch is returned when written content does not hash to the
// digest the record announced.
var ErrDigestMismatch = errors.New("content digest mismatch")

// Executor applies records below one base directory.
type Executor struct {
	base     entry.Path
	settings fsabilities.Settings
	owners   *owners.Mapper
	open     *content
}

// NewExecutor returns an executor for base restoring the metadata named by
// settings. owners may be nil.
func NewExecutor(base entry.Path, settings fsabilities.Settings, owners *owners.Mapper) *Executor {
	return &Executor{
		base:     base,
		settings: settings,
		owners:   owners,
	}
}

// Execute applies rec and returns the number of content bytes written. A
// record with More set leaves its content unfinished until the last part
// of the same index arrives.
func (e *Executor) Execute(rec diff.Record) (int64, error) {
	path := e.base.Child(rec.Index)
	if e.open != nil || rec.More {
		return e.part(path, rec)
	}
	switch rec.Op {
	case diff.Delete:
		return 0, e.delete(path)
	case diff.Create:
		return e.create(path, rec)
	case diff.Update:
		return e.update(path, rec)
	case diff.Attrs:
		return 0, e.applyAttrs(path, rec.Entry)
	}
	return 0, fmt.Errorf("unknown operation %q", rec.Op)
}

// Abort drops the content of an unfinished split record.
func (e *Executor) Abort() {
	if e.open != nil {
		e.open.discard()
		e.open = nil
	}
}

func (e *Executor) part(path string, rec diff.Record) (int64, error) {
	if e.open == nil {
		if rec.Entry.Type != entry.Regular || (rec.Op != diff.Create && rec.Op != diff.Update) {
			return 0, fmt.Errorf("cannot split %s of %s entries", rec.Op, rec.Entry.Type)
		}
		if rec.Op == diff.Create {
			if err := clearWay(path, rec.Entry); err != nil {
				return 0, err
			}
		}
		c, err := e.begin(path, rec)
		if err != nil {
			return 0, err
		}
		e.open = c
	} else if !e.open.index.Equal(rec.Index) || e.open.op != rec.Op {
		prev := e.open.index
		e.Abort()
		return 0, fmt.Errorf("%s %s does not continue %s", rec.Op, rec.Index, prev)
	}

	c := e.open
	n, err := c.write(rec.Delta)
	if err != nil {
		e.Abort()
		return n, err
	}
	if rec.More {
		return n, nil
	}
	e.open = nil
	if err := c.commit(rec.Hash); err != nil {
		return n, err
	}
	return n, e.applyAttrs(path, rec.Entry)
}

func (e *Executor) delete(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

// clearWay removes whatever sits at path unless both it and ent are
// directories.
func clearWay(path string, ent entry.Entry) error {
	info, err := os.Lstat(path)
	if err != nil || (info.IsDir() && ent.IsDir()) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to replace: %w", err)
	}
	return nil
}

func (e *Executor) create(path string, rec diff.Record) (int64, error) {
	if err := clearWay(path, rec.Entry); err != nil {
		return 0, err
	}

	var written int64
	switch rec.Entry.Type {
	case entry.Dir:
		if err := os.MkdirAll(path, 0o700); err != nil {
			return 0, fmt.Errorf("failed to create directory: %w", err)
		}
	case entry.Regular:
		n, err := e.writeContent(path, rec)
		if err != nil {
			return n, err
		}
		written = n
	case entry.Symlink:
		if !e.settings.Symlinks {
			return 0, fmt.Errorf("symbolic links are not supported here")
		}
		if err := os.Symlink(rec.Entry.LinkTarget, path); err != nil {
			return 0, fmt.Errorf("failed to create symlink: %w", err)
		}
	default:
		return 0, fmt.Errorf("cannot create %s entries", rec.Entry.Type)
	}
	return written, e.applyAttrs(path, rec.Entry)
}

func (e *Executor) update(path string, rec diff.Record) (int64, error) {
	n, err := e.writeContent(path, rec)
	if err != nil {
		return n, err
	}
	return n, e.applyAttrs(path, rec.Entry)
}

func (e *Executor) writeContent(path string, rec diff.Record) (int64, error) {
	c, err := e.begin(path, rec)
	if err != nil {
		return 0, err
	}
	n, err := c.write(rec.Delta)
	if err != nil {
		c.discard()
		return n, err
	}
	return n, c.commit(rec.Hash)
}

// content is a file being rebuilt in a temporary file next to path. Updates
// read copied ranges from the current file.
type content struct {
	index entry.Index
	op    diff.Op
	path  string
	basis *os.File
	tmp   *os.File
	w     *checksum.Writer
}

func (e *Executor) begin(path string, rec diff.Record) (*content, error) {
	c := &content{index: rec.Index, op: rec.Op, path: path}
	if rec.Op == diff.Update {
		basis, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open basis: %w", err)
		}
		c.basis = basis
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		c.discard()
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	c.tmp = tmp
	c.w = checksum.NewWriter(tmp)
	return c, nil
}

func (c *content) write(ops []diff.DeltaOp) (int64, error) {
	var ra io.ReaderAt
	if c.basis != nil {
		ra = c.basis
	}
	n, err := diff.Apply(ra, ops, c.w)
	if err != nil {
		return n, fmt.Errorf("failed to write content: %w", err)
	}
	return n, nil
}

// commit checks the digest of the written content and moves it into place.
// The content is released either way.
func (c *content) commit(hash string) error {
	defer c.discard()
	if err := c.tmp.Close(); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	if hash != "" && c.w.Sum() != hash {
		return fmt.Errorf("%s: %w", c.index, ErrDigestMismatch)
	}
	c.closeBasis()
	if err := os.Rename(c.tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to move content into place: %w", err)
	}
	c.tmp = nil
	return nil
}

func (c *content) closeBasis() {
	if c.basis != nil {
		c.basis.Close()
		c.basis = nil
	}
}

func (c *content) discard() {
	c.closeBasis()
	if c.tmp != nil {
		c.tmp.Close()
		os.Remove(c.tmp.Name())
		c.tmp = nil
	}
}

func (e *Executor) applyAttrs(path string, ent entry.Entry) error {
	if e.settings.Ownership && ent.UID >= 0 && ent.GID >= 0 {
		if err := os.Lchown(path, e.owners.UID(ent.UID), e.owners.GID(ent.GID)); err != nil {
			return fmt.Errorf("failed to change owner: %w", err)
		}
	}
	if ent.Type == entry.Symlink {
		return nil
	}
	if e.settings.Permissions {
		if err := os.Chmod(path, fs.FileMode(ent.Mode)); err != nil {
			return fmt.Errorf("failed to change mode: %w", err)
		}
	}
	if ent.ModTime != 0 {
		t := time.Unix(0, ent.ModTime)
		if !e.settings.HighResTimestamps {
			t = t.Truncate(time.Second)
		}
		if err := os.Chtimes(path, t, t); err != nil {
			return fmt.Errorf("failed to change times: %w", err)
		}
	}
	return nil
}
