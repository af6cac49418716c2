package location

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/legacy"
	"github.com/yuya-takeyama/strict-backup/pkg/owners"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

// WriteLocation is the destination directory of a backup or restore.
type WriteLocation struct {
	base
	writer   shadow.Writer
	settings *fsabilities.Settings
}

// NewWriteLocation creates the location for path. A non-empty refIndex is
// the sub path of a repository the location corresponds to: the path is
// shifted so that its index lines up with it. A path that cannot line up is
// only warned about.
func NewWriteLocation(path entry.Path, conn connection.Connection, refIndex entry.Index, opts Options) *WriteLocation {
	l := &WriteLocation{base: newBase(path, conn, opts)}
	if levels := len(refIndex); levels > 0 {
		shifted := l.path.ShiftIndex(levels)
		if shifted < levels || !l.path.Index.Equal(refIndex) {
			l.log.Warn("target path isn't similar enough to source sub path, selection might fail, result is undefined",
				"target", l.path.Abs(), "sub_path", refIndex.String())
		}
	}
	return l
}

// Check runs the generic checks and the non-empty target check; the
// failure bits of both are combined.
func (l *WriteLocation) Check(ctx context.Context) Code {
	code := l.checkWritable(ctx)

	e, err := l.stat(ctx)
	if err != nil || !e.IsDir() {
		return code
	}
	names, err := l.fs.ReadDirNames(ctx, l.path.Abs())
	if err != nil {
		l.log.Error("cannot list location", "path", l.path.Abs(), "error", err)
		return code | CodeBase
	}
	if len(names) > 0 {
		if l.opts.Force {
			l.log.Warn("target path exists and isn't empty, content might be force overwritten", "path", l.path.Abs())
		} else {
			l.log.Error("target path exists and isn't empty, call with --force to overwrite", "path", l.path.Abs())
			code |= CodeNotEmpty
		}
	}
	return code
}

// Setup checks the location and resolves its implementation. Under the
// modern convention it probes the filesystem and sends the settings
// reconciled with srcCaps, which may be nil. Under the legacy convention it
// initializes the owners mapping when one is given.
func (l *WriteLocation) Setup(ctx context.Context, srcCaps *fsabilities.Capabilities, ownersCfg *owners.Config) Code {
	if code := l.checkWritable(ctx); !code.OK() {
		return code
	}
	if l.opts.CreateFullPath {
		parent := filepath.Dir(l.path.Abs())
		if err := l.fs.MkdirAll(ctx, parent); err != nil {
			l.log.Error("cannot create parent directories", "path", parent, "error", err)
			return CodeBase
		}
	}

	if !l.gate.Modern() {
		target := legacy.NewTarget(l.conn)
		if ownersCfg != nil {
			if err := target.InitOwnersMapping(ctx, *ownersCfg); err != nil {
				l.log.Error("cannot initialize owners mapping", "error", err)
				return CodeOwners
			}
		}
		l.writer = target
		l.ready = true
		return CodeOK
	}

	if ownersCfg != nil {
		l.log.Warn("owners mapping is only applied by legacy peers, ignoring it", "path", l.path.Abs())
	}
	sh, err := shadow.ResolveWrite(ctx, l.conn)
	if err != nil {
		l.log.Error("cannot resolve write shadow", "path", l.path.Abs(), "error", err)
		return CodeNegotiation
	}
	caps, err := sh.FSAbilities(ctx, l.path)
	if err != nil || caps == nil {
		l.log.Error("cannot detect file system abilities", "path", l.path.Abs(), "error", err)
		return CodeNegotiation
	}
	l.caps = caps
	l.logCapabilities("Write")

	settings := fsabilities.Reconcile(srcCaps, caps)
	if err := sh.SetSettings(ctx, settings); err != nil {
		l.log.Error("cannot transfer settings", "path", l.path.Abs(), "error", err)
		return CodeSettings
	}
	l.settings = &settings
	l.writer = sh
	l.ready = true
	return CodeOK
}

// Settings are the reconciled settings sent during a modern setup.
func (l *WriteLocation) Settings() (fsabilities.Settings, bool) {
	if l.settings == nil {
		return fsabilities.Settings{}, false
	}
	return *l.settings, true
}

// SetSelect installs selection rules. An empty rule list installs nothing.
func (l *WriteLocation) SetSelect(ctx context.Context, rules []selection.Rule, payloads ...io.Reader) error {
	if err := l.requireReady(); err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}
	return l.writer.SetSelect(ctx, l.path, rules, payloads...)
}

// GetInitialIter signs what the location currently holds.
func (l *WriteLocation) GetInitialIter(ctx context.Context) (entry.Iter[diff.Signature], error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	return l.writer.GetInitialIter(ctx, l.path)
}

// Patch applies diffs in order and streams back one event per record.
func (l *WriteLocation) Patch(ctx context.Context, diffs entry.Iter[diff.Record]) (entry.Iter[shadow.Event], error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	if diffs == nil {
		return nil, errors.New("patch needs a diff stream")
	}
	return l.writer.Patch(ctx, l.path, diffs)
}
