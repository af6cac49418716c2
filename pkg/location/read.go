package location

import (
	"context"
	"io"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/legacy"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

// ReadLocation is the source directory of a backup or the live side of a
// compare.
type ReadLocation struct {
	base
	reader shadow.Reader
}

// NewReadLocation creates the location for path, reached over conn.
func NewReadLocation(path entry.Path, conn connection.Connection, opts Options) *ReadLocation {
	return &ReadLocation{base: newBase(path, conn, opts)}
}

// Check runs the generic checks without touching any shadow.
func (l *ReadLocation) Check(ctx context.Context) Code {
	return l.checkReadable(ctx)
}

// Setup checks the location, then resolves its implementation. Under the
// modern convention it also probes the filesystem; a failed probe fails the
// setup.
func (l *ReadLocation) Setup(ctx context.Context) Code {
	if code := l.checkReadable(ctx); !code.OK() {
		return code
	}

	if !l.gate.Modern() {
		l.reader = legacy.NewSource(l.conn)
		l.ready = true
		return CodeOK
	}

	sh, err := shadow.ResolveRead(ctx, l.conn)
	if err != nil {
		l.log.Error("cannot resolve read shadow", "path", l.path.Abs(), "error", err)
		return CodeNegotiation
	}
	caps, err := sh.FSAbilities(ctx, l.path)
	if err != nil || caps == nil {
		l.log.Error("cannot detect file system abilities", "path", l.path.Abs(), "error", err)
		return CodeNegotiation
	}
	l.caps = caps
	l.logCapabilities("Read")
	l.reader = sh
	l.ready = true
	return CodeOK
}

// SetSelect installs the selection rules. Peers that cannot traverse
// symbolic links safely get them excluded first.
func (l *ReadLocation) SetSelect(ctx context.Context, rules []selection.Rule, payloads ...io.Reader) error {
	if err := l.requireReady(); err != nil {
		return err
	}
	rules, injected := selection.InjectPlatformDefaults(rules, l.conn.OS())
	if injected {
		l.log.Info("symbolic links excluded by default", "os", l.conn.OS())
	}
	return l.reader.SetSelect(ctx, l.path, rules, payloads...)
}

// GetSelect returns the rules the implementation currently holds.
func (l *ReadLocation) GetSelect(ctx context.Context) ([]selection.Rule, error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	return l.reader.GetSelect(ctx)
}

// GetDiffs merges the location with the destination signatures into the
// records that make the destination match it.
func (l *ReadLocation) GetDiffs(ctx context.Context, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	return l.reader.GetDiffs(ctx, l.path, sigs)
}

// CompareMeta compares repository entries with the location by metadata.
func (l *ReadLocation) CompareMeta(ctx context.Context, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	return l.reader.CompareMeta(ctx, l.path, repo)
}

// CompareHash also compares regular files by their recorded digests.
func (l *ReadLocation) CompareHash(ctx context.Context, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	return l.reader.CompareHash(ctx, l.path, repo)
}

// CompareFull compares regular files byte by byte with the repository.
func (l *ReadLocation) CompareFull(ctx context.Context, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	return l.reader.CompareFull(ctx, l.path, repo)
}

// Compare dispatches on tier.
func (l *ReadLocation) Compare(ctx context.Context, tier compare.Tier, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	switch tier {
	case compare.Hash:
		return l.CompareHash(ctx, repo)
	case compare.Full:
		return l.CompareFull(ctx, repo)
	}
	return l.CompareMeta(ctx, repo)
}
