// Package location models the two directory endpoints of a backup or
// restore. A location runs its own checks, then delegates every operation to
// the implementation chosen for its connection and protocol version.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/remotefs"
)

// Code is the result of Setup and Check. Zero is success; every set bit is
// one failure.
type Code int

const (
	// CodeOK is success.
	CodeOK Code = 0
	// CodeBase is a generic location failure: missing, not a directory,
	// or not accessible.
	CodeBase Code = 1 << (iota - 1)
	// CodeNotEmpty is a non-empty target without force.
	CodeNotEmpty
	// CodeNegotiation is a failed shadow resolution or capability probe.
	CodeNegotiation
	// CodeOwners is a failed owners mapping initialization.
	CodeOwners
	// CodeSettings is a failed transfer of the reconciled settings.
	CodeSettings
)

// OK reports whether no failure bit is set.
func (c Code) OK() bool {
	return c == CodeOK
}

func (c Code) String() string {
	if c == CodeOK {
		return "ok"
	}
	names := []struct {
		bit  Code
		name string
	}{
		{CodeBase, "base"},
		{CodeNotEmpty, "not-empty"},
		{CodeNegotiation, "negotiation"},
		{CodeOwners, "owners"},
		{CodeSettings, "settings"},
	}
	var parts []string
	for _, n := range names {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return fmt.Sprintf("%d (%s)", int(c), strings.Join(parts, "|"))
}

// ErrNotReady is returned by operations on a location whose setup has not
// succeeded.
var ErrNotReady = errors.New("location is not set up")

// Options tune a location.
type Options struct {
	// Force lets a write location overwrite a non-empty directory.
	Force bool
	// CreateFullPath creates missing parents of a write location.
	CreateFullPath bool
	// Logger receives the location's records; slog.Default() when nil.
	Logger *slog.Logger
}

type base struct {
	path  entry.Path
	conn  connection.Connection
	gate  protocol.Gate
	fs    remotefs.FS
	opts  Options
	log   *slog.Logger
	caps  *fsabilities.Capabilities
	ready bool
}

func newBase(path entry.Path, conn connection.Connection, opts Options) base {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return base{
		path: path,
		conn: conn,
		gate: protocol.Decide(conn.Version()),
		fs:   remotefs.For(conn),
		opts: opts,
		log:  log,
	}
}

// Path is the location's base directory.
func (b *base) Path() entry.Path {
	return b.path
}

// Gate is the protocol decision the location acts on.
func (b *base) Gate() protocol.Gate {
	return b.gate
}

// Capabilities are the probed filesystem abilities; nil before a modern
// setup and always nil under the legacy convention.
func (b *base) Capabilities() *fsabilities.Capabilities {
	return b.caps
}

func (b *base) String() string {
	if b.conn.IsLocal() {
		return b.path.Abs()
	}
	return "remote:" + b.path.Abs()
}

func (b *base) requireReady() error {
	if !b.ready {
		return fmt.Errorf("%s: %w", b.path.Abs(), ErrNotReady)
	}
	return nil
}

// stat returns the entry at the base, or a missing entry.
func (b *base) stat(ctx context.Context) (entry.Entry, error) {
	e, err := b.fs.Lstat(ctx, b.path.Abs())
	if errors.Is(err, remotefs.ErrNotExist) {
		return entry.MissingAt(nil), nil
	}
	return e, err
}

// checkReadable is the generic check of a read location.
func (b *base) checkReadable(ctx context.Context) Code {
	e, err := b.stat(ctx)
	switch {
	case err != nil:
		b.log.Error("cannot access location", "path", b.path.Abs(), "error", err)
		return CodeBase
	case !e.Exists():
		b.log.Error("location does not exist", "path", b.path.Abs())
		return CodeBase
	case !e.IsDir():
		b.log.Error("location is not a directory", "path", b.path.Abs())
		return CodeBase
	}
	return CodeOK
}

// checkWritable is the generic check of a write location: the base is a
// directory or can become one.
func (b *base) checkWritable(ctx context.Context) Code {
	e, err := b.stat(ctx)
	if err != nil {
		b.log.Error("cannot access location", "path", b.path.Abs(), "error", err)
		return CodeBase
	}
	if e.Exists() {
		if !e.IsDir() {
			b.log.Error("location exists and is not a directory", "path", b.path.Abs())
			return CodeBase
		}
		return CodeOK
	}

	parent := filepath.Dir(b.path.Abs())
	p, err := b.fs.Lstat(ctx, parent)
	if errors.Is(err, remotefs.ErrNotExist) {
		if b.opts.CreateFullPath {
			return CodeOK
		}
		b.log.Error("parent of location does not exist, use --create-full-path to create it", "path", b.path.Abs())
		return CodeBase
	}
	if err != nil {
		b.log.Error("cannot access parent of location", "path", parent, "error", err)
		return CodeBase
	}
	if !p.IsDir() {
		b.log.Error("parent of location is not a directory", "path", parent)
		return CodeBase
	}
	return CodeOK
}

func (b *base) logCapabilities(role string) {
	b.log.Info(fmt.Sprintf("--- %s directory file system capabilities ---\n%s", role, b.caps))
}
