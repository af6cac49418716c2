// Package shadow holds the objects that do a location's work where its files
// are: on the local machine, or inside the peer process of a connection. A
// location resolves its shadow once and forwards every operation to it.
package shadow

import (
	"context"
	"fmt"
	"io"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

// Names under which the peer exposes the shadows.
const (
	ReadObject  = "ReadDirShadow"
	WriteObject = "WriteDirShadow"
)

// Reader is the read side of a sync: it produces diffs against the
// destination's signatures and compares against a repository.
type Reader interface {
	SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error
	GetSelect(ctx context.Context) ([]selection.Rule, error)
	GetDiffs(ctx context.Context, base entry.Path, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error)
	CompareMeta(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error)
	CompareHash(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error)
	CompareFull(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error)
}

// ReadShadow is a Reader that can also probe its filesystem.
type ReadShadow interface {
	Reader
	FSAbilities(ctx context.Context, base entry.Path) (*fsabilities.Capabilities, error)
}

// Writer is the write side of a sync.
type Writer interface {
	SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error
	GetInitialIter(ctx context.Context, base entry.Path) (entry.Iter[diff.Signature], error)
	Patch(ctx context.Context, base entry.Path, diffs entry.Iter[diff.Record]) (entry.Iter[Event], error)
}

// WriteShadow is a Writer that can also probe its filesystem and take the
// settings reconciled from both sides.
type WriteShadow interface {
	Writer
	FSAbilities(ctx context.Context, base entry.Path) (*fsabilities.Capabilities, error)
	SetSettings(ctx context.Context, s fsabilities.Settings) error
}

// Event reports one applied record. A failed record carries Error and does
// not stop the patch.
type Event struct {
	Index entry.Index `json:"index"`
	Op    diff.Op     `json:"op"`
	Bytes int64       `json:"bytes,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (e Event) Failed() bool {
	return e.Error != ""
}

type variant bool

const (
	local  variant = true
	remote variant = false
)

type key struct {
	role    fsabilities.Role
	variant variant
}

type resolver func(conn connection.Connection) any

var registry = map[key]resolver{
	{fsabilities.Read, local}:   func(connection.Connection) any { return NewLocalRead() },
	{fsabilities.Write, local}:  func(connection.Connection) any { return NewLocalWrite() },
	{fsabilities.Read, remote}:  func(conn connection.Connection) any { return &RemoteRead{conn: conn} },
	{fsabilities.Write, remote}: func(conn connection.Connection) any { return &RemoteWrite{conn: conn} },
}

// objectHolder is implemented by connections that can tell whether the peer
// exposes an object.
type objectHolder interface {
	Has(ctx context.Context, object string) (bool, error)
}

func resolve(ctx context.Context, conn connection.Connection, role fsabilities.Role, object string) (any, error) {
	if conn.IsLocal() {
		return registry[key{role, local}](conn), nil
	}

	gate := protocol.Decide(conn.Version())
	if !gate.Modern() {
		return nil, &protocol.ProtocolError{
			Op:  "resolve " + object,
			Err: fmt.Errorf("shadows need protocol %d or later, connection speaks %d", protocol.Cutoff, conn.Version()),
		}
	}
	if h, ok := conn.(objectHolder); ok {
		found, err := h.Has(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("look up %s: %w", object, err)
		}
		if !found {
			return nil, &protocol.ProtocolError{Op: "resolve " + object, Err: connection.ErrUnknownObject}
		}
	}
	return registry[key{role, remote}](conn), nil
}

// ResolveRead returns the read shadow for conn: the in-process
// implementation for a local connection, a proxy otherwise.
func ResolveRead(ctx context.Context, conn connection.Connection) (ReadShadow, error) {
	s, err := resolve(ctx, conn, fsabilities.Read, ReadObject)
	if err != nil {
		return nil, err
	}
	return s.(ReadShadow), nil
}

// ResolveWrite is ResolveRead for the write side.
func ResolveWrite(ctx context.Context, conn connection.Connection) (WriteShadow, error) {
	s, err := resolve(ctx, conn, fsabilities.Write, WriteObject)
	if err != nil {
		return nil, err
	}
	return s.(WriteShadow), nil
}

// CloseIter abandons a remote stream early. It is a no-op for local
// iterators.
func CloseIter[T any](ctx context.Context, it entry.Iter[T]) error {
	if c, ok := it.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}
