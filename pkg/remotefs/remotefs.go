// Package remotefs runs the few filesystem calls a location needs before
// its shadow exists, either here or on the peer holding the directory.
package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
)

// Object is the name of the filesystem object on a peer.
const Object = "fs"

// ErrNotExist is returned when the path does not exist.
var ErrNotExist = fs.ErrNotExist

// FS is the filesystem of one side of a connection.
type FS interface {
	Lstat(ctx context.Context, path string) (entry.Entry, error)
	ReadDirNames(ctx context.Context, dir string) ([]string, error)
	Writable(ctx context.Context, dir string) (bool, error)
	MkdirAll(ctx context.Context, dir string) error
}

// For returns the filesystem of the side holding conn's objects.
func For(conn connection.Connection) FS {
	if conn.IsLocal() {
		return Local{}
	}
	return &remote{conn: conn}
}

// Local is the filesystem of this process.
type Local struct{}

func (Local) Lstat(ctx context.Context, path string) (entry.Entry, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entry.Entry{}, fmt.Errorf("lstat %s: %w", path, ErrNotExist)
		}
		return entry.Entry{}, err
	}
	return entry.FromFileInfo(entry.Index{}, path, info), nil
}

func (Local) ReadDirNames(ctx context.Context, dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (Local) Writable(ctx context.Context, dir string) (bool, error) {
	f, err := os.CreateTemp(dir, ".strict-backup-probe-*")
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	name := f.Name()
	f.Close()
	return true, os.Remove(name)
}

func (Local) MkdirAll(ctx context.Context, dir string) error {
	return os.MkdirAll(filepath.Clean(dir), 0o755)
}

type remote struct {
	conn connection.Connection
}

type lstatReply struct {
	Missing bool        `json:"missing,omitempty"`
	Entry   entry.Entry `json:"entry"`
}

func (r *remote) Lstat(ctx context.Context, path string) (entry.Entry, error) {
	var reply lstatReply
	if err := r.conn.Call(ctx, Object, "lstat", path, &reply); err != nil {
		return entry.Entry{}, err
	}
	if reply.Missing {
		return entry.Entry{}, fmt.Errorf("lstat %s: %w", path, ErrNotExist)
	}
	return reply.Entry, nil
}

func (r *remote) ReadDirNames(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := r.conn.Call(ctx, Object, "readdirnames", dir, &names)
	return names, err
}

func (r *remote) Writable(ctx context.Context, dir string) (bool, error) {
	var ok bool
	err := r.conn.Call(ctx, Object, "writable", dir, &ok)
	return ok, err
}

func (r *remote) MkdirAll(ctx context.Context, dir string) error {
	return r.conn.Call(ctx, Object, "mkdirall", dir, nil)
}

// Register exposes the local filesystem on server.
func Register(server *connection.Server) {
	l := Local{}
	server.Register(Object, connection.Methods{
		"lstat": connection.Method(func(ctx context.Context, path string) (lstatReply, error) {
			e, err := l.Lstat(ctx, path)
			if errors.Is(err, ErrNotExist) {
				return lstatReply{Missing: true}, nil
			}
			return lstatReply{Entry: e}, err
		}),
		"readdirnames": connection.Method(l.ReadDirNames),
		"writable":     connection.Method(l.Writable),
		"mkdirall": connection.Method(func(ctx context.Context, dir string) (any, error) {
			return nil, l.MkdirAll(ctx, dir)
		}),
	})
}
