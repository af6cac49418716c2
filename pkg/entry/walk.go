package entry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filter decides whether an entry takes part in a walk. abs is the entry's
// absolute path. Returning false for a directory prunes its subtree.
type Filter func(abs string, e Entry) bool

type frame struct {
	index Index
	names []string
	pos   int
}

// Walker walks a directory tree lazily, depth-first and lexicographically by
// path segment. The base directory itself is the first entry.
type Walker struct {
	base    Path
	filter  Filter
	started bool
	stack   []*frame
}

// NewWalker creates a walker over base. A nil filter includes everything.
func NewWalker(base Path, filter Filter) (*Walker, error) {
	abs, err := filepath.Abs(base.Abs())
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", abs)
	}

	return &Walker{
		base:   Path{Root: abs},
		filter: filter,
	}, nil
}

// Next implements Iter.
func (w *Walker) Next(ctx context.Context) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	if !w.started {
		w.started = true
		root := w.base.Abs()
		info, err := os.Lstat(root)
		if err != nil {
			return Entry{}, fmt.Errorf("stat root: %w", err)
		}
		e := FromFileInfo(Index{}, root, info)
		if err := w.push(e.Index); err != nil {
			return Entry{}, err
		}
		return e, nil
	}

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		if top.pos >= len(top.names) {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}
		name := top.names[top.pos]
		top.pos++

		idx := top.index.Join(name)
		abs := w.base.Child(idx)
		info, err := os.Lstat(abs)
		if os.IsNotExist(err) {
			// Removed while walking.
			continue
		}
		if err != nil {
			return Entry{}, fmt.Errorf("get file info: %w", err)
		}

		e := FromFileInfo(idx, abs, info)
		if w.filter != nil && !w.filter(abs, e) {
			continue
		}
		if e.IsDir() {
			if err := w.push(idx); err != nil {
				return Entry{}, err
			}
		}
		return e, nil
	}

	return Entry{}, io.EOF
}

func (w *Walker) push(idx Index) error {
	abs := w.base.Child(idx)
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("read directory %s: %w", abs, err)
		}
		return fmt.Errorf("read directory: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, d := range dirEntries {
		names = append(names, d.Name())
	}
	// os.ReadDir already sorts by name.
	w.stack = append(w.stack, &frame{index: idx, names: names})
	return nil
}
