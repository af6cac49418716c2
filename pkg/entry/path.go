package entry

import (
	"fmt"
	"path/filepath"
)

// Path is a base directory split into a root and an index below that root.
// Most locations have an empty Index; a location aligned under a sub path of
// a repository carries the sub path as its Index.
type Path struct {
	Root  string `json:"root"`
	Index Index  `json:"index,omitempty"`
}

// NewPath returns a Path for dir with an empty index.
func NewPath(dir string) Path {
	return Path{Root: filepath.Clean(dir)}
}

// Abs is the directory the path designates.
func (p Path) Abs() string {
	if len(p.Index) == 0 {
		return p.Root
	}
	return filepath.Join(append([]string{p.Root}, p.Index...)...)
}

// Child is the absolute path of idx below the designated directory.
func (p Path) Child(idx Index) string {
	if len(idx) == 0 {
		return p.Abs()
	}
	return filepath.Join(p.Abs(), filepath.Join(idx...))
}

func (p Path) String() string {
	return p.Abs()
}

// ShiftIndex moves up to levels trailing components of Root to the front of
// Index, leaving Abs unchanged. It returns how many levels were moved, which
// is less than requested when Root runs out of components.
func (p *Path) ShiftIndex(levels int) int {
	shifted := 0
	for shifted < levels {
		base := filepath.Base(p.Root)
		parent := filepath.Dir(p.Root)
		if base == "." || base == string(filepath.Separator) || parent == p.Root {
			break
		}
		p.Index = append(Index{base}, p.Index...)
		p.Root = parent
		shifted++
	}
	return shifted
}

// Absolute returns the path with Root resolved against the working
// directory of this process.
func (p Path) Absolute() (Path, error) {
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return p, fmt.Errorf("resolve %s: %w", p.Root, err)
	}
	p.Root = root
	return p, nil
}
