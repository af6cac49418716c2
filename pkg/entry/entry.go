// Package entry describes filesystem entries by their index relative to a
// base directory, and walks directory trees in the order both sides of a
// sync agree on: depth-first, lexicographic by path segment.
package entry

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Index is the list of path segments leading from a base directory to an
// entry. The base directory itself has an empty Index.
type Index []string

// ParseIndex splits a slash separated relative path.
func ParseIndex(rel string) Index {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return Index{}
	}
	return Index(strings.Split(rel, "/"))
}

func (i Index) String() string {
	if len(i) == 0 {
		return "."
	}
	return strings.Join(i, "/")
}

// Path returns the index as an OS path relative to the base directory.
func (i Index) Path() string {
	if len(i) == 0 {
		return "."
	}
	return filepath.Join(i...)
}

// Compare orders indexes segment by segment; a prefix sorts before anything
// it is a prefix of.
func (i Index) Compare(o Index) int {
	n := len(i)
	if len(o) < n {
		n = len(o)
	}
	for k := 0; k < n; k++ {
		if c := strings.Compare(i[k], o[k]); c != 0 {
			return c
		}
	}
	switch {
	case len(i) < len(o):
		return -1
	case len(i) > len(o):
		return 1
	}
	return 0
}

func (i Index) Less(o Index) bool {
	return i.Compare(o) < 0
}

func (i Index) Equal(o Index) bool {
	return i.Compare(o) == 0
}

// HasPrefix reports whether p is a leading part of i.
func (i Index) HasPrefix(p Index) bool {
	if len(p) > len(i) {
		return false
	}
	for k := range p {
		if i[k] != p[k] {
			return false
		}
	}
	return true
}

// Join returns a new index with name appended.
func (i Index) Join(name string) Index {
	out := make(Index, len(i), len(i)+1)
	copy(out, i)
	return append(out, name)
}

// Type is the kind of a filesystem entry.
type Type string

const (
	Missing Type = "missing"
	Regular Type = "reg"
	Dir     Type = "dir"
	Symlink Type = "sym"
	Device  Type = "dev"
	Fifo    Type = "fifo"
	Socket  Type = "sock"
)

// Entry is the metadata of one filesystem entry.
type Entry struct {
	Index      Index  `json:"index"`
	Type       Type   `json:"type"`
	Size       int64  `json:"size,omitempty"`
	ModTime    int64  `json:"mtime,omitempty"` // unix nanoseconds
	Mode       uint32 `json:"mode,omitempty"`  // permission bits
	UID        int    `json:"uid"`
	GID        int    `json:"gid"`
	LinkTarget string `json:"link,omitempty"`
}

func (e Entry) Exists() bool {
	return e.Type != "" && e.Type != Missing
}

func (e Entry) IsDir() bool {
	return e.Type == Dir
}

func (e Entry) IsRegular() bool {
	return e.Type == Regular
}

// MissingAt returns the placeholder entry for an absent index.
func MissingAt(idx Index) Entry {
	return Entry{Index: idx, Type: Missing, UID: -1, GID: -1}
}

// TypeOf maps a file mode onto an entry type.
func TypeOf(mode fs.FileMode) Type {
	switch {
	case mode.IsRegular():
		return Regular
	case mode.IsDir():
		return Dir
	case mode&fs.ModeSymlink != 0:
		return Symlink
	case mode&fs.ModeNamedPipe != 0:
		return Fifo
	case mode&fs.ModeSocket != 0:
		return Socket
	case mode&(fs.ModeDevice|fs.ModeCharDevice) != 0:
		return Device
	}
	return Missing
}

// FromFileInfo builds the entry for idx from an lstat result. abs is the
// entry's absolute path, used to read symlink targets.
func FromFileInfo(idx Index, abs string, info fs.FileInfo) Entry {
	e := Entry{
		Index:   idx,
		Type:    TypeOf(info.Mode()),
		ModTime: info.ModTime().UnixNano(),
		Mode:    uint32(info.Mode().Perm() | (info.Mode() & (fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky))),
	}
	e.UID, e.GID = owner(info)
	switch e.Type {
	case Regular:
		e.Size = info.Size()
	case Symlink:
		if target, err := readlink(abs); err == nil {
			e.LinkTarget = target
		}
	}
	return e
}

// SameMeta reports whether two entries agree on type, size, modification
// time and permission bits.
func SameMeta(a, b Entry) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case Regular:
		return a.Size == b.Size && SameModTime(a.ModTime, b.ModTime) && a.Mode == b.Mode
	case Symlink:
		return a.LinkTarget == b.LinkTarget
	case Dir:
		return a.Mode == b.Mode
	case Missing:
		return true
	}
	return a.Mode == b.Mode
}

// SameModTime reports whether two modification times in unix nanoseconds
// agree. A time without a sub-second part was kept at whole seconds, by the
// filesystem or by settings that drop high resolution timestamps, and
// matches any time within the same second.
func SameModTime(a, b int64) bool {
	if a == b {
		return true
	}
	const second = int64(time.Second)
	if a%second != 0 && b%second != 0 {
		return false
	}
	return floorSecond(a) == floorSecond(b)
}

func floorSecond(ns int64) int64 {
	const second = int64(time.Second)
	rem := ns % second
	if rem < 0 {
		rem += second
	}
	return ns - rem
}
