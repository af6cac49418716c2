// Package fsabilities detects what the filesystem under a location's base
// directory supports.
package fsabilities

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Role is the side of a sync a directory is probed for.
type Role string

const (
	Read  Role = "read"
	Write Role = "write"
)

// Capabilities describe one probed directory. A probe either fills every
// field or fails; there is no partial value.
type Capabilities struct {
	Path              string `json:"path"`
	Role              Role   `json:"role"`
	DirExists         bool   `json:"dir_exists"`
	ReadOnly          bool   `json:"read_only"`
	Symlinks          bool   `json:"symlinks"`
	Hardlinks         bool   `json:"hardlinks"`
	CaseSensitive     bool   `json:"case_sensitive"`
	Permissions       bool   `json:"permissions"`
	Ownership         bool   `json:"ownership"`
	ExtendedAttrs     bool   `json:"extended_attrs"`
	HighResTimestamps bool   `json:"high_res_timestamps"`
	UnicodeFilenames  bool   `json:"unicode_filenames"`
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

func (c *Capabilities) String() string {
	rows := []struct {
		name  string
		value bool
	}{
		{"Directory exists", c.DirExists},
		{"Read only", c.ReadOnly},
		{"Symbolic links", c.Symlinks},
		{"Hard linking", c.Hardlinks},
		{"Case sensitivity", c.CaseSensitive},
		{"Permissions", c.Permissions},
		{"Ownership changing", c.Ownership},
		{"Extended attributes", c.ExtendedAttrs},
		{"High resolution timestamps", c.HighResTimestamps},
		{"Unicode filenames", c.UnicodeFilenames},
	}

	header := fmt.Sprintf("Detected abilities for %s file system at path %s", c.Role, c.Path)
	rule := strings.Repeat("-", len(header))

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s\n", rule, header, rule)
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-40s %s\n", r.name, onOff(r.value))
	}
	b.WriteString(rule)
	return b.String()
}

// Probe detects the capabilities of dir. The read role never writes; the
// write role experiments inside a temporary directory and removes it. A
// write directory that does not exist yet is probed through its nearest
// existing ancestor.
func Probe(ctx context.Context, dir string, role Role) (*Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch role {
	case Read:
		return probeRead(dir)
	case Write:
		return probeWrite(dir)
	}
	return nil, fmt.Errorf("unknown role %q", role)
}

func probeRead(dir string) (*Capabilities, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	c := &Capabilities{
		Path:              dir,
		Role:              Read,
		DirExists:         true,
		ReadOnly:          !accessWritable(dir),
		Symlinks:          runtime.GOOS != "windows",
		Hardlinks:         runtime.GOOS != "windows",
		CaseSensitive:     caseSensitiveByListing(dir, names),
		Permissions:       runtime.GOOS != "windows",
		Ownership:         runtime.GOOS != "windows",
		ExtendedAttrs:     xattrReadable(dir),
		HighResTimestamps: !coarseTimestamps(dir),
		UnicodeFilenames:  true,
	}
	return c, nil
}

// caseSensitiveByListing looks up an existing name with its case swapped.
// Without a suitable name the platform default applies.
func caseSensitiveByListing(dir string, names []string) bool {
	for _, name := range names {
		swapped := swapCase(name)
		if swapped == name {
			continue
		}
		orig, err := os.Lstat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		other, err := os.Lstat(filepath.Join(dir, swapped))
		if err != nil {
			return true
		}
		return !os.SameFile(orig, other)
	}
	return runtime.GOOS != "windows" && runtime.GOOS != "darwin"
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z':
			return r - 'A' + 'a'
		}
		return r
	}, s)
}

func probeWrite(dir string) (*Capabilities, error) {
	c := &Capabilities{Path: dir, Role: Write, DirExists: true}

	base := dir
	for {
		info, err := os.Stat(base)
		if err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("%s is not a directory", base)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", base, err)
		}
		c.DirExists = false
		parent := filepath.Dir(base)
		if parent == base {
			return nil, fmt.Errorf("no existing ancestor of %s", dir)
		}
		base = parent
	}

	tmp, err := os.MkdirTemp(base, ".strict-backup-abilities-")
	if err != nil {
		return nil, fmt.Errorf("create probe directory in %s: %w", base, err)
	}
	defer os.RemoveAll(tmp)

	probe := filepath.Join(tmp, "probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return nil, fmt.Errorf("write probe file: %w", err)
	}

	c.Symlinks = os.Symlink("probe", filepath.Join(tmp, "link")) == nil
	c.Hardlinks = os.Link(probe, filepath.Join(tmp, "hardlink")) == nil
	c.CaseSensitive = probeCaseSensitive(tmp)
	c.Permissions = probePermissions(probe)
	c.Ownership = probeOwnership(probe)
	c.ExtendedAttrs = xattrWritable(probe)
	c.HighResTimestamps = probeTimestamps(probe)
	c.UnicodeFilenames = os.WriteFile(filepath.Join(tmp, "unicode-é中"), nil, 0o644) == nil
	return c, nil
}

func probeCaseSensitive(tmp string) bool {
	if err := os.WriteFile(filepath.Join(tmp, "Case"), nil, 0o644); err != nil {
		return true
	}
	_, err := os.Lstat(filepath.Join(tmp, "cASE"))
	return err != nil
}

func probePermissions(path string) bool {
	if err := os.Chmod(path, 0o601); err != nil {
		return false
	}
	info, err := os.Lstat(path)
	return err == nil && info.Mode().Perm() == 0o601
}

func probeOwnership(path string) bool {
	if runtime.GOOS == "windows" || os.Geteuid() != 0 {
		return false
	}
	return os.Lchown(path, os.Getuid(), os.Getgid()) == nil
}

func probeTimestamps(path string) bool {
	t := time.Unix(1_000_000_000, 123_456_789)
	if err := os.Chtimes(path, t, t); err != nil {
		return false
	}
	info, err := os.Lstat(path)
	return err == nil && info.ModTime().Nanosecond() != 0
}

// Settings tell the patching side which metadata to restore.
type Settings struct {
	Permissions       bool `json:"permissions"`
	Ownership         bool `json:"ownership"`
	ExtendedAttrs     bool `json:"extended_attrs"`
	Symlinks          bool `json:"symlinks"`
	Hardlinks         bool `json:"hardlinks"`
	HighResTimestamps bool `json:"high_res_timestamps"`
}

// Reconcile decides which metadata can travel from src to dst. A nil src,
// as with legacy peers, leaves the decision to dst alone.
func Reconcile(src, dst *Capabilities) Settings {
	if dst == nil {
		return Settings{}
	}
	s := Settings{
		Permissions:       dst.Permissions,
		Ownership:         dst.Ownership,
		ExtendedAttrs:     dst.ExtendedAttrs,
		Symlinks:          dst.Symlinks,
		Hardlinks:         dst.Hardlinks,
		HighResTimestamps: dst.HighResTimestamps,
	}
	if src != nil {
		s.Permissions = s.Permissions && src.Permissions
		s.Ownership = s.Ownership && src.Ownership
		s.ExtendedAttrs = s.ExtendedAttrs && src.ExtendedAttrs
		s.Symlinks = s.Symlinks && src.Symlinks
		s.Hardlinks = s.Hardlinks && src.Hardlinks
		s.HighResTimestamps = s.HighResTimestamps && src.HighResTimestamps
	}
	return s
}

// Defaults are the settings used when no capabilities were negotiated, as
// with legacy peers: whatever this platform normally supports.
func Defaults() Settings {
	unixLike := runtime.GOOS != "windows"
	return Settings{
		Permissions:       unixLike,
		Ownership:         unixLike && os.Geteuid() == 0,
		Symlinks:          unixLike,
		Hardlinks:         unixLike,
		HighResTimestamps: true,
	}
}
