//go:build linux

package fsabilities

import "golang.org/x/sys/unix"

// Filesystems that keep modification times at a second or coarser.
var coarseMagic = map[int64]string{
	0x4d44:     "msdos",
	0x2011bab0: "exfat",
	0x4244:     "hfs",
}

func coarseTimestamps(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	_, ok := coarseMagic[int64(st.Type)]
	return ok
}
