//go:build unix

package entry

import (
	"io/fs"
	"os"
	"syscall"
)

func owner(info fs.FileInfo) (int, int) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(st.Uid), int(st.Gid)
	}
	return -1, -1
}

func readlink(path string) (string, error) {
	return os.Readlink(path)
}
