//go:build linux || darwin

package fsabilities

import (
	"errors"

	"golang.org/x/sys/unix"
)

const probeAttr = "user.strict-backup.probe"

func xattrReadable(path string) bool {
	_, err := unix.Llistxattr(path, nil)
	return err == nil
}

func xattrWritable(path string) bool {
	if err := unix.Lsetxattr(path, probeAttr, []byte("1"), 0); err != nil {
		return false
	}
	buf := make([]byte, 8)
	n, err := unix.Lgetxattr(path, probeAttr, buf)
	return err == nil && string(buf[:n]) == "1"
}

func accessWritable(path string) bool {
	err := unix.Access(path, unix.W_OK)
	return err == nil || !errors.Is(err, unix.EACCES) && !errors.Is(err, unix.EROFS)
}
