//go:build !unix

package entry

import (
	"io/fs"
	"os"
)

func owner(info fs.FileInfo) (int, int) {
	return -1, -1
}

func readlink(path string) (string, error) {
	return os.Readlink(path)
}
