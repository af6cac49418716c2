// Package logger reports the actions taken on a destination, one line per
// entry, in the style of "aws s3 sync" output.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type Logger interface {
	Create(path string)
	Update(path string, bytes int64)
	Delete(path string)
	Attrs(path string)
	Error(operation, path string, err error)
}

// SyncLogger prints actions to Out (stdout when nil) and errors to ErrOut
// (stderr when nil). Quiet suppresses everything but errors; DryRun marks
// each line.
type SyncLogger struct {
	IsDryRun bool
	IsQuiet  bool
	Out      io.Writer
	ErrOut   io.Writer

	mu sync.Mutex
}

func (l *SyncLogger) out() io.Writer {
	if l.Out == nil {
		return os.Stdout
	}
	return l.Out
}

func (l *SyncLogger) errOut() io.Writer {
	if l.ErrOut == nil {
		return os.Stderr
	}
	return l.ErrOut
}

func (l *SyncLogger) print(action, path string) {
	if l.IsQuiet {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.IsDryRun {
		fmt.Fprintf(l.out(), "(dryrun) %s: %s\n", action, path)
		return
	}
	fmt.Fprintf(l.out(), "%s: %s\n", action, path)
}

func (l *SyncLogger) Create(path string) {
	l.print("create", path)
}

func (l *SyncLogger) Update(path string, bytes int64) {
	l.print("update", path)
}

func (l *SyncLogger) Delete(path string) {
	l.print("delete", path)
}

func (l *SyncLogger) Attrs(path string) {
	l.print("attrs", path)
}

func (l *SyncLogger) Error(operation, path string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.errOut(), "%s failed: %s (%v)\n", operation, path, err)
}

type NullLogger struct{}

func (NullLogger) Create(path string)                      {}
func (NullLogger) Update(path string, bytes int64)         {}
func (NullLogger) Delete(path string)                      {}
func (NullLogger) Attrs(path string)                       {}
func (NullLogger) Error(operation, path string, err error) {}
