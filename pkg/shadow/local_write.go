package shadow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/executor"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/owners"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

// LocalWrite patches a directory of this process.
type LocalWrite struct {
	mu       sync.Mutex
	sel      *selection.Select
	settings fsabilities.Settings
	owners   *owners.Mapper
}

func NewLocalWrite() *LocalWrite {
	return &LocalWrite{settings: fsabilities.Defaults()}
}

func (w *LocalWrite) FSAbilities(ctx context.Context, base entry.Path) (*fsabilities.Capabilities, error) {
	return fsabilities.Probe(ctx, base.Abs(), fsabilities.Write)
}

func (w *LocalWrite) SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error {
	base, err := base.Absolute()
	if err != nil {
		return err
	}
	sel, err := selection.Compile(base.Root, rules, payloads...)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sel = sel
	w.mu.Unlock()
	return nil
}

func (w *LocalWrite) SetSettings(ctx context.Context, s fsabilities.Settings) error {
	w.mu.Lock()
	w.settings = s
	w.mu.Unlock()
	slog.Debug("write settings", "settings", s)
	return nil
}

// SetOwners installs the user and group mapping used when restoring
// ownership.
func (w *LocalWrite) SetOwners(m *owners.Mapper) {
	w.mu.Lock()
	w.owners = m
	w.mu.Unlock()
}

// Settings returns the settings patches are applied with.
func (w *LocalWrite) Settings() fsabilities.Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

// GetInitialIter signs what base currently holds. A base that does not
// exist yet holds nothing.
func (w *LocalWrite) GetInitialIter(ctx context.Context, base entry.Path) (entry.Iter[diff.Signature], error) {
	base, err := base.Absolute()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base.Abs()); errors.Is(err, os.ErrNotExist) {
		return entry.Empty[diff.Signature](), nil
	}

	w.mu.Lock()
	filter := w.sel.Filter()
	w.mu.Unlock()

	walker, err := entry.NewWalker(base, filter)
	if err != nil {
		return nil, err
	}
	return entry.Map[entry.Entry](walker, func(e entry.Entry) (diff.Signature, error) {
		if !e.IsRegular() {
			return diff.Signature{Entry: e}, nil
		}
		f, err := os.Open(base.Child(e.Index))
		if err != nil {
			// Unreadable content is treated as unknown and gets replaced.
			slog.Warn("cannot sign file", "path", base.Child(e.Index), "error", err)
			return diff.Signature{Entry: e}, nil
		}
		defer f.Close()
		return diff.Sign(e, f)
	}), nil
}

// Patch applies diffs to base in the order given and reports one event per
// applied record. Records must arrive in strictly increasing index order.
func (w *LocalWrite) Patch(ctx context.Context, base entry.Path, diffs entry.Iter[diff.Record]) (entry.Iter[Event], error) {
	base, err := base.Absolute()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	p := &patcher{
		base:  base,
		sel:   w.sel,
		exec:  executor.NewExecutor(base, w.settings, w.owners),
		diffs: diffs,
	}
	w.mu.Unlock()
	return entry.IterFunc[Event](p.next), nil
}

type patcher struct {
	base    entry.Path
	sel     *selection.Select
	exec    *executor.Executor
	diffs   entry.Iter[diff.Record]
	last    entry.Index
	started bool
	// cont is set while the parts of a split record arrive. ev collects
	// their outcome and skip drops the remaining parts.
	cont bool
	skip bool
	ev   Event
}

func (p *patcher) next(ctx context.Context) (Event, error) {
	for {
		rec, err := p.diffs.Next(ctx)
		if err != nil {
			if p.cont {
				p.exec.Abort()
				if errors.Is(err, io.EOF) {
					err = &protocol.ProtocolError{Op: "patch", Err: fmt.Errorf("diffs end inside the parts of %s", p.last)}
				}
			}
			return Event{}, err
		}
		if err := p.checkOrder(rec.Index); err != nil {
			p.exec.Abort()
			return Event{}, err
		}
		first := !p.cont
		p.started, p.last, p.cont = true, rec.Index, rec.More

		if first {
			p.ev = Event{Index: rec.Index, Op: rec.Op}
			p.skip = p.sel != nil && p.sel.Decide(p.base.Child(rec.Index), rec.Entry) == selection.Excluded
			if p.skip {
				slog.Debug("record excluded on write side", "index", rec.Index)
			}
		}
		if !p.skip {
			n, err := p.exec.Execute(rec)
			p.ev.Bytes += n
			if err != nil {
				p.ev.Error = err.Error()
				p.skip = true
			}
		}
		if rec.More || (p.skip && !p.ev.Failed()) {
			continue
		}
		return p.ev, nil
	}
}

func (p *patcher) checkOrder(idx entry.Index) error {
	switch {
	case p.cont && !idx.Equal(p.last):
		return &protocol.ProtocolError{
			Op:  "patch",
			Err: fmt.Errorf("%s inside the parts of %s: %w", idx, p.last, protocol.ErrOrderViolation),
		}
	case !p.cont && p.started && !p.last.Less(idx):
		return &protocol.ProtocolError{
			Op:  "patch",
			Err: fmt.Errorf("%s after %s: %w", idx, p.last, protocol.ErrOrderViolation),
		}
	}
	return nil
}
