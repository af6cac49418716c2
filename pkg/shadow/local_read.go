package shadow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

// LocalRead reads a directory of this process.
type LocalRead struct {
	mu  sync.Mutex
	sel *selection.Select
}

func NewLocalRead() *LocalRead {
	return &LocalRead{}
}

func (r *LocalRead) FSAbilities(ctx context.Context, base entry.Path) (*fsabilities.Capabilities, error) {
	return fsabilities.Probe(ctx, base.Abs(), fsabilities.Read)
}

func (r *LocalRead) SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error {
	base, err := base.Absolute()
	if err != nil {
		return err
	}
	sel, err := selection.Compile(base.Root, rules, payloads...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sel = sel
	r.mu.Unlock()
	return nil
}

func (r *LocalRead) GetSelect(ctx context.Context) ([]selection.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sel == nil {
		return nil, nil
	}
	return r.sel.Rules(), nil
}

func (r *LocalRead) filter() entry.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sel.Filter()
}

func (r *LocalRead) walk(base entry.Path) (entry.Iter[entry.Entry], error) {
	return entry.NewWalker(base, r.filter())
}

// GetDiffs walks base and merges it with the destination signatures,
// yielding a record for every index that needs work.
func (r *LocalRead) GetDiffs(ctx context.Context, base entry.Path, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error) {
	base, err := base.Absolute()
	if err != nil {
		return nil, err
	}
	w, err := r.walk(base)
	if err != nil {
		return nil, err
	}
	d := &differ{
		base: base,
		src:  entry.NewPeeker[entry.Entry](w),
		dst:  entry.NewPeeker(sigs),
	}
	return entry.IterFunc[diff.Record](d.next), nil
}

func (r *LocalRead) CompareMeta(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return r.compare(compare.Meta, base, repo)
}

func (r *LocalRead) CompareHash(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return r.compare(compare.Hash, base, repo)
}

func (r *LocalRead) CompareFull(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return r.compare(compare.Full, base, repo)
}

func (r *LocalRead) compare(tier compare.Tier, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	base, err := base.Absolute()
	if err != nil {
		return nil, err
	}
	live, err := r.walk(base)
	if err != nil {
		return nil, err
	}
	open := func(idx entry.Index) (io.ReadCloser, error) {
		return os.Open(base.Child(idx))
	}
	return compare.Compare(tier, repo, live, open), nil
}

type differ struct {
	base    entry.Path
	src     *entry.Peeker[entry.Entry]
	dst     *entry.Peeker[diff.Signature]
	deleted entry.Index
	gone    bool
	// parts holds the rest of a record split by diff.PartSize.
	parts []diff.Record
}

func peek[T any](ctx context.Context, p *entry.Peeker[T]) (T, bool, error) {
	v, err := p.Peek(ctx)
	if errors.Is(err, io.EOF) {
		return v, false, nil
	}
	return v, err == nil, err
}

func (d *differ) next(ctx context.Context) (diff.Record, error) {
	if len(d.parts) > 0 {
		rec := d.parts[0]
		d.parts = d.parts[1:]
		return rec, nil
	}
	for {
		s, haveSrc, err := peek(ctx, d.src)
		if err != nil {
			return diff.Record{}, fmt.Errorf("walk source: %w", err)
		}
		g, haveDst, err := peek(ctx, d.dst)
		if err != nil {
			return diff.Record{}, fmt.Errorf("read signatures: %w", err)
		}

		// Entries below a removed directory go with it.
		if haveDst && d.gone && len(g.Entry.Index) > len(d.deleted) && g.Entry.Index.HasPrefix(d.deleted) {
			d.dst.Next(ctx)
			continue
		}

		switch {
		case !haveSrc && !haveDst:
			return diff.Record{}, io.EOF

		case haveDst && (!haveSrc || g.Entry.Index.Less(s.Index)):
			d.dst.Next(ctx)
			if !g.Entry.Exists() {
				continue
			}
			d.markGone(g.Entry)
			return diff.Record{Index: g.Entry.Index, Op: diff.Delete, Entry: g.Entry}, nil

		case haveSrc && (!haveDst || s.Index.Less(g.Entry.Index)):
			d.src.Next(ctx)
			rec, ok := d.create(s)
			if !ok {
				continue
			}
			return d.split(rec), nil

		default:
			d.src.Next(ctx)
			d.dst.Next(ctx)
			rec, ok := d.change(s, g)
			if !ok {
				continue
			}
			return d.split(rec), nil
		}
	}
}

func (d *differ) split(rec diff.Record) diff.Record {
	parts := rec.Split(diff.PartSize)
	d.parts = parts[1:]
	return parts[0]
}

func (d *differ) markGone(e entry.Entry) {
	if e.IsDir() {
		d.deleted = e.Index
		d.gone = true
	}
}

func (d *differ) create(s entry.Entry) (diff.Record, bool) {
	rec := diff.Record{Index: s.Index, Op: diff.Create, Entry: s}
	if !s.IsRegular() {
		return rec, true
	}
	ops, sum, err := d.delta(s, diff.Signature{})
	if err != nil {
		slog.Warn("skipping unreadable file", "path", d.base.Child(s.Index), "error", err)
		return diff.Record{}, false
	}
	rec.Delta, rec.Hash = ops, sum
	return rec, true
}

func (d *differ) change(s entry.Entry, g diff.Signature) (diff.Record, bool) {
	if s.Type != g.Entry.Type {
		d.markGone(g.Entry)
		return d.create(s)
	}
	if entry.SameMeta(s, g.Entry) {
		return diff.Record{}, false
	}

	switch s.Type {
	case entry.Regular:
		ops, sum, err := d.delta(s, g)
		if err != nil {
			slog.Warn("skipping unreadable file", "path", d.base.Child(s.Index), "error", err)
			return diff.Record{}, false
		}
		if sum == g.Hash {
			return diff.Record{Index: s.Index, Op: diff.Attrs, Entry: s}, true
		}
		return diff.Record{Index: s.Index, Op: diff.Update, Entry: s, Delta: ops, Hash: sum}, true
	case entry.Symlink:
		return diff.Record{Index: s.Index, Op: diff.Create, Entry: s}, true
	}
	return diff.Record{Index: s.Index, Op: diff.Attrs, Entry: s}, true
}

func (d *differ) delta(s entry.Entry, basis diff.Signature) ([]diff.DeltaOp, string, error) {
	f, err := os.Open(d.base.Child(s.Index))
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return diff.Delta(basis, f)
}
