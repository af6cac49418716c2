// Package compare checks a live directory against repository entries at one
// of three increasingly expensive tiers.
package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yuya-takeyama/strict-backup/internal/checksum"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
)

type Tier string

const (
	// Meta compares type, size, modification time and permissions.
	Meta Tier = "meta"
	// Hash also compares content digests of regular files.
	Hash Tier = "hash"
	// Full also compares the content of regular files byte for byte.
	Full Tier = "full"
)

// ParseTier accepts the names used on the command line.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case Meta, Hash, Full:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown compare method %q", s)
}

type Result string

const (
	Same            Result = "same"
	Different       Result = "different"
	MissingOnSource Result = "missing-on-source"
	MissingInRepo   Result = "missing-in-repo"
	OrderViolation  Result = "order-violation"
)

// Outcome is the verdict for one index.
type Outcome struct {
	Index  entry.Index `json:"index"`
	Tier   Tier        `json:"tier"`
	Result Result      `json:"result"`
	Reason string      `json:"reason,omitempty"`
}

// RepoEntry is a repository side entry. Hash is needed by the hash tier and
// Data by the full tier, for regular files only.
type RepoEntry struct {
	Entry entry.Entry `json:"entry"`
	Hash  string      `json:"hash,omitempty"`
	Data  []byte      `json:"data,omitempty"`
}

// Opener opens a live regular file by index.
type Opener func(idx entry.Index) (io.ReadCloser, error)

type engine struct {
	tier    Tier
	repo    *entry.Peeker[RepoEntry]
	live    *entry.Peeker[entry.Entry]
	open    Opener
	last    entry.Index
	started bool
	stopped bool
}

// Compare pairs repo and live positionally; both must be in walk order. It
// yields one outcome per index. A repository entry out of order yields an
// OrderViolation outcome and ends the stream.
func Compare(tier Tier, repo entry.Iter[RepoEntry], live entry.Iter[entry.Entry], open Opener) entry.Iter[Outcome] {
	e := &engine{
		tier: tier,
		repo: entry.NewPeeker(repo),
		live: entry.NewPeeker(live),
		open: open,
	}
	return entry.IterFunc[Outcome](e.next)
}

func peek[T any](ctx context.Context, p *entry.Peeker[T]) (T, bool, error) {
	v, err := p.Peek(ctx)
	if errors.Is(err, io.EOF) {
		return v, false, nil
	}
	return v, err == nil, err
}

func (e *engine) next(ctx context.Context) (Outcome, error) {
	if e.stopped {
		return Outcome{}, io.EOF
	}

	r, haveRepo, err := peek(ctx, e.repo)
	if err != nil {
		return Outcome{}, fmt.Errorf("read repository: %w", err)
	}
	l, haveLive, err := peek(ctx, e.live)
	if err != nil {
		return Outcome{}, fmt.Errorf("read source: %w", err)
	}

	if haveRepo {
		if e.started && !e.last.Less(r.Entry.Index) {
			e.stopped = true
			return Outcome{
				Index:  r.Entry.Index,
				Tier:   e.tier,
				Result: OrderViolation,
				Reason: fmt.Sprintf("follows %s", e.last),
			}, nil
		}
	}

	switch {
	case !haveRepo && !haveLive:
		return Outcome{}, io.EOF
	case !haveRepo:
		e.live.Next(ctx)
		return e.outcome(l.Index, MissingInRepo, ""), nil
	}

	cmp := 1
	if haveLive {
		cmp = r.Entry.Index.Compare(l.Index)
	}
	switch {
	case cmp < 0:
		e.advanceRepo(ctx, r)
		return e.outcome(r.Entry.Index, MissingOnSource, ""), nil
	case cmp > 0:
		e.live.Next(ctx)
		return e.outcome(l.Index, MissingInRepo, ""), nil
	}

	e.advanceRepo(ctx, r)
	e.live.Next(ctx)
	if !r.Entry.Exists() {
		return e.outcome(l.Index, MissingInRepo, ""), nil
	}
	reason, err := e.differ(r, l)
	if err != nil {
		return Outcome{}, err
	}
	if reason != "" {
		return e.outcome(l.Index, Different, reason), nil
	}
	return e.outcome(l.Index, Same, ""), nil
}

func (e *engine) advanceRepo(ctx context.Context, r RepoEntry) {
	e.repo.Next(ctx)
	e.last = r.Entry.Index
	e.started = true
}

func (e *engine) outcome(idx entry.Index, res Result, reason string) Outcome {
	return Outcome{Index: idx, Tier: e.tier, Result: res, Reason: reason}
}

// differ returns why r and l differ at the engine's tier, or "".
func (e *engine) differ(r RepoEntry, l entry.Entry) (string, error) {
	if reason := MetaReason(r.Entry, l); reason != "" {
		return reason, nil
	}
	if !l.IsRegular() {
		return "", nil
	}

	switch e.tier {
	case Hash:
		if r.Hash == "" {
			return "no digest in repository", nil
		}
		f, err := e.open(l.Index)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", l.Index, err)
		}
		defer f.Close()
		sum, err := checksum.Reader(f)
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", l.Index, err)
		}
		if !checksum.Equal(sum, r.Hash) {
			return "digest differs", nil
		}
	case Full:
		f, err := e.open(l.Index)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", l.Index, err)
		}
		defer f.Close()
		same, err := sameContent(bytes.NewReader(r.Data), f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", l.Index, err)
		}
		if !same {
			return "content differs", nil
		}
	}
	return "", nil
}

// MetaReason names the first metadata difference between two entries.
func MetaReason(a, b entry.Entry) string {
	switch {
	case a.Type != b.Type:
		return fmt.Sprintf("type %s != %s", a.Type, b.Type)
	case entry.SameMeta(a, b):
		return ""
	case a.IsRegular() && a.Size != b.Size:
		return "size differs"
	case a.IsRegular() && !entry.SameModTime(a.ModTime, b.ModTime):
		return "modification time differs"
	case a.Type == entry.Symlink:
		return "link target differs"
	}
	return "permissions differ"
}

func sameContent(a, b io.Reader) (bool, error) {
	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(a, bufA)
		nb, errB := io.ReadFull(b, bufB)
		if errA != nil && !isShortRead(errA) {
			return false, errA
		}
		if errB != nil && !isShortRead(errB) {
			return false, errB
		}
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA != nil || errB != nil {
			return errA != nil && errB != nil, nil
		}
	}
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
