package shadow

import (
	"context"
	"errors"
	"io"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

type selectArgs struct {
	Base entry.Path        `json:"base"`
	Set  selection.RuleSet `json:"set"`
}

func newSelectArgs(base entry.Path, rules []selection.Rule, payloads []io.Reader) (selectArgs, error) {
	data, err := selection.ReadPayloads(payloads)
	if err != nil {
		return selectArgs{}, err
	}
	set := selection.RuleSet{Rules: rules, Payloads: data}
	if err := set.Validate(); err != nil {
		return selectArgs{}, err
	}
	return selectArgs{Base: base, Set: set}, nil
}

// ErrNoCapabilities is returned when a peer answers an abilities probe
// with nothing.
var ErrNoCapabilities = errors.New("peer reported no file system abilities")

func callFSAbilities(ctx context.Context, conn connection.Connection, object string, base entry.Path) (*fsabilities.Capabilities, error) {
	var caps *fsabilities.Capabilities
	if err := conn.Call(ctx, object, "fs_abilities", base, &caps); err != nil {
		return nil, err
	}
	if caps == nil {
		return nil, &protocol.ProtocolError{Op: object + ".fs_abilities", Err: ErrNoCapabilities}
	}
	return caps, nil
}

// RemoteRead forwards to the read shadow of a peer.
type RemoteRead struct {
	conn connection.Connection
}

func (r *RemoteRead) FSAbilities(ctx context.Context, base entry.Path) (*fsabilities.Capabilities, error) {
	return callFSAbilities(ctx, r.conn, ReadObject, base)
}

func (r *RemoteRead) SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error {
	args, err := newSelectArgs(base, rules, payloads)
	if err != nil {
		return err
	}
	return r.conn.Call(ctx, ReadObject, "set_select", args, nil)
}

func (r *RemoteRead) GetSelect(ctx context.Context) ([]selection.Rule, error) {
	var rules []selection.Rule
	if err := r.conn.Call(ctx, ReadObject, "get_select", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *RemoteRead) GetDiffs(ctx context.Context, base entry.Path, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error) {
	it, err := OpenRemote[diff.Signature, diff.Record](ctx, r.conn, ReadObject, "get_diffs", base, sigs)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *RemoteRead) CompareMeta(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return r.compare(ctx, "compare_meta", base, repo)
}

func (r *RemoteRead) CompareHash(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return r.compare(ctx, "compare_hash", base, repo)
}

func (r *RemoteRead) CompareFull(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return r.compare(ctx, "compare_full", base, repo)
}

func (r *RemoteRead) compare(ctx context.Context, method string, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	it, err := OpenRemote[compare.RepoEntry, compare.Outcome](ctx, r.conn, ReadObject, method, base, repo)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// RemoteWrite forwards to the write shadow of a peer.
type RemoteWrite struct {
	conn connection.Connection
}

func (w *RemoteWrite) FSAbilities(ctx context.Context, base entry.Path) (*fsabilities.Capabilities, error) {
	return callFSAbilities(ctx, w.conn, WriteObject, base)
}

func (w *RemoteWrite) SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error {
	args, err := newSelectArgs(base, rules, payloads)
	if err != nil {
		return err
	}
	return w.conn.Call(ctx, WriteObject, "set_select", args, nil)
}

func (w *RemoteWrite) SetSettings(ctx context.Context, s fsabilities.Settings) error {
	return w.conn.Call(ctx, WriteObject, "set_settings", s, nil)
}

func (w *RemoteWrite) GetInitialIter(ctx context.Context, base entry.Path) (entry.Iter[diff.Signature], error) {
	it, err := OpenRemote[none, diff.Signature](ctx, w.conn, WriteObject, "get_initial_iter", base, nil)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (w *RemoteWrite) Patch(ctx context.Context, base entry.Path, diffs entry.Iter[diff.Record]) (entry.Iter[Event], error) {
	it, err := OpenRemote[diff.Record, Event](ctx, w.conn, WriteObject, "patch", base, diffs)
	if err != nil {
		return nil, err
	}
	return it, nil
}
