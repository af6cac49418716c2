// Package legacy speaks the calling convention of protocol versions below
// the cutoff: two fixed role objects, the source and the target, whose
// methods take positional arguments. There is no capability probing.
package legacy

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/owners"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

// Names of the fixed role objects.
const (
	SourceObject = "backup.SourceStruct"
	TargetObject = "restore.TargetStruct"
)

// Target is the write role: a shadow.Writer that also takes the owners
// mapping during setup.
type Target interface {
	shadow.Writer
	InitOwnersMapping(ctx context.Context, cfg owners.Config) error
}

// NewSource returns the source role for conn. A local connection gets the
// in-process reader directly.
func NewSource(conn connection.Connection) shadow.Reader {
	if conn.IsLocal() {
		return shadow.NewLocalRead()
	}
	return &remoteSource{conn: conn}
}

// NewTarget returns the target role for conn.
func NewTarget(conn connection.Connection) Target {
	if conn.IsLocal() {
		return &localTarget{LocalWrite: shadow.NewLocalWrite()}
	}
	return &remoteTarget{conn: conn}
}

type localTarget struct {
	*shadow.LocalWrite
}

func (t *localTarget) InitOwnersMapping(ctx context.Context, cfg owners.Config) error {
	m, err := owners.NewMapper(cfg)
	if err != nil {
		return err
	}
	t.SetOwners(m)
	return nil
}

func positional(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := connection.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func call(ctx context.Context, conn connection.Connection, object, method string, reply any, args ...any) error {
	raw, err := positional(args...)
	if err != nil {
		return err
	}
	return conn.Call(ctx, object, method, raw, reply)
}

func openStream[In, Out any](ctx context.Context, conn connection.Connection, object, method string, input entry.Iter[In], args ...any) (entry.Iter[Out], error) {
	raw, err := positional(args...)
	if err != nil {
		return nil, err
	}
	it, err := shadow.OpenRemote[In, Out](ctx, conn, object, method, raw, input)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func payloadBytes(payloads []io.Reader) ([][]byte, error) {
	return selection.ReadPayloads(payloads)
}

type remoteSource struct {
	conn connection.Connection
}

func (s *remoteSource) SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error {
	data, err := payloadBytes(payloads)
	if err != nil {
		return err
	}
	return call(ctx, s.conn, SourceObject, "set_source_select", nil, base, rules, data)
}

func (s *remoteSource) GetSelect(ctx context.Context) ([]selection.Rule, error) {
	var rules []selection.Rule
	if err := call(ctx, s.conn, SourceObject, "get_source_select", &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *remoteSource) GetDiffs(ctx context.Context, base entry.Path, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error) {
	return openStream[diff.Signature, diff.Record](ctx, s.conn, SourceObject, "get_diffs", sigs, base)
}

func (s *remoteSource) CompareMeta(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return openStream[compare.RepoEntry, compare.Outcome](ctx, s.conn, SourceObject, "compare_meta", repo, base)
}

func (s *remoteSource) CompareHash(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return openStream[compare.RepoEntry, compare.Outcome](ctx, s.conn, SourceObject, "compare_hash", repo, base)
}

func (s *remoteSource) CompareFull(ctx context.Context, base entry.Path, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
	return openStream[compare.RepoEntry, compare.Outcome](ctx, s.conn, SourceObject, "compare_full", repo, base)
}

type remoteTarget struct {
	conn connection.Connection
}

func (t *remoteTarget) SetSelect(ctx context.Context, base entry.Path, rules []selection.Rule, payloads ...io.Reader) error {
	data, err := payloadBytes(payloads)
	if err != nil {
		return err
	}
	return call(ctx, t.conn, TargetObject, "set_target_select", nil, base, rules, data)
}

func (t *remoteTarget) InitOwnersMapping(ctx context.Context, cfg owners.Config) error {
	return call(ctx, t.conn, TargetObject, "init_owners_mapping", nil, cfg.UsersMap, cfg.GroupsMap)
}

func (t *remoteTarget) GetInitialIter(ctx context.Context, base entry.Path) (entry.Iter[diff.Signature], error) {
	return openStream[struct{}, diff.Signature](ctx, t.conn, TargetObject, "get_initial_iter", nil, base)
}

func (t *remoteTarget) Patch(ctx context.Context, base entry.Path, diffs entry.Iter[diff.Record]) (entry.Iter[shadow.Event], error) {
	return openStream[diff.Record, shadow.Event](ctx, t.conn, TargetObject, "patch", diffs, base)
}

// args decodes positional arguments into dst, which must match in number.
func args(raw []json.RawMessage, dst ...any) error {
	if len(raw) != len(dst) {
		return &protocol.ProtocolError{
			Op:  "decode arguments",
			Err: fmt.Errorf("got %d positional arguments, want %d", len(raw), len(dst)),
		}
	}
	for i, d := range dst {
		if err := connection.Unmarshal(raw[i], d); err != nil {
			return &protocol.ProtocolError{Op: fmt.Sprintf("decode argument %d", i), Err: err}
		}
	}
	return nil
}

type positionalFunc func(ctx context.Context, raw []json.RawMessage) (any, error)

func method(fn positionalFunc) connection.MethodFunc {
	return connection.Method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
		return fn(ctx, raw)
	})
}

func selectPayloads(data [][]byte) []io.Reader {
	return selection.Payloads(selection.RuleSet{Payloads: data})
}

// Register exposes the source and target roles on server, sharing the
// shadow host's state and sessions.
func Register(server *connection.Server, host *shadow.Host) {
	r, w, sessions := host.Read, host.Write, host.Sessions

	compareWith := func(tier compare.Tier) connection.MethodFunc {
		return method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var base entry.Path
			if err := args(raw, &base); err != nil {
				return nil, err
			}
			return shadow.Open(sessions, func(ctx context.Context, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
				switch tier {
				case compare.Hash:
					return r.CompareHash(ctx, base, repo)
				case compare.Full:
					return r.CompareFull(ctx, base, repo)
				}
				return r.CompareMeta(ctx, base, repo)
			})
		})
	}

	server.Register(SourceObject, sessions.AddTo(connection.Methods{
		"set_source_select": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var (
				base  entry.Path
				rules []selection.Rule
				data  [][]byte
			)
			if err := args(raw, &base, &rules, &data); err != nil {
				return nil, err
			}
			return nil, r.SetSelect(ctx, base, rules, selectPayloads(data)...)
		}),
		"get_source_select": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			return r.GetSelect(ctx)
		}),
		"get_diffs": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var base entry.Path
			if err := args(raw, &base); err != nil {
				return nil, err
			}
			return shadow.Open(sessions, func(ctx context.Context, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error) {
				return r.GetDiffs(ctx, base, sigs)
			})
		}),
		"compare_meta": compareWith(compare.Meta),
		"compare_hash": compareWith(compare.Hash),
		"compare_full": compareWith(compare.Full),
	}))

	server.Register(TargetObject, sessions.AddTo(connection.Methods{
		"set_target_select": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var (
				base  entry.Path
				rules []selection.Rule
				data  [][]byte
			)
			if err := args(raw, &base, &rules, &data); err != nil {
				return nil, err
			}
			return nil, w.SetSelect(ctx, base, rules, selectPayloads(data)...)
		}),
		"init_owners_mapping": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var cfg owners.Config
			if err := args(raw, &cfg.UsersMap, &cfg.GroupsMap); err != nil {
				return nil, err
			}
			m, err := owners.NewMapper(cfg)
			if err != nil {
				return nil, err
			}
			w.SetOwners(m)
			return nil, nil
		}),
		"get_initial_iter": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var base entry.Path
			if err := args(raw, &base); err != nil {
				return nil, err
			}
			return shadow.Open(sessions, func(ctx context.Context, _ entry.Iter[struct{}]) (entry.Iter[diff.Signature], error) {
				return w.GetInitialIter(ctx, base)
			})
		}),
		"patch": method(func(ctx context.Context, raw []json.RawMessage) (any, error) {
			var base entry.Path
			if err := args(raw, &base); err != nil {
				return nil, err
			}
			return shadow.Open(sessions, func(ctx context.Context, diffs entry.Iter[diff.Record]) (entry.Iter[shadow.Event], error) {
				return host.Patch(ctx, base, diffs)
			})
		}),
	}))
}
