package shadow

import (
	"context"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fsabilities"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

// Host is the shadow state a peer process serves.
type Host struct {
	Read     *LocalRead
	Write    *LocalWrite
	Sessions *Sessions

	// OnEvent, if set before serving, sees every event a patch produces.
	OnEvent func(Event)
}

// Register exposes a read and a write shadow on server. Close the returned
// host's sessions when the connection ends.
func Register(server *connection.Server) *Host {
	h := &Host{
		Read:     NewLocalRead(),
		Write:    NewLocalWrite(),
		Sessions: NewSessions(),
	}
	server.Register(ReadObject, h.readMethods())
	server.Register(WriteObject, h.writeMethods())
	return h
}

func (h *Host) readMethods() connection.Methods {
	r := h.Read
	compareWith := func(tier compare.Tier) connection.MethodFunc {
		return connection.Method(func(ctx context.Context, base entry.Path) (string, error) {
			return Open(h.Sessions, func(ctx context.Context, repo entry.Iter[compare.RepoEntry]) (entry.Iter[compare.Outcome], error) {
				return r.compare(tier, base, repo)
			})
		})
	}

	m := connection.Methods{
		"fs_abilities": connection.Method(r.FSAbilities),
		"set_select": connection.Method(func(ctx context.Context, a selectArgs) (any, error) {
			return nil, r.SetSelect(ctx, a.Base, a.Set.Rules, selection.Payloads(a.Set)...)
		}),
		"get_select": connection.Method(func(ctx context.Context, _ any) ([]selection.Rule, error) {
			return r.GetSelect(ctx)
		}),
		"get_diffs": connection.Method(func(ctx context.Context, base entry.Path) (string, error) {
			return Open(h.Sessions, func(ctx context.Context, sigs entry.Iter[diff.Signature]) (entry.Iter[diff.Record], error) {
				return r.GetDiffs(ctx, base, sigs)
			})
		}),
		"compare_meta": compareWith(compare.Meta),
		"compare_hash": compareWith(compare.Hash),
		"compare_full": compareWith(compare.Full),
	}
	return h.Sessions.AddTo(m)
}

func (h *Host) writeMethods() connection.Methods {
	w := h.Write
	m := connection.Methods{
		"fs_abilities": connection.Method(w.FSAbilities),
		"set_select": connection.Method(func(ctx context.Context, a selectArgs) (any, error) {
			return nil, w.SetSelect(ctx, a.Base, a.Set.Rules, selection.Payloads(a.Set)...)
		}),
		"set_settings": connection.Method(func(ctx context.Context, s fsabilities.Settings) (any, error) {
			return nil, w.SetSettings(ctx, s)
		}),
		"get_initial_iter": connection.Method(func(ctx context.Context, base entry.Path) (string, error) {
			return Open(h.Sessions, func(ctx context.Context, _ entry.Iter[none]) (entry.Iter[diff.Signature], error) {
				return w.GetInitialIter(ctx, base)
			})
		}),
		"patch": connection.Method(func(ctx context.Context, base entry.Path) (string, error) {
			return Open(h.Sessions, func(ctx context.Context, diffs entry.Iter[diff.Record]) (entry.Iter[Event], error) {
				return h.Patch(ctx, base, diffs)
			})
		}),
	}
	return h.Sessions.AddTo(m)
}

// Patch runs the write shadow's patch, passing each event to OnEvent.
func (h *Host) Patch(ctx context.Context, base entry.Path, diffs entry.Iter[diff.Record]) (entry.Iter[Event], error) {
	events, err := h.Write.Patch(ctx, base, diffs)
	if err != nil || h.OnEvent == nil {
		return events, err
	}
	return entry.Map(events, func(ev Event) (Event, error) {
		h.OnEvent(ev)
		return ev, nil
	}), nil
}
