// Package syncengine drives a backup or restore between two set up
// locations, and a compare between a location and a repository.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yuya-takeyama/strict-backup/internal/logging"
	"github.com/yuya-takeyama/strict-backup/internal/pipe"
	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
	"github.com/yuya-takeyama/strict-backup/pkg/logger"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

type Options struct {
	// DryRun lists the records without applying them.
	DryRun bool
	// Prefetch is how many records may wait between the reading and the
	// writing side; pipe.DefaultSize when zero.
	Prefetch int
	// Logger reports each action; logger.NullLogger when nil.
	Logger logger.Logger
	// KeepPlan and KeepResult collect the per entry lists of the run.
	KeepPlan   bool
	KeepResult bool
}

// Run is what a sync did.
type Run struct {
	Summary logging.Summary
	Plan    Plan
	Result  Result
}

// Failed is the number of records that could not be applied.
func (r *Run) Failed() int64 {
	return r.Summary.Errors
}

// Sync brings dst in line with src: the destination's signatures feed the
// source's diff, whose records are prefetched into the destination's patch.
// Both locations must be set up. A failing record is reported and counted;
// only a broken stream ends the run with an error.
func Sync(ctx context.Context, src *location.ReadLocation, dst *location.WriteLocation, opts Options) (*Run, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NullLogger{}
	}
	start := time.Now()
	run := &Run{}

	sigs, err := dst.GetInitialIter(ctx)
	if err != nil {
		return run, fmt.Errorf("get initial iterator: %w", err)
	}
	diffs, err := src.GetDiffs(ctx, sigs)
	if err != nil {
		shadow.CloseIter(ctx, sigs)
		return run, fmt.Errorf("get diffs: %w", err)
	}

	target := func(idx entry.Index) string {
		return dst.Path().Child(idx)
	}

	if opts.DryRun {
		err := dryRun(ctx, diffs, log, target, run, opts.KeepPlan)
		run.Summary.Duration = time.Since(start)
		return run, err
	}

	if opts.KeepPlan {
		diffs = entry.Map(diffs, func(rec diff.Record) (diff.Record, error) {
			run.Plan.add(target(rec.Index), rec)
			return rec, nil
		})
	}
	prefetched := pipe.Prefetch(ctx, diffs, opts.Prefetch)
	defer prefetched.Close()

	events, err := dst.Patch(ctx, prefetched)
	if err != nil {
		return run, fmt.Errorf("patch: %w", err)
	}

	for {
		ev, err := events.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			run.Summary.Duration = time.Since(start)
			return run, fmt.Errorf("patch: %w", err)
		}
		report(log, run, target(ev.Index), ev)
		if opts.KeepResult {
			run.Result.add(target(ev.Index), ev)
		}
	}

	run.Summary.Duration = time.Since(start)
	slog.Debug("sync finished", "created", run.Summary.Created, "updated", run.Summary.Updated,
		"deleted", run.Summary.Deleted, "errors", run.Summary.Errors)
	return run, nil
}

func dryRun(ctx context.Context, diffs entry.Iter[diff.Record], log logger.Logger, target func(entry.Index) string, run *Run, keep bool) error {
	var ev shadow.Event
	for {
		rec, err := diffs.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get diffs: %w", err)
		}
		path := target(rec.Index)
		if keep {
			run.Plan.add(path, rec)
		}
		// The parts of a split record report once.
		ev.Index, ev.Op = rec.Index, rec.Op
		ev.Bytes += rec.LiteralBytes()
		if rec.More {
			continue
		}
		report(log, run, path, ev)
		ev = shadow.Event{}
	}
}

func report(log logger.Logger, run *Run, path string, ev shadow.Event) {
	if ev.Failed() {
		run.Summary.Errors++
		log.Error(string(ev.Op), path, errors.New(ev.Error))
		return
	}
	switch ev.Op {
	case diff.Create:
		run.Summary.Created++
		log.Create(path)
	case diff.Update:
		run.Summary.Updated++
		log.Update(path, ev.Bytes)
	case diff.Delete:
		run.Summary.Deleted++
		log.Delete(path)
	case diff.Attrs:
		log.Attrs(path)
	}
	run.Summary.BytesWritten += ev.Bytes
}

// Compare runs the tier's compare of src against the repository entries and
// tallies the outcomes.
func Compare(ctx context.Context, src *location.ReadLocation, tier compare.Tier, repo entry.Iter[compare.RepoEntry]) (compare.Report, error) {
	outcomes, err := src.Compare(ctx, tier, repo)
	if err != nil {
		return compare.Report{Tier: tier}, fmt.Errorf("compare: %w", err)
	}
	report, err := compare.Run(ctx, tier, outcomes)
	if err != nil {
		shadow.CloseIter(ctx, outcomes)
	}
	return report, err
}
