package compare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

// Report tallies the outcomes of one compare run.
type Report struct {
	Tier            Tier      `json:"tier"`
	Compared        int       `json:"compared"`
	Same            int       `json:"same"`
	Different       int       `json:"different"`
	MissingOnSource int       `json:"missing_on_source"`
	MissingInRepo   int       `json:"missing_in_repo"`
	Differences     []Outcome `json:"differences,omitempty"`
}

// Clean reports whether nothing differed.
func (r Report) Clean() bool {
	return r.Different == 0 && r.MissingOnSource == 0 && r.MissingInRepo == 0
}

// Run drains outcomes into a report, logging every difference. An order
// violation aborts the run with protocol.ErrOrderViolation.
func Run(ctx context.Context, tier Tier, outcomes entry.Iter[Outcome]) (Report, error) {
	report := Report{Tier: tier}
	for {
		o, err := outcomes.Next(ctx)
		if errors.Is(err, io.EOF) {
			return report, nil
		}
		if err != nil {
			return report, err
		}

		switch o.Result {
		case OrderViolation:
			return report, fmt.Errorf("at %s (%s): %w", o.Index, o.Reason, protocol.ErrOrderViolation)
		case Same:
			report.Same++
		case Different:
			report.Different++
			slog.Info("entry changed", "path", o.Index.String(), "reason", o.Reason)
		case MissingOnSource:
			report.MissingOnSource++
			slog.Info("entry deleted", "path", o.Index.String())
		case MissingInRepo:
			report.MissingInRepo++
			slog.Info("entry new", "path", o.Index.String())
		}
		report.Compared++
		if o.Result != Same {
			report.Differences = append(report.Differences, o)
		}
	}
}
