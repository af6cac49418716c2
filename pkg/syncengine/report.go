package syncengine

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/diff"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

// Plan lists the records a run produced, before they are applied.
type Plan struct {
	Files   []PlanFile  `json:"files"`
	Summary PlanSummary `json:"summary"`

	cont bool
}

type PlanFile struct {
	Action string `json:"action"` // "create", "update", "delete", "attrs"
	Target string `json:"target"`
	Bytes  int64  `json:"bytes,omitempty"`
}

type PlanSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
	Attrs  int `json:"attrs"`
}

// add lists rec. The parts of a split record are listed once.
func (p *Plan) add(target string, rec diff.Record) {
	if p.cont && len(p.Files) > 0 {
		p.Files[len(p.Files)-1].Bytes += rec.LiteralBytes()
		p.cont = rec.More
		return
	}
	p.cont = rec.More
	p.Files = append(p.Files, PlanFile{
		Action: string(rec.Op),
		Target: target,
		Bytes:  rec.LiteralBytes(),
	})
	switch rec.Op {
	case diff.Create:
		p.Summary.Create++
	case diff.Update:
		p.Summary.Update++
	case diff.Delete:
		p.Summary.Delete++
	case diff.Attrs:
		p.Summary.Attrs++
	}
}

// Result lists what a run applied.
type Result struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "created", "updated", "deleted", "attrs"
	Target string `json:"target"`
	Bytes  int64  `json:"bytes,omitempty"`
}

type ErrorFile struct {
	Action string `json:"action"` // "create", "update", "delete", "attrs"
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ResultSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Attrs   int `json:"attrs"`
	Failed  int `json:"failed"`
}

func pastTense(op diff.Op) string {
	switch op {
	case diff.Create:
		return "created"
	case diff.Update:
		return "updated"
	case diff.Delete:
		return "deleted"
	}
	return string(op)
}

func (r *Result) add(target string, ev shadow.Event) {
	if ev.Failed() {
		r.Errors = append(r.Errors, ErrorFile{
			Action: string(ev.Op),
			Target: target,
			Error:  ev.Error,
		})
		r.Summary.Failed++
		return
	}
	r.Files = append(r.Files, ResultFile{
		Action: pastTense(ev.Op),
		Target: target,
		Bytes:  ev.Bytes,
	})
	switch ev.Op {
	case diff.Create:
		r.Summary.Created++
	case diff.Update:
		r.Summary.Updated++
	case diff.Delete:
		r.Summary.Deleted++
	case diff.Attrs:
		r.Summary.Attrs++
	}
}

// WritePlan writes plan to path as indented JSON.
func WritePlan(path string, plan Plan) error {
	if plan.Files == nil {
		plan.Files = []PlanFile{}
	}
	return writeJSON(path, plan)
}

// WriteResult writes result to path as indented JSON.
func WriteResult(path string, result Result) error {
	if result.Files == nil {
		result.Files = []ResultFile{}
	}
	if result.Errors == nil {
		result.Errors = []ErrorFile{}
	}
	return writeJSON(path, result)
}

// WriteCompareReport writes a compare report to path as indented JSON.
func WriteCompareReport(path string, report compare.Report) error {
	return writeJSON(path, report)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
