package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-backup/internal/logging"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
	"github.com/yuya-takeyama/strict-backup/pkg/logger"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
	"github.com/yuya-takeyama/strict-backup/pkg/syncengine"
)

type syncFlags struct {
	rules   []selection.Rule
	subPath string
	restore bool
}

func newSyncCmd(name, use, short string) *cobra.Command {
	sf := &syncFlags{restore: name == "restore"}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), sf, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.Bool("force", false, "Overwrite a non-empty target directory")
	f.Bool("create-full-path", false, "Create missing parent directories of the target")
	f.Bool("dry-run", false, "Show operations without executing")
	f.String("plan-json-file", "", "Path to output plan as JSON file")
	f.String("result-json-file", "", "Path to output result as JSON file")
	f.String("user-mapping-file", "", "File of old:new user mappings applied to restored files")
	f.String("group-mapping-file", "", "File of old:new group mappings applied to restored files")
	if sf.restore {
		f.StringVar(&sf.subPath, "sub-path", "", "Restore only this path below BACKUP")
	}
	addSelectionFlags(f, &sf.rules)
	return cmd
}

func runSync(ctx context.Context, sf *syncFlags, srcArg, dstArg string) error {
	srcSpec, err := connection.ParseSpec(srcArg)
	if err != nil {
		return err
	}
	dstSpec, err := connection.ParseSpec(dstArg)
	if err != nil {
		return err
	}
	rs, err := ruleSet(sf.rules)
	if err != nil {
		return err
	}
	ownersCfg, err := cfg.Owners()
	if err != nil {
		return err
	}

	srcConn, closeSrc, err := connect(ctx, srcSpec)
	if err != nil {
		return err
	}
	defer closeSrc()
	dstConn, closeDst, err := connect(ctx, dstSpec)
	if err != nil {
		return err
	}
	defer closeDst()

	opts := location.Options{Force: cfg.Force, CreateFullPath: cfg.CreateFullPath}
	sub := entry.ParseIndex(sf.subPath)
	srcPath := entry.NewPath(srcSpec.Path)
	srcPath.Index = sub
	src := location.NewReadLocation(srcPath, srcConn, opts)
	dst := location.NewWriteLocation(entry.NewPath(dstSpec.Path), dstConn, sub, opts)

	if code := dst.Check(ctx); !code.OK() {
		return &codeError{what: "target check", code: code}
	}
	if code := src.Setup(ctx); !code.OK() {
		return &codeError{what: "source setup", code: code}
	}
	if code := dst.Setup(ctx, src.Capabilities(), ownersCfg); !code.OK() {
		return &codeError{what: "target setup", code: code}
	}

	if err := src.SetSelect(ctx, rs.Rules, selection.Payloads(rs)...); err != nil {
		return fmt.Errorf("set source selection: %w", err)
	}
	if sf.restore {
		if err := dst.SetSelect(ctx, rs.Rules, selection.Payloads(rs)...); err != nil {
			return fmt.Errorf("set target selection: %w", err)
		}
	}

	syncLogger := &logger.SyncLogger{
		IsDryRun: cfg.DryRun,
		IsQuiet:  quiet,
	}
	run, err := syncengine.Sync(ctx, src, dst, syncengine.Options{
		DryRun:     cfg.DryRun,
		Logger:     syncLogger,
		KeepPlan:   cfg.PlanJSONFile != "",
		KeepResult: cfg.ResultJSONFile != "" && !cfg.DryRun,
	})

	// Output plan if requested
	if cfg.PlanJSONFile != "" {
		if werr := syncengine.WritePlan(cfg.PlanJSONFile, run.Plan); werr != nil {
			return fmt.Errorf("failed to write plan JSON: %w", werr)
		}
	}
	if err != nil {
		return err
	}
	if cfg.ResultJSONFile != "" && !cfg.DryRun {
		if err := syncengine.WriteResult(cfg.ResultJSONFile, run.Result); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	if !cfg.DryRun {
		logging.PrintSummary(os.Stderr, run.Summary, quiet)
	}
	if n := run.Failed(); n > 0 {
		return fmt.Errorf("%d operations failed", n)
	}
	slog.Debug("done", "source", srcSpec.String(), "target", dstSpec.String())
	return nil
}
