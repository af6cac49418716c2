package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
	"github.com/yuya-takeyama/strict-backup/pkg/repo"
	"github.com/yuya-takeyama/strict-backup/pkg/s3client"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
	"github.com/yuya-takeyama/strict-backup/pkg/syncengine"
)

func newCompareCmd() *cobra.Command {
	var (
		method string
		rules  []selection.Rule
	)
	cmd := &cobra.Command{
		Use:   "compare [flags] SOURCE REPOSITORY",
		Short: "Compare SOURCE against a backup directory or an s3:// prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := compare.ParseTier(method)
			if err != nil {
				return err
			}
			return runCompare(cmd.Context(), tier, rules, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.StringVar(&method, "method", string(compare.Meta), "Compare method: meta, hash or full")
	f.StringSlice("repo-exclude", nil, "Skip repository paths matching these doublestar patterns")
	f.String("result-json-file", "", "Path to output the compare report as JSON file")
	f.String("aws-profile", "", "AWS profile for s3:// repositories")
	f.String("aws-region", "", "AWS region for s3:// repositories")
	addSelectionFlags(f, &rules)
	return cmd
}

func openRepo(ctx context.Context, tier compare.Tier, arg string) (entry.Iter[compare.RepoEntry], error) {
	if !s3client.IsS3URI(arg) {
		return repo.Dir(arg, tier, cfg.RepoExcludes)
	}
	bucket, prefix, err := s3client.ParseS3URI(arg)
	if err != nil {
		return nil, err
	}
	client, err := s3client.NewFromProfile(ctx, cfg.AWSProfile, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return repo.S3(ctx, client, bucket, prefix, tier, cfg.RepoExcludes)
}

func runCompare(ctx context.Context, tier compare.Tier, rules []selection.Rule, srcArg, repoArg string) error {
	srcSpec, err := connection.ParseSpec(srcArg)
	if err != nil {
		return err
	}
	rs, err := ruleSet(rules)
	if err != nil {
		return err
	}

	conn, closeConn, err := connect(ctx, srcSpec)
	if err != nil {
		return err
	}
	defer closeConn()

	src := location.NewReadLocation(entry.NewPath(srcSpec.Path), conn, location.Options{})
	if code := src.Setup(ctx); !code.OK() {
		return &codeError{what: "source setup", code: code}
	}
	if err := src.SetSelect(ctx, rs.Rules, selection.Payloads(rs)...); err != nil {
		return fmt.Errorf("set source selection: %w", err)
	}

	repoEntries, err := openRepo(ctx, tier, repoArg)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	report, err := syncengine.Compare(ctx, src, tier, repoEntries)
	if err != nil {
		return err
	}

	if cfg.ResultJSONFile != "" {
		if err := syncengine.WriteCompareReport(cfg.ResultJSONFile, report); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}
	if !quiet {
		for _, d := range report.Differences {
			line := fmt.Sprintf("%s: %s", d.Result, d.Index)
			if d.Reason != "" {
				line += " (" + d.Reason + ")"
			}
			fmt.Fprintln(os.Stdout, line)
		}
		fmt.Fprintf(os.Stderr, "Compared %s entries with method %s: %s same, %s different, %s missing on source, %s missing in repository\n",
			humanize.Comma(int64(report.Compared)), tier,
			humanize.Comma(int64(report.Same)), humanize.Comma(int64(report.Different)),
			humanize.Comma(int64(report.MissingOnSource)), humanize.Comma(int64(report.MissingInRepo)))
	}
	if !report.Clean() {
		return fmt.Errorf("%d differences found", len(report.Differences))
	}
	return nil
}
