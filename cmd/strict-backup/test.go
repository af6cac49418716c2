package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test LOCATION...",
		Short: "Check that each location can be reached and read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, arg := range args {
				if err := testLocation(cmd.Context(), arg); err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d locations failed", failed, len(args))
			}
			return nil
		},
	}
}

func testLocation(ctx context.Context, arg string) error {
	spec, err := connection.ParseSpec(arg)
	if err != nil {
		return err
	}
	conn, closeConn, err := connect(ctx, spec)
	if err != nil {
		return err
	}
	defer closeConn()

	loc := location.NewReadLocation(entry.NewPath(spec.Path), conn, location.Options{})
	if code := loc.Setup(ctx); !code.OK() {
		return &codeError{what: "setup", code: code}
	}

	fmt.Fprintf(os.Stdout, "%s: ok (%s, peer os %s)\n", spec, loc.Gate(), conn.OS())
	if caps := loc.Capabilities(); caps != nil && !quiet {
		fmt.Fprintln(os.Stdout, caps.String())
	}
	return nil
}
