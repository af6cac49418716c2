package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-backup/internal/config"
	"github.com/yuya-takeyama/strict-backup/internal/logging"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	configFile string
	quiet      bool
	cfg        *config.Config
)

// codeError carries the return code of a failed location check or setup,
// which becomes the exit status.
type codeError struct {
	what string
	code location.Code
}

func (e *codeError) Error() string {
	return fmt.Sprintf("%s failed with code %s", e.what, e.code)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strict-backup",
		Short: "Mirror backups between local and remote directories",
		Long: `strict-backup mirrors a directory into a backup directory, locally or
through a strict-backup-server peer, sending only what changed. It restores
the other way round and compares a directory against a repository kept on
disk or in S3.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Verbosity)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default "+config.DefaultPath+")")
	pf.Int("verbosity", logging.DefaultVerbosity, "Logging verbosity, 0-9")
	pf.Int("api-version", 0, "Highest protocol version to offer (default current)")
	pf.String("remote-schema", "", "Command starting a peer, {h} is replaced by the host")
	pf.BoolVar(&quiet, "quiet", false, "Suppress non-error output")

	rootCmd.AddCommand(
		newSyncCmd("backup", "backup [flags] SOURCE BACKUP", "Mirror SOURCE into BACKUP"),
		newSyncCmd("restore", "restore [flags] BACKUP TARGET", "Restore BACKUP, or a sub path of it, into TARGET"),
		newCompareCmd(),
		newTestCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ce *codeError
	if errors.As(err, &ce) {
		os.Exit(int(ce.code))
	}
	os.Exit(1)
}
