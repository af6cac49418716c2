package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-backup/internal/config"
	"github.com/yuya-takeyama/strict-backup/internal/logging"
	"github.com/yuya-takeyama/strict-backup/internal/metrics"
	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/connection/wsconn"
	"github.com/yuya-takeyama/strict-backup/pkg/legacy"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
	"github.com/yuya-takeyama/strict-backup/pkg/remotefs"
	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	configFile  string
	stdio       bool
	listenAddr  string
	withMetrics bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "strict-backup-server (--stdio | --listen ADDR)",
		Short: "Peer process serving directories to strict-backup",
		Long: `strict-backup-server exposes the directories of this host to a
strict-backup client, either over stdin/stdout (started through ssh) or as a
websocket endpoint.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Config file (default "+config.DefaultPath+")")
	rootCmd.Flags().BoolVar(&stdio, "stdio", false, "Serve one client over stdin and stdout")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Serve websocket clients on this address")
	rootCmd.Flags().BoolVar(&withMetrics, "metrics", false, "Expose Prometheus metrics on /metrics of the listen address")
	rootCmd.Flags().Int("verbosity", logging.DefaultVerbosity, "Logging verbosity, 0-9")
	rootCmd.Flags().Int("api-version", 0, "Highest protocol version to offer (default current)")
	rootCmd.MarkFlagsMutuallyExclusive("stdio", "listen")
	rootCmd.MarkFlagsOneRequired("stdio", "listen")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd, configFile)
	if err != nil {
		return err
	}
	// stdout carries frames in stdio mode, so logs always go to stderr.
	logging.Setup(cfg.Verbosity)

	offered := protocol.Current
	if cfg.APIVersion != 0 {
		offered = protocol.Version(cfg.APIVersion)
		if _, err := protocol.Negotiate(offered, offered); err != nil {
			return err
		}
		if offered > protocol.Current {
			return fmt.Errorf("api version %d is newer than %d", offered, protocol.Current)
		}
	}
	factory := func() (*connection.Server, func()) {
		return newServer(offered)
	}

	ctx := cmd.Context()
	if stdio {
		if withMetrics {
			slog.Warn("--metrics needs --listen, ignoring it")
		}
		server, release := factory()
		defer release()
		return connection.ServeStream(ctx, server, os.Stdin, os.Stdout)
	}

	mux := http.NewServeMux()
	mux.Handle("/", wsconn.Handler(factory))
	if withMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	err = wsconn.ListenAndServe(ctx, listenAddr, mux)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newServer builds the objects one client talks to. The returned func
// abandons the client's open streams.
func newServer(v protocol.Version) (*connection.Server, func()) {
	server := connection.NewServer(v, connection.WithObserver(metrics.ObserveCall))
	remotefs.Register(server)
	host := shadow.Register(server)
	host.OnEvent = metrics.RecordEvent
	legacy.Register(server, host)

	done := metrics.ConnectionOpened()
	slog.Debug("client session started", "version", int(v))
	return server, func() {
		if n := host.Sessions.Len(); n > 0 {
			slog.Debug("abandoning open streams", "count", n)
		}
		host.Sessions.Close()
		done()
	}
}
