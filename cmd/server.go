package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/server"
	"github.com/zhubert/hopper/internal/state"
	"github.com/zhubert/hopper/internal/tmux"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the hopper state server",
	Long: `Runs the server in the foreground until interrupted or asked to stop.

Only one server runs per data directory. On startup every session is marked
inactive, and window references to tmux windows that no longer exist are
cleared unless reconcile_windows is off.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	defer logger.Close()

	// A second server must fail before it reads the live one's files.
	lock, err := server.Claim(cfg)
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := state.Open(cfg.Layout(), cfg.ArchiveHistory)
	if err != nil {
		return fmt.Errorf("error loading state: %w", err)
	}

	opts := []server.Option{server.WithLock(lock)}
	if cfg.ReconcileWindows {
		opts = append(opts, server.WithWindowChecker(tmux.New(cfg.TmuxSession)))
	}
	srv := server.New(cfg, store, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Listen(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "hopper server listening on %s\n", srv.SocketPath())
	if path := logger.Path(); path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "logging to %s\n", path)
	}
	logger.Info("Server started, version=%s pid=%d", version, os.Getpid())

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "hopper server stopped")
	return nil
}
