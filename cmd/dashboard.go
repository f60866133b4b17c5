package cmd

import (
	"fmt"
	"os"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/dashboard"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/paths"
	"github.com/zhubert/hopper/internal/tmux"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"ui"},
	Short:   "Open the live dashboard",
	Long: `Shows sessions and backlog and follows every change the server
broadcasts. Inside tmux, enter switches to a session's window, or starts
'hopper run' for it in a new window.`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(_ *cobra.Command, _ []string) error {
	client, cfg, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()
	defer logger.Close()

	opts := dashboard.Options{
		RunCommand:    runCommandFor(cfg.DataDir),
		Notifications: cfg.Notifications,
	}
	if os.Getenv("TMUX") != "" {
		opts.Windows = tmux.New(cfg.TmuxSession)
	}

	p := tea.NewProgram(dashboard.New(client, opts))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}

// runCommandFor returns the command a new session window runs: this
// binary's 'run' subcommand against the same data directory.
func runCommandFor(dir string) func(sessionID string) []string {
	exe, err := os.Executable()
	if err != nil {
		exe = "hopper"
	}
	return func(sessionID string) []string {
		cmd := []string{exe, "run", sessionID}
		if dir != "" && os.Getenv(paths.EnvDataDir) != dir {
			cmd = append(cmd, "--data-dir", dir)
		}
		return cmd
	}
}
