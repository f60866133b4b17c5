package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/runner"
	"github.com/zhubert/hopper/internal/tmux"
)

var runCmd = &cobra.Command{
	Use:   "run <session-id> [-- command...]",
	Short: "Run the agent for a session",
	Long: `Attaches to the session, marks it running and runs the agent command in
the foreground. While it runs inside tmux, the window is sampled every few
seconds and the session is marked stuck when its output stops changing.
When the command exits the session is marked completed and moved to its next
stage, or error with the last lines of stderr as its status. Disconnecting
marks the session inactive.

The command defaults to agent_command from the config.

Examples:
  hopper run s3
  hopper run s3 -- claude --continue
  hopper run s3 --no-advance`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var runNoAdvance bool

func init() {
	runCmd.Flags().BoolVar(&runNoAdvance, "no-advance", false, "keep the session's stage when the agent succeeds")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	client, cfg, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	command := cfg.AgentCommand
	if len(args) > 1 {
		command = args[1:]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(client, tmux.New(cfg.TmuxSession), command)
	r.Advance = !runNoAdvance
	if err := r.Run(ctx, args[0]); err != nil {
		return fmt.Errorf("session %s: %w", args[0], err)
	}
	return nil
}
