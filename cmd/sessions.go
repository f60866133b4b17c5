package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/server"
	"github.com/zhubert/hopper/internal/state"
)

var (
	sessionProject     string
	sessionScope       string
	sessionStage       string
	sessionState       string
	sessionStatus      string
	sessionWindow      string
	sessionClearWindow bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "List and manage sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			sessions, err := client.ListSessions(ctx)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			sess, err := client.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Long: `Creates a session in stage ore with state "new".

Examples:
  hopper sessions create --project api
  hopper sessions create --project api --scope "retry flaky uploads" --stage processing`,
	Args: cobra.NoArgs,
	RunE: runSessionsCreate,
}

var sessionsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a session",
	Long: `Overwrites the given fields and leaves the rest alone. At least one
field flag is required.

Examples:
  hopper sessions update s3 --stage ship
  hopper sessions update s3 --state review --status "waiting on CI"
  hopper sessions update s3 --clear-window`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsUpdate,
}

var sessionsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a session",
	Long:  `Removes the session from the active set. Its id is never reused.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			sess, err := client.ArchiveSession(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), sess)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s (%s)\n", sess.ID, sess.Project)
			return nil
		})
	},
}

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")

	sessionsCreateCmd.Flags().StringVar(&sessionProject, "project", "", "Project the session works on (required)")
	sessionsCreateCmd.Flags().StringVar(&sessionScope, "scope", "", "Free text task scope")
	sessionsCreateCmd.Flags().StringVar(&sessionStage, "stage", "", "Initial stage: ore, processing or ship")
	sessionsCreateCmd.Flags().StringVar(&sessionState, "state", "", `Initial state label (default "new")`)
	_ = sessionsCreateCmd.MarkFlagRequired("project")

	sessionsUpdateCmd.Flags().StringVar(&sessionScope, "scope", "", "Task scope")
	sessionsUpdateCmd.Flags().StringVar(&sessionStage, "stage", "", "Stage: ore, processing or ship")
	sessionsUpdateCmd.Flags().StringVar(&sessionState, "state", "", "State label")
	sessionsUpdateCmd.Flags().StringVar(&sessionStatus, "status", "", "Human readable status detail")
	sessionsUpdateCmd.Flags().StringVar(&sessionWindow, "window", "", "tmux window id, e.g. @3")
	sessionsUpdateCmd.Flags().BoolVar(&sessionClearWindow, "clear-window", false, "Remove the window reference")
	sessionsUpdateCmd.MarkFlagsMutuallyExclusive("window", "clear-window")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsUpdateCmd)
	sessionsCmd.AddCommand(sessionsArchiveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsCreate(cmd *cobra.Command, _ []string) error {
	ns := state.NewSession{Project: sessionProject, Scope: sessionScope, State: sessionState}
	if sessionStage != "" {
		stage, err := state.ParseStage(sessionStage)
		if err != nil {
			return err
		}
		ns.Stage = stage
	}
	return withClient(cmd, func(ctx context.Context, client *server.Client) error {
		sess, err := client.CreateSession(ctx, ns)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sess)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", sess.ID, sess.Project)
		return nil
	})
}

func runSessionsUpdate(cmd *cobra.Command, args []string) error {
	u, err := sessionUpdateFromFlags(cmd)
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, client *server.Client) error {
		sess, err := client.UpdateSession(ctx, args[0], u)
		if err != nil {
			return err
		}
		return printSession(cmd.OutOrStdout(), sess)
	})
}

// sessionUpdateFromFlags builds an update from the flags set on cmd.
func sessionUpdateFromFlags(cmd *cobra.Command) (state.SessionUpdate, error) {
	var u state.SessionUpdate
	flags := cmd.Flags()
	if flags.Changed("stage") {
		stage, err := state.ParseStage(sessionStage)
		if err != nil {
			return u, err
		}
		u.Stage = &stage
	}
	if flags.Changed("state") {
		u.State = &sessionState
	}
	if flags.Changed("status") {
		u.Status = &sessionStatus
	}
	if flags.Changed("scope") {
		u.Scope = &sessionScope
	}
	if flags.Changed("window") {
		u.WindowRef = &sessionWindow
	}
	u.ClearWindow = sessionClearWindow
	if u.Empty() {
		return u, fmt.Errorf("nothing to update: pass at least one of --stage, --state, --status, --scope, --window, --clear-window")
	}
	return u, nil
}
