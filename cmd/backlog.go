package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/server"
	"github.com/zhubert/hopper/internal/state"
)

var (
	backlogProject     string
	backlogDescription string
	backlogSession     string
)

var backlogCmd = &cobra.Command{
	Use:     "backlog",
	Aliases: []string{"b"},
	Short:   "List and manage queued work",
}

var backlogListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List backlog items",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			items, err := client.ListBacklog(ctx)
			if err != nil {
				return err
			}
			return printBacklog(cmd.OutOrStdout(), items)
		})
	},
}

var backlogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a backlog item",
	Long: `Queues future work for a project.

Examples:
  hopper backlog add --project api --description "split the upload handler"
  hopper backlog add --project api --description "follow up" --session s3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		nb := state.NewBacklogItem{Project: backlogProject, Description: backlogDescription, SessionID: backlogSession}
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			item, err := client.CreateBacklog(ctx, nb)
			if err != nil {
				return err
			}
			return printItem(cmd.OutOrStdout(), "Added", item)
		})
	},
}

var backlogUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Edit a backlog item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u state.BacklogUpdate
		if cmd.Flags().Changed("project") {
			u.Project = &backlogProject
		}
		if cmd.Flags().Changed("description") {
			u.Description = &backlogDescription
		}
		if u.Project == nil && u.Description == nil {
			return fmt.Errorf("nothing to update: pass --project or --description")
		}
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			item, err := client.UpdateBacklog(ctx, args[0], u)
			if err != nil {
				return err
			}
			return printItem(cmd.OutOrStdout(), "Updated", item)
		})
	},
}

var backlogRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a backlog item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			item, err := client.RemoveBacklog(ctx, args[0])
			if err != nil {
				return err
			}
			return printItem(cmd.OutOrStdout(), "Removed", item)
		})
	},
}

func init() {
	backlogCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")

	backlogAddCmd.Flags().StringVar(&backlogProject, "project", "", "Project the work belongs to (required)")
	backlogAddCmd.Flags().StringVar(&backlogDescription, "description", "", "What needs doing (required)")
	backlogAddCmd.Flags().StringVar(&backlogSession, "session", "", "Session that queued the item")
	_ = backlogAddCmd.MarkFlagRequired("project")
	_ = backlogAddCmd.MarkFlagRequired("description")

	backlogUpdateCmd.Flags().StringVar(&backlogProject, "project", "", "New project")
	backlogUpdateCmd.Flags().StringVar(&backlogDescription, "description", "", "New description")

	backlogCmd.AddCommand(backlogListCmd)
	backlogCmd.AddCommand(backlogAddCmd)
	backlogCmd.AddCommand(backlogUpdateCmd)
	backlogCmd.AddCommand(backlogRemoveCmd)
	rootCmd.AddCommand(backlogCmd)
}
