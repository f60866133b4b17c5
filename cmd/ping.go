package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/server"
)

// stopWait is how long 'hopper stop' waits for the server to hang up.
const stopWait = 10 * time.Second

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			start := time.Now()
			pong, err := client.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong from server (ts %d) in %s\n", pong.TS, time.Since(start).Round(time.Microsecond))
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the server to shut down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, client *server.Client) error {
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			select {
			case <-client.Done():
			case <-time.After(stopWait):
				return fmt.Errorf("server did not close the connection within %s", stopWait)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server stopped")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(stopCmd)
}
