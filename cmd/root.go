package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/config"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/server"
)

// requestTimeout bounds one CLI request to the server.
const requestTimeout = 10 * time.Second

var (
	dataDir               string
	debugMode             bool
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "hopper",
	Short: "Track concurrent agent sessions and their backlog",
	Long: `Hopper keeps the state of concurrent agent sessions, each running in its
own tmux window, in a small background server. Dashboards, runners and the
CLI talk to the server over a Unix socket and see every change as it happens.

Start the server once with 'hopper server', then use the other commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default $HOPPER_DATA_DIR or ~/.local/share/hopper)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

func initConfig() {
	logger.SetDebug(debugMode)
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("hopper %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("hopper %s\n", version)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// connect loads the config and dials the server it names.
func connect() (*server.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := server.Dial(cfg.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (is 'hopper server' running?)", err)
	}
	return client, cfg, nil
}

// withClient dials the server, runs fn with a bounded context and closes
// the connection.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *server.Client) error) error {
	client, _, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return fn(ctx, client)
}
