package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/zhubert/hopper/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.toml with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.Layout().Config()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := toml.Marshal(effectiveConfig(cfg))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# data_dir = %q\n%s", cfg.DataDir, data)
		return nil
	},
}

// effectiveConfigView is the printable form of a loaded config.
type effectiveConfigView struct {
	SocketPath       string   `toml:"socket_path"`
	LogPath          string   `toml:"log_path"`
	OutboundQueue    int      `toml:"outbound_queue"`
	WriteTimeout     string   `toml:"write_timeout"`
	ArchiveHistory   bool     `toml:"archive_history"`
	ReconcileWindows bool     `toml:"reconcile_windows"`
	AgentCommand     []string `toml:"agent_command"`
	TmuxSession      string   `toml:"tmux_session"`
	Notifications    bool     `toml:"notifications"`
}

func effectiveConfig(cfg *config.Config) effectiveConfigView {
	return effectiveConfigView{
		SocketPath:       cfg.SocketPath,
		LogPath:          cfg.LogPath,
		OutboundQueue:    cfg.OutboundQueue,
		WriteTimeout:     cfg.WriteTimeout.String(),
		ArchiveHistory:   cfg.ArchiveHistory,
		ReconcileWindows: cfg.ReconcileWindows,
		AgentCommand:     cfg.AgentCommand,
		TmuxSession:      cfg.TmuxSession,
		Notifications:    cfg.Notifications,
	}
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.toml")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
