// Package cmd wires the relaygate CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "relaygate",
	Short: "Multi-tenant chat-bot gateway",
	Long: `RelayGate bridges chat providers (Telegram, Discord, WhatsApp) to
coding agents over a WebSocket control plane. It routes inbound messages to
the right agent session, queues followups while an agent is busy, and streams
replies back to the originating chat.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relaygate %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $RELAYGATE_CONFIG or config.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

// resolveConfigPath picks the config file: flag, then env, then default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("RELAYGATE_CONFIG"); env != "" {
		return env
	}
	return "config.json5"
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
