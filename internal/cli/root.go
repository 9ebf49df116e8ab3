// Package cli implements the remote-ide terminal client commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	serverName string
	cfg        *Config
)

var rootCmd = &cobra.Command{
	Use:   "remote-ide",
	Short: "Terminal client for the remote AI IDE",
	Long:  "Connect to a remote AI IDE gateway, manage agent sessions, and chat with the agent from your terminal.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		return nil
	},
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&serverName, "server", "local", "server name from config")
	rootCmd.AddCommand(serversCmd, sessionsCmd, attachCmd)
}
