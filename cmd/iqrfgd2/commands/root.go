// Package commands implements the CLI commands for iqrfgd2 daemon management.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/iqrfgd2/daemon/cmd/iqrfgd2/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "iqrfgd2",
	Short: "IQRF Gateway Daemon",
	Long: `iqrfgd2 bridges IQRF DPA networks to WebSocket/Unix-socket/UDP/MQTT
JSON clients over a serial-attached coordinator device.

Use "iqrfgd2 [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and executes it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/iqrfgd2/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("iqrfgd2 %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
