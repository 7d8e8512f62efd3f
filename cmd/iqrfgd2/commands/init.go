package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iqrfgd2/daemon/internal/cli/prompt"
	"github.com/iqrfgd2/daemon/internal/config"
)

var (
	initForce          bool
	initNonInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample iqrfgd2 configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/iqrfgd2/config.yaml. Use --config to specify a custom
path. Channel.Interface and Driver.ScriptPath are left for the operator
to fill in, since they have no safe default.

Examples:
  # Initialize with default location
  iqrfgd2 init

  # Initialize with custom path
  iqrfgd2 init --config /etc/iqrfgd2/config.yaml

  # Force overwrite existing config
  iqrfgd2 init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "Skip prompts and use placeholder values")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Channel.Interface = "/dev/ttyACM0"
	cfg.Driver.ScriptPath = "/etc/iqrfgd2/drivers"

	if !initNonInteractive {
		iface, err := prompt.Input("Serial device path", cfg.Channel.Interface)
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("init cancelled")
			}
			return err
		}
		cfg.Channel.Interface = iface

		scriptPath, err := prompt.Input("Driver script directory", cfg.Driver.ScriptPath)
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("init cancelled")
			}
			return err
		}
		cfg.Driver.ScriptPath = scriptPath

		policy, err := prompt.SelectString("Channel not-ready policy", []string{"hold-until-recovery", "fail-immediate"})
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("init cancelled")
			}
			return err
		}
		cfg.Channel.NotReadyPolicy = policy
	}

	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit channel.interface and driver.script_path for your setup")
	fmt.Println("  2. Start the daemon with: iqrfgd2 start")
	fmt.Printf("  3. Or specify custom config: iqrfgd2 start --config %s\n", configPath)

	return nil
}
