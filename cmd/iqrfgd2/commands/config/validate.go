package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iqrfgd2/daemon/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the iqrfgd2 configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  iqrfgd2 config validate

  # Validate specific config file
  iqrfgd2 config validate --config /etc/iqrfgd2/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.DefaultConfigPath()
	}

	var warnings []string
	if cfg.Auth.JWTSecret == "" {
		warnings = append(warnings, "JWT secret not configured - only static catalog tokens will authenticate")
	}
	if !cfg.Metrics.Enabled {
		warnings = append(warnings, "metrics collection disabled - /metrics will not be served (the /health endpoint still is)")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Channel interface: %s\n", cfg.Channel.Interface)
	fmt.Printf("  Driver scripts:    %s\n", cfg.Driver.ScriptPath)
	fmt.Printf("  Catalog path:      %s\n", cfg.Repository.Path)
	fmt.Printf("  Log level:         %s\n", cfg.Logging.Level)

	return nil
}
