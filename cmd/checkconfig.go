package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tenantgate/internal/config"
)

var checkConfigFile string

// checkConfigCmd loads and validates the configuration, then prints the
// effective result (defaults, file, and environment merged). Credentials are
// never part of the output.
var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the effective values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(checkConfigFile)
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("rendering configuration: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)

	checkConfigCmd.Flags().StringVar(&checkConfigFile, "config", config.DefaultConfigFile, "Path to the configuration file")
}
