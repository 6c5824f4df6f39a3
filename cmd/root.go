package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when tenantgate is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "tenantgate",
	Short: "Authenticating gateway in front of per-user backend instances",
	Long: `tenantgate sits in front of a fleet of per-user backend containers.
It authenticates browsers against an identity provider (GitHub or Google),
binds the result to an opaque session cookie, provisions a dedicated backend
container for each user on demand, and reverse-proxies every request to the
caller's own instance.`,
	// Handled errors should not trigger a usage dump.
	SilenceUsage: true,
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tenantgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
