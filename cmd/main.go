package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info (set by ldflags)
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "farm-automation",
		Short: "Farm sensor threshold automation and alerting service",
		Long: `farm-automation evaluates sensor readings against configured thresholds,
drives actuator commands through a retrying task queue and raises alerts
that are routed to email, SMS, Telegram and the realtime dashboard.

Configuration is read from .env, FARM_* environment variables and an
optional config.yaml.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
