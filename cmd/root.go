package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haxorport/haxorport-relay-agent/internal/di"
)

var (
	// Container is the dependency injection container
	Container *di.Container

	// ConfigPath is the path to the configuration file
	ConfigPath string

	// LogLevel is the logging level
	LogLevel string

	// RootCmd is the root command for CLI
	RootCmd = &cobra.Command{
		Use:   "haxorport-relay",
		Short: "Haxorport Relay Agent - expose local HTTP services through a relay",
		Long: `Haxorport Relay Agent listens on a relay hybrid connection and forwards
every relayed HTTP request to a local service, passing it through the
enabled plugins on the way in and on the way out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			Container = di.NewContainer()
			return Container.Initialize(ConfigPath, LogLevel)
		},
	}
)

// Execute runs the root command
func Execute() {
	err := RootCmd.Execute()
	// post-run hooks are skipped when a command fails
	if Container != nil {
		if closeErr := Container.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", closeErr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&ConfigPath, "config", "c", "", "Path to configuration file (default: ~/.haxorport/relay.yaml)")
	RootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Override logging level (debug, info, warn, error)")
}
