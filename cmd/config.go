package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// configCmd is the command to manage configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage Haxorport Relay Agent configuration.`,
}

// configShowCmd is the command to display configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configuration",
	Long:  `Display Haxorport Relay Agent configuration.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := Container.Config
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Haxorport Relay Agent Configuration:")
		fmt.Fprintf(out, "Config File: %s\n", Container.ConfigService.ConfigPath())
		fmt.Fprintf(out, "Relay Host: %s\n", cfg.RelayHost)
		fmt.Fprintf(out, "Connection Path: %s\n", cfg.ConnectionPath)
		fmt.Fprintf(out, "Key Name: %s\n", cfg.KeyName)
		fmt.Fprintf(out, "Shared Key: %s\n", maskString(cfg.SharedKey))
		fmt.Fprintf(out, "Target URL: %s\n", cfg.TargetURL)
		fmt.Fprintf(out, "TLS Enabled: %t\n", cfg.TLSEnabled)
		fmt.Fprintf(out, "Request Timeout: %s\n", cfg.RequestTimeout)
		fmt.Fprintf(out, "Log Level: %s\n", cfg.LogLevel)
		fmt.Fprintf(out, "Log Format: %s\n", cfg.LogFormat)
		fmt.Fprintf(out, "Log File: %s\n", cfg.LogFile)
		fmt.Fprintf(out, "API Address: %s\n", cfg.APIAddress)
		fmt.Fprintf(out, "History Size: %d\n", cfg.HistorySize)

		if len(cfg.Plugins) > 0 {
			names := make([]string, 0, len(cfg.Plugins))
			for name := range cfg.Plugins {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintln(out, "\nPlugins:")
			for _, name := range names {
				fmt.Fprintf(out, "  %s (enabled: %t)\n", name, cfg.Plugins[name].Enabled)
			}
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "\nWarning: %v\n", err)
		}
	},
}

// configSetCmd is the command to set configuration
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set configuration",
	Long: `Set Haxorport Relay Agent configuration.
Examples:
  haxorport-relay config set relay_host myns.servicebus.windows.net
  haxorport-relay config set connection_path agent
  haxorport-relay config set key_name RootManageSharedAccessKey
  haxorport-relay config set shared_key my-key
  haxorport-relay config set target_url http://localhost:4200
  haxorport-relay config set request_timeout 30s
  haxorport-relay config set log_format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		if err := Container.ConfigService.Set(Container.Config, key, value); err != nil {
			return err
		}
		if err := Container.ConfigService.SaveConfig(Container.Config, ConfigPath); err != nil {
			return err
		}

		if key == "shared_key" {
			value = maskString(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s successfully changed to %s\n", key, value)
		return nil
	},
}

// maskString hides part of a string
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
