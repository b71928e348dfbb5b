package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// pluginsCmd is the command to manage plugins
var pluginsCmd = &cobra.Command{
	Use:     "plugins",
	Aliases: []string{"plugin"},
	Short:   "Manage plugins",
	Long:    `List, enable, disable and configure the plugins of the request pipeline.`,
}

// pluginsListCmd is the command to list plugins
var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugins",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENABLED\tSETTINGS")
		for _, d := range Container.Plugins.Descriptors() {
			settings := make([]string, 0, len(d.Settings))
			for _, s := range d.Settings {
				settings = append(settings, fmt.Sprintf("%s=%q", s.Name, s.Value))
			}
			fmt.Fprintf(w, "%s\t%t\t%s\n", d.Name, d.Enabled, strings.Join(settings, " "))
		}
		w.Flush()
	},
}

// pluginsShowCmd is the command to describe one plugin
var pluginsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show plugin settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := Container.Plugins.Descriptor(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (enabled: %t)\n", d.Name, d.Enabled)
		for _, s := range d.Settings {
			fmt.Fprintf(out, "  %s: %q\n", s.Name, s.Value)
			if s.HelpText != "" {
				fmt.Fprintf(out, "      %s\n", s.HelpText)
			}
		}
		return nil
	},
}

func newPluginToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [name]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := Container.Plugins.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s %sd\n", args[0], use)
			return nil
		},
	}
}

// pluginsSetCmd is the command to change a plugin setting
var pluginsSetCmd = &cobra.Command{
	Use:   "set [name] [setting] [value]",
	Short: "Change a plugin setting",
	Long: `Change a plugin setting.
Examples:
  haxorport-relay plugins set AddHeaders Headers "X-Forwarded-By: relay"
  haxorport-relay plugins set RemoveHeaders Headers "Cookie, Authorization"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := Container.Plugins.SetSetting(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s setting %s successfully changed\n", args[0], args[1])
		return nil
	},
}

func init() {
	RootCmd.AddCommand(pluginsCmd)
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsShowCmd)
	pluginsCmd.AddCommand(newPluginToggleCmd("enable", "Add a plugin to the request pipeline", true))
	pluginsCmd.AddCommand(newPluginToggleCmd("disable", "Remove a plugin from the request pipeline", false))
	pluginsCmd.AddCommand(pluginsSetCmd)
}
