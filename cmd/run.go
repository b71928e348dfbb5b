package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runTarget     string
	runAPIAddress string
	runNoWatch    bool
)

// runCmd is the command to start the relay agent
var runCmd = &cobra.Command{
	Use:   "run [target_url]",
	Short: "Start relaying requests to a local service",
	Long: `Connect to the relay and forward every relayed request to the local service.
Examples:
  haxorport-relay run http://localhost:4200
  haxorport-relay run --target http://localhost:8080 --api-address 127.0.0.1:8089`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := runTarget
		if len(args) > 0 {
			target = args[0]
		}
		if target != "" {
			if err := Container.RelayService.Retarget(target); err != nil {
				return err
			}
			// the connection manager validates the configuration it was built with
			Container.Config.TargetURL = target
		}

		apiAddress := Container.Config.APIAddress
		if cmd.Flags().Changed("api-address") {
			apiAddress = runAPIAddress
		}

		if !runNoWatch {
			if err := Container.ConfigService.Watch(Container.RelayService.ApplyConfig); err != nil {
				Container.Logger.Warn("Configuration changes will not be applied: %v", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return Container.RelayService.Run(ctx)
		})
		if apiAddress != "" {
			server := Container.NewAPIServer(apiAddress)
			g.Go(func() error {
				return server.Run(ctx)
			})
		}
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "Base URL of the local service (overrides target_url)")
	runCmd.Flags().StringVar(&runAPIAddress, "api-address", "", "Listen address of the management API (overrides api_address, empty disables it)")
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Do not reload the configuration file on changes")

	RootCmd.AddCommand(runCmd)
}
