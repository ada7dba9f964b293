package cmd

import (
	"context"
	"fmt"

	"devstack/internal/app"
	"devstack/internal/cli"
	"devstack/internal/orchestrator"
	"devstack/internal/reconciler"

	"github.com/spf13/cobra"
)

type lifecycleVerb struct {
	use   string
	short string
	long  string
	run   func(o *orchestrator.Orchestrator, ctx context.Context, root string) (reconciler.Result, error)
}

var (
	lifecycleStart = lifecycleVerb{
		use:   "start",
		short: "Start every service of the app",
		long: `Creates missing containers and starts every service of the app in
dependency order, then registers the app. Running services are left alone,
so start can be repeated safely.`,
		run: (*orchestrator.Orchestrator).Start,
	}
	lifecycleStop = lifecycleVerb{
		use:   "stop",
		short: "Stop every running service of the app",
		long: `Stops the running services of the app in reverse dependency order.
Containers and data are kept.`,
		run: (*orchestrator.Orchestrator).Stop,
	}
	lifecycleRestart = lifecycleVerb{
		use:   "restart",
		short: "Stop and start the app",
		run:   (*orchestrator.Orchestrator).Restart,
	}
	lifecycleRebuild = lifecycleVerb{
		use:   "rebuild",
		short: "Destroy the app and start it again with fresh images",
		long: `Removes every container of the app, pulls the images again and
starts the app from its current descriptor.`,
		run: (*orchestrator.Orchestrator).Rebuild,
	}
)

func newLifecycleCmd(flags *rootFlags, verb lifecycleVerb) *cobra.Command {
	return &cobra.Command{
		Use:   verb.use,
		Short: verb.short,
		Long:  verb.long,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, root string) error {
				res, err := verb.run(a.Orchestrator, ctx, root)
				return printResult(cmd, res, err)
			})
		},
	}
}

func newDestroyCmd(flags *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Remove every container and volume of the app",
		Long: `Stops and removes every container of the app together with its network
and data volumes, then forgets the app. Asks for confirmation unless -y is
given.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, root string) error {
				if !yes {
					g, err := a.Orchestrator.LoadApp(root)
					if err != nil {
						return err
					}
					question := fmt.Sprintf("Are you sure you want to destroy %s? Its data will be lost.", g.AppName)
					ok, err := cli.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), question)
					if err != nil {
						return err
					}
					if !ok {
						return cli.NewPrinter(cmd.OutOrStdout()).Println("Destroy aborted")
					}
				}
				res, err := a.Orchestrator.Destroy(ctx, root)
				return printResult(cmd, res, err)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Destroy without asking for confirmation")
	return cmd
}

func newPoweroffCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poweroff",
		Short: "Stop every service of every app",
		Long: `Stops all containers managed by devstack, in reverse dependency order
per app. Works from any directory.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, _ string) error {
				results, err := a.Orchestrator.Poweroff(ctx)
				if printErr := cli.NewPrinter(cmd.OutOrStdout()).PrintPoweroff(results); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
}

// printResult prints the per-service table whenever the op got as far as
// the backend and passes err through.
func printResult(cmd *cobra.Command, res reconciler.Result, err error) error {
	if len(res.States) == 0 {
		return err
	}
	if printErr := cli.NewPrinter(cmd.OutOrStdout()).PrintResult(res); printErr != nil && err == nil {
		return printErr
	}
	return err
}
