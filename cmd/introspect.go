package cmd

import (
	"context"
	"strings"

	"devstack/internal/app"
	"devstack/internal/cli"
	"devstack/internal/orchestrator"

	"github.com/spf13/cobra"
)

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVar(format, "format", string(cli.OutputFormatJSON), "Output format: json, yaml or table")
}

func newInfoCmd(flags *rootFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe the services of the app",
		Long: `Prints one document keyed by service name with the type, image, status,
container and the connections other services and the host can use.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, root string) error {
				info, err := a.Orchestrator.Info(ctx, root)
				if err != nil {
					return err
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintInfo(f, info)
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func newListCmd(flags *rootFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known apps",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, _ string) error {
				apps, err := a.Orchestrator.List(ctx)
				if err != nil {
					return err
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintList(f, apps)
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func newLogsCmd(flags *rootFlags) *cobra.Command {
	var opts orchestrator.LogsOptions
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the logs of the app's services",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, root string) error {
				return a.Orchestrator.Logs(ctx, root, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Services, "service", "s", nil, "Only show logs of this service (repeatable)")
	cmd.Flags().BoolVarP(&opts.Timestamps, "timestamps", "t", false, "Show timestamps")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "Follow log output until interrupted")
	cmd.Flags().IntVar(&opts.Tail, "tail", 0, "Number of lines to show from the end of each log (0 for all)")
	return cmd
}

func newShareCmd(flags *rootFlags) *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Print the local URL of a web service and copy it to the clipboard",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application, root string) error {
				url, err := a.Orchestrator.Share(ctx, root, strings.TrimSpace(service))
				if err != nil {
					return err
				}
				return cli.NewPrinter(cmd.OutOrStdout()).PrintURL(url)
			})
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "Service to share (default: the first service with a URL)")
	return cmd
}
