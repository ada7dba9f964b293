package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devstack/internal/app"
	"devstack/internal/cli"
	"devstack/pkg/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

// For mocking in tests
var newApplication = app.NewApplication

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	logLevel string
	debug    bool
	dir      string
}

// SetVersion sets the version reported by the version command
func SetVersion(v string) {
	version = v
}

// NewRootCmd builds the devstack command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "devstack",
		Short: "Run local development apps as sets of containers",
		Long: `devstack reads the .devstack.yml descriptor of an app and brings its
services (databases, caches, web servers, language runtimes) to the requested
state on the local container runtime.

Lifecycle commands act on the app whose descriptor is found in the working
directory or one of its parents; poweroff and list work from anywhere.`,
		// SilenceUsage is set to true to prevent printing usage message on errors
		// handled by us (e.g. failed services, missing descriptor)
		SilenceUsage: true,
		// Errors are logged by Execute so that stdout only carries results
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.SetVersionTemplate(`{{printf "devstack version %s\n" .Version}}`)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	})

	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Shortcut for --log-level debug")
	rootCmd.PersistentFlags().StringVarP(&flags.dir, "dir", "C", "", "Run as if devstack was started in this directory")

	rootCmd.AddCommand(
		newLifecycleCmd(flags, lifecycleStart),
		newLifecycleCmd(flags, lifecycleStop),
		newLifecycleCmd(flags, lifecycleRestart),
		newLifecycleCmd(flags, lifecycleRebuild),
		newDestroyCmd(flags),
		newInfoCmd(flags),
		newListCmd(flags),
		newLogsCmd(flags),
		newPoweroffCmd(flags),
		newShareCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command line and returns the process exit code.
// This is called by main.main().
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, NewRootCmd(), args)
}

func execute(ctx context.Context, rootCmd *cobra.Command, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return cli.ExitCode(err)
}

// withApp builds the application for one command, runs fn and records the
// command duration in the metrics textfile.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app.Application, root string) error) (err error) {
	root, err := flags.root()
	if err != nil {
		return err
	}

	cfg := app.NewConfig(flags.logLevel, flags.debug)
	cfg.Stderr = cmd.ErrOrStderr()
	a, err := newApplication(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		a.Metrics.ObserveCommand(cmd.Name(), time.Since(start), cli.ExitCode(err))
		if closeErr := a.Close(); closeErr != nil {
			logging.Warn("CLI", "Closing devstack: %v", closeErr)
		}
	}()
	return fn(cmd.Context(), a, root)
}

func (f *rootFlags) root() (string, error) {
	dir := f.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("cannot determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: --dir: %w", cli.ErrUsage, err)
	}
	return abs, nil
}

// noArgs rejects positional arguments as usage errors.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	return nil
}

