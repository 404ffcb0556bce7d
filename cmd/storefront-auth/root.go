package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/storefront-e2e/internal/bootstrap"
	"github.com/kuitang/storefront-e2e/internal/config"
	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/suite"
)

// Exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfiguration = 2
	exitLoginFailed   = 3
)

type globalFlags struct {
	headed      bool
	browser     string
	recordVideo bool
	trace       bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "storefront-auth",
		Short: "Manage the authenticated session of the storefront e2e suite",
		Long: `Runs the dealer login (email + one-time code read from Gmail), persists the
browser storage state for the test suite, and manages the mailbox token.

Configuration comes from the environment (STOREFRONT_*, GMAIL_*, STATE_*, ALERT_*).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&g.headed, "headed", false, "Show the browser window")
	root.PersistentFlags().StringVar(&g.browser, "browser", "", "Browser engine: chromium, firefox or webkit")
	root.PersistentFlags().BoolVar(&g.recordVideo, "record-video", false, "Record video of browser sessions")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "Record a Playwright trace and keep it when login fails")

	root.AddCommand(newBootstrapCmd(g), newStateCmd(g), newMailCmd(g))
	return root
}

// load reads configuration with the flags that were explicitly set on cmd.
func (g *globalFlags) load(cmd *cobra.Command, extra func(*config.Flags)) (*suite.Suite, error) {
	flags := config.Flags{Browser: g.browser}
	if cmd.Flags().Changed("headed") {
		flags.Headed = &g.headed
	}
	if cmd.Flags().Changed("record-video") {
		flags.RecordVideo = &g.recordVideo
	}
	if cmd.Flags().Changed("trace") {
		flags.Trace = &g.trace
	}
	if extra != nil {
		extra(&flags)
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err.Error(), err)
	}
	return suite.New(cmd.Context(), cfg)
}

func execute(args []string) int {
	obs.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		obs.Pkg("cli").Error("command_failed", "error", err)
		fmt.Fprintf(stderr, "Error: %s\n", describeError(err))
		return exitCode(err)
	}
	return exitOK
}

// describeError prefers the operator message of a coded error.
func describeError(err error) string {
	var coded *errs.Error
	if errors.As(err, &coded) && coded.Message != "" {
		return errs.MessageOf(err)
	}
	return err.Error()
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errs.Is(err, errs.Configuration):
		return exitConfiguration
	case errors.Is(err, bootstrap.ErrFailed):
		return exitLoginFailed
	default:
		return exitFailure
	}
}
