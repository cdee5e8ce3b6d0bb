package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yanqian/sqlassistant/internal/bootstrap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sqlassistant",
		Short: "Answer inventory questions in plain language",
		Long: `sqlassistant turns a natural-language question into SQL using few-shot
examples, runs it against the inventory database and phrases the answer.

Running with no subcommand starts the web server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the web form and JSON API",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "ask <question>",
			Short: "Answer one question and print the SQL, raw result and answer",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runAsk,
		},
		&cobra.Command{
			Use:   "reindex",
			Short: "Re-embed the example set and overwrite the persisted index",
			Args:  cobra.NoArgs,
			RunE:  runReindex,
		},
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		return app.Run(ctx)
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		res, err := app.Ask(ctx, question)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "SQLQuery: %s\n", res.SQL)
		fmt.Fprintf(out, "SQLResult: %s\n", res.RawResult)
		fmt.Fprintf(out, "Answer: %s\n", res.Answer)
		return nil
	})
}

func runReindex(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		n, err := app.Reindex(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d exemplars\n", n)
		return nil
	})
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("failed to wire application: %w", err)
	}
	defer cleanup()

	if err := fn(ctx, app); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return nil
}
