package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/ferrite"
	"github.com/dogmatiq/logkit"
	"github.com/spf13/cobra"
)

func main() {
	ferrite.Init()

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	err := run(ctx, os.Args[1:])
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "logkit:", err)

		var connErr *logkit.ConnectionError
		if errors.As(err, &connErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if err := logkit.Initialize(); err != nil {
		return err
	}

	if l, ok := debugLevel(); ok {
		logkit.SetDebugLevel(l)
	}

	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "logkit",
		Short: "Inspect and manipulate sequential logs",
		Long: "logkit appends to and reads from the logs in a log store.\n\n" +
			"The store is given by --store, or by the LOGKIT_STORE_DSN environment variable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("store", "", "locator of the log store, overrides LOGKIT_STORE_DSN")

	rootCmd.AddCommand(
		newDefineCommand(),
		newAppendCommand(),
		newReadCommand(),
		newTrimCommand(),
	)

	return rootCmd
}

// logger returns the logger used for the command's diagnostic output.
func logger(cmd *cobra.Command) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(
			cmd.ErrOrStderr(),
			&slog.HandlerOptions{
				Level: logkit.DebugLevel(),
			},
		),
	)
}
