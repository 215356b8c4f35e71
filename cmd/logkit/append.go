package main

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/logkit"
	"github.com/dogmatiq/logkit/logstore"
	"github.com/spf13/cobra"
)

// newAppendCommand constructs the `append` command.
func newAppendCommand() *cobra.Command {
	appendCmd := &cobra.Command{
		Use:   "append [payload...]",
		Short: "Append records to a log",
		Long: "Append each argument to the log as a separate record.\n\n" +
			"If no arguments are given, each line read from STDIN is appended as a record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetUint64("log")
			key, _ := cmd.Flags().GetString("key")
			withTimestamp, _ := cmd.Flags().GetBool("timestamp")

			if id == 0 {
				return errors.New("--log is required")
			}

			opts := []logkit.AppendOption{logkit.WithKey(key)}
			if withTimestamp {
				opts = append(opts, logkit.WithTimestamp())
			}

			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if len(args) != 0 {
				for _, payload := range args {
					res, err := client.Append(cmd.Context(), logstore.LogID(id), []byte(payload), opts...)
					if err != nil {
						return err
					}
					printResult(cmd, res)
				}
				return nil
			}

			return appendLines(cmd, client, logstore.LogID(id), opts)
		},
	}

	appendCmd.Flags().Uint64("log", 0, "ID of the log")
	appendCmd.Flags().String("key", "", "key to associate with each record")
	appendCmd.Flags().Bool("timestamp", false, "print the timestamp the store assigned to each record")

	return appendCmd
}

// appendLines appends each line of STDIN to a log via a
// [logkit.BufferedWriter], printing the results in order.
func appendLines(
	cmd *cobra.Command,
	client *logkit.Client,
	id logstore.LogID,
	opts []logkit.AppendOption,
) error {
	ctx := cmd.Context()
	w := client.NewBufferedWriter()

	var futures []logkit.AppendFuture

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		f, err := w.Write(id, scanner.Bytes(), opts...)
		if errors.Is(err, logkit.ErrWriterFull) {
			if err := w.Flush(ctx); err != nil {
				return err
			}
			f, err = w.Write(id, scanner.Bytes(), opts...)
		}
		if err != nil {
			return err
		}
		futures = append(futures, f)
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if err := w.Close(ctx); err != nil {
		return err
	}

	for _, f := range futures {
		res, err := f.Get()
		if err != nil {
			return err
		}
		printResult(cmd, res)
	}

	return nil
}

func printResult(cmd *cobra.Command, res logstore.AppendResult) {
	if res.Timestamp.IsZero() {
		fmt.Fprintln(cmd.OutOrStdout(), res.LSN)
		return
	}

	fmt.Fprintf(
		cmd.OutOrStdout(),
		"%s\t%s\n",
		res.LSN,
		res.Timestamp.Format(time.RFC3339Nano),
	)
}

// connect returns a client connected to the command's log store.
func connect(cmd *cobra.Command) (*logkit.Client, error) {
	loc, err := storeLocator(cmd)
	if err != nil {
		return nil, err
	}

	return logkit.Connect(cmd.Context(), loc)
}
