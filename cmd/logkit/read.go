package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dogmatiq/logkit"
	"github.com/dogmatiq/logkit/logstore"
	"github.com/spf13/cobra"
)

// errDataLoss is returned by the `read` command if any records in the range
// were lost.
var errDataLoss = errors.New("data loss detected")

// newReadCommand constructs the `read` command.
func newReadCommand() *cobra.Command {
	readCmd := &cobra.Command{
		Use:     "read",
		Aliases: []string{"tail"},
		Short:   "Print the records in a log",
		Long: "Print the payload of each record in the log, one per line.\n\n" +
			"Gaps in the log are reported on STDERR. The command fails if any records were lost.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetUint64("log")
			from, _ := cmd.Flags().GetString("from")
			at, _ := cmd.Flags().GetString("at")
			until, _ := cmd.Flags().GetUint64("until")
			follow, _ := cmd.Flags().GetBool("follow")
			key, _ := cmd.Flags().GetString("key")
			batch, _ := cmd.Flags().GetInt("batch")
			waitOnlyWhenNoData, _ := cmd.Flags().GetBool("wait-only-when-no-data")

			if id == 0 {
				return errors.New("--log is required")
			}

			if batch <= 0 {
				return errors.New("--batch must be positive")
			}

			ctx := cmd.Context()
			diag := logger(cmd)

			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			start, err := startLSN(cmd, client, logstore.LogID(id), from, at)
			if err != nil {
				return err
			}

			end := logstore.LSN(until)
			if end == logstore.LSNInvalid {
				if follow {
					end = logstore.LSNMax
				} else if end, err = client.TailLSN(ctx, logstore.LogID(id)); err != nil {
					return err
				}
			}

			if end == logstore.LSNInvalid || end < start {
				return nil
			}

			var opts []logkit.ReaderOption
			if key != "" {
				opts = append(opts, logkit.WithFilter(func(k string) bool { return k == key }))
			}
			if waitOnlyWhenNoData {
				opts = append(opts, logkit.WithWaitOnlyWhenNoData())
			}

			r, err := client.NewReader(ctx, 1, opts...)
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.StartReading(ctx, logstore.LogID(id), start, end); err != nil {
				return err
			}

			for {
				records, gap, err := r.Read(ctx, batch)
				if errors.Is(err, logkit.ErrEndOfStream) {
					break
				}
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					return err
				}

				for _, rec := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", rec.Payload)
				}

				if gap != nil {
					level := diag.Info
					if gap.Kind.IsAnomaly() {
						level = diag.Warn
					}
					level(
						"gap in log",
						"log", gap.LogID,
						"kind", gap.Kind,
						"low", gap.Low,
						"high", gap.High,
					)
				}
			}

			if r.HasDataLoss() {
				return errDataLoss
			}

			return nil
		},
	}

	readCmd.Flags().Uint64("log", 0, "ID of the log")
	readCmd.Flags().String("from", "oldest", "LSN of the first record to read, or \"oldest\"")
	readCmd.Flags().String("at", "", "read from the first record appended at or after this RFC 3339 time (overrides --from)")
	readCmd.Flags().Uint64("until", 0, "LSN of the last record to read (default is the current tail)")
	readCmd.Flags().Bool("follow", false, "keep reading new records as they are appended")
	readCmd.Flags().String("key", "", "only print records with this key")
	readCmd.Flags().Int("batch", 100, "maximum number of records to read at once")
	readCmd.Flags().Bool("wait-only-when-no-data", false, "wait for new records to be appended instead of polling")

	return readCmd
}

// startLSN returns the LSN at which the `read` command begins reading.
func startLSN(
	cmd *cobra.Command,
	client *logkit.Client,
	id logstore.LogID,
	from, at string,
) (logstore.LSN, error) {
	if at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return 0, fmt.Errorf("invalid --at: %w", err)
		}
		return client.FindTime(cmd.Context(), id, t)
	}

	if from == "oldest" {
		return logstore.LSNOldest, nil
	}

	n, err := strconv.ParseUint(from, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid --from: expected a positive LSN or \"oldest\"")
	}

	return logstore.LSN(n), nil
}
