package main

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/logkit"
	"github.com/dogmatiq/logkit/internal/locator"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
	"github.com/dogmatiq/logkit/logstore/journalstore"
	"github.com/spf13/cobra"
)

// newDefineCommand constructs the `define` command.
func newDefineCommand() *cobra.Command {
	defineCmd := &cobra.Command{
		Use:   "define",
		Short: "Add a log to the store's registry, or update its configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetUint64("log")
			label, _ := cmd.Flags().GetString("label")
			maxPayloadSize, _ := cmd.Flags().GetInt("max-payload-size")

			if id == 0 {
				return errors.New("--log is required")
			}

			loc, err := storeLocator(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			js, closer, err := locator.Open(ctx, loc)
			if err != nil {
				return &logkit.ConnectionError{Locator: loc, Err: err}
			}
			defer closer.Close()

			s := journalstore.New(js)
			defer s.Close()

			if err := s.DefineLog(
				ctx,
				logstore.LogID(id),
				journal.Config{
					Label:          label,
					MaxPayloadSize: maxPayloadSize,
				},
			); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "defined log %d\n", id)
			return nil
		},
	}

	defineCmd.Flags().Uint64("log", 0, "ID of the log")
	defineCmd.Flags().String("label", "", "human-readable description of the log")
	defineCmd.Flags().Int("max-payload-size", 0, "largest payload that may be appended, in bytes (0 = store default)")

	return defineCmd
}
