package main

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/logkit/logstore"
	"github.com/spf13/cobra"
)

// newTrimCommand constructs the `trim` command.
func newTrimCommand() *cobra.Command {
	trimCmd := &cobra.Command{
		Use:   "trim",
		Short: "Remove the oldest records from a log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetUint64("log")
			through, _ := cmd.Flags().GetUint64("through")

			if id == 0 {
				return errors.New("--log is required")
			}

			if through == 0 {
				return errors.New("--through is required")
			}

			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Trim(cmd.Context(), logstore.LogID(id), logstore.LSN(through)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "trimmed log %d through LSN %d\n", id, through)
			return nil
		},
	}

	trimCmd.Flags().Uint64("log", 0, "ID of the log")
	trimCmd.Flags().Uint64("through", 0, "LSN of the newest record to remove")

	return trimCmd
}
