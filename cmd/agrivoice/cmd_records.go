package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agrivoice/internal/domain"
)

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect saved interview records",
	}
	cmd.AddCommand(newRecordsListCmd(), newRecordsShowCmd())
	return cmd
}

func newRecordsListCmd() *cobra.Command {
	var limit int
	var unsynced bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			var records []domain.LocalRecord
			if unsynced {
				records, err = st.UnsyncedRecords(cmd.Context())
			} else {
				records, err = st.ListRecords(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No records.")
				return nil
			}
			for _, record := range records {
				mark := " "
				if record.Synced {
					mark = "*"
				}
				work := record.Slots.WorkLog
				if work == "" {
					work = "-"
				}
				fmt.Fprintf(out, "%s %s  %s  %s  %s\n", mark, record.ID, record.Date, record.Location, work)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records (0 for all)")
	cmd.Flags().BoolVar(&unsynced, "unsynced", false, "Only records not yet pushed to the cloud table")
	return cmd
}

func newRecordsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			record, err := st.Record(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("record %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}
