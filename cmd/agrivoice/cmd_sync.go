package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agrivoice/internal/finalize"
	"agrivoice/internal/providers/dynamo"
)

func newSyncCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push records that have not reached the cloud table yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if table == "" {
				table = cfg.Dynamo.Table
			}
			if table == "" {
				return dynamo.ErrNoTable
			}
			syncer, err := dynamo.Connect(cmd.Context(), table, cfg.Dynamo.Region)
			if err != nil {
				return err
			}
			report, err := finalize.SyncPending(cmd.Context(), st, syncer, time.Now)
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d, failed %d\n", report.Pushed, report.Failed)
			if err != nil {
				return errors.Join(fmt.Errorf("%d records were not pushed", report.Failed), err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "DynamoDB table (defaults to the configured one)")
	return cmd
}
