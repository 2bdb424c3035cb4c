package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agrivoice/internal/ports"
)

// SyncReport counts the outcome of one SyncPending pass.
type SyncReport struct {
	Pushed int
	Failed int
}

// SyncPending pushes every unsynced record, oldest first, and marks each one that the remote
// accepted. A failed push leaves the record for the next pass; all failures are joined.
func SyncPending(ctx context.Context, records ports.RecordStore, syncer ports.RecordSyncer, now func() time.Time) (SyncReport, error) {
	if now == nil {
		now = time.Now
	}
	pending, err := records.UnsyncedRecords(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to list unsynced records: %w", err)
	}
	var report SyncReport
	var errs []error
	for _, record := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := syncer.PushRecord(ctx, record); err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}
		if err := records.MarkSynced(ctx, record.ID, now()); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("failed to mark %s synced: %w", record.ID, err))
			continue
		}
		report.Pushed++
	}
	return report, errors.Join(errs...)
}
