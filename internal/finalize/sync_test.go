package finalize

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agrivoice/internal/domain"
	"agrivoice/internal/store"
)

type flakySyncer struct {
	fail   map[string]bool
	pushed []string
}

func (f *flakySyncer) PushRecord(_ context.Context, record domain.LocalRecord) error {
	if f.fail[record.ID] {
		return errors.New("remote unavailable")
	}
	f.pushed = append(f.pushed, record.ID)
	return nil
}

func TestSyncPendingMarksPushedRecords(t *testing.T) {
	t.Parallel()

	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.AppendRecord(ctx, domain.LocalRecord{ID: id, Date: "2026-05-12", Location: "A号ハウス"}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	syncer := &flakySyncer{fail: map[string]bool{"r2": true}}
	now := func() time.Time { return time.Date(2026, 5, 12, 20, 0, 0, 0, time.UTC) }
	report, err := SyncPending(ctx, s, syncer, now)
	if err == nil {
		t.Fatalf("expected the r2 failure to be reported")
	}
	if report.Pushed != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	left, err := s.UnsyncedRecords(ctx)
	if err != nil || len(left) != 1 || left[0].ID != "r2" {
		t.Fatalf("expected only r2 left, got %+v %v", left, err)
	}

	delete(syncer.fail, "r2")
	report, err = SyncPending(ctx, s, syncer, now)
	if err != nil || report.Pushed != 1 {
		t.Fatalf("second pass = %+v, %v", report, err)
	}
}
