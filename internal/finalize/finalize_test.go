package finalize

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"agrivoice/internal/domain"
	"agrivoice/internal/slots"
)

var fixedNow = time.Date(2026, 5, 12, 18, 30, 0, 0, time.UTC)

func newTestFinalizer(records *fakeRecords, locations *fakeLocations, extra ...Option) *Finalizer {
	n := 0
	opts := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	}
	return New(records, locations, append(opts, extra...)...)
}

func TestFinalizeAppliesEditedRows(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{}
	locations := &fakeLocations{masters: []domain.LocationMaster{{ID: "loc-1", Name: "茂木町ハウス"}}}
	f := newTestFinalizer(records, locations)

	s := domain.Slots{WorkLog: "灌水"}
	s.SetMaxTemp(28)
	items := slots.UpdateItem(slots.ConfirmItems(s), slots.KeyMaxTemp, "30")

	record, err := f.Finalize(context.Background(), Draft{
		Date:           "2026-05-12",
		Location:       "茂木町ハウス",
		Slots:          s,
		Items:          items,
		AdminLog:       "本日は灌水を実施。",
		AdminLogSource: domain.AdminLogAI,
		PhotoCount:     2,
		Transcript:     " 今日は灌水した ",
	})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if record.ID != "id-1" || record.LocationID != "loc-1" {
		t.Fatalf("unexpected identifiers: %q %q", record.ID, record.LocationID)
	}
	if record.Slots.MaxTemp == nil || *record.Slots.MaxTemp != 30 {
		t.Fatalf("expected edited max temp 30, got %v", record.Slots.MaxTemp)
	}
	if record.AdminLog != "本日は灌水を実施。" || record.AdminLogSource != domain.AdminLogAI {
		t.Fatalf("unexpected admin log: %q (%s)", record.AdminLog, record.AdminLogSource)
	}
	if record.RawTranscript != "今日は灌水した" || record.PhotoCount != 2 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !record.Timestamp.Equal(fixedNow) || record.Synced {
		t.Fatalf("unexpected timestamp or sync flag: %+v", record)
	}
	if len(records.appended) != 1 {
		t.Fatalf("expected one appended record, got %d", len(records.appended))
	}
}

func TestFinalizeFallsBackToTemplateAdminLog(t *testing.T) {
	t.Parallel()

	f := newTestFinalizer(&fakeRecords{}, nil)
	s := domain.Slots{WorkLog: "剪定"}
	record, err := f.Finalize(context.Background(), Draft{Slots: s, Items: slots.ConfirmItems(s)})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if record.Date != "2026-05-12" {
		t.Fatalf("expected date from clock, got %q", record.Date)
	}
	if record.Location != slots.DefaultLocation {
		t.Fatalf("expected default location, got %q", record.Location)
	}
	want := slots.AdminLog(record.Slots, slots.DefaultLocation, "2026-05-12")
	if record.AdminLog != want || record.AdminLogSource != domain.AdminLogTemplate {
		t.Fatalf("unexpected admin log %q (%s)", record.AdminLog, record.AdminLogSource)
	}
}

func TestFinalizeRegistersNewLocation(t *testing.T) {
	t.Parallel()

	locations := &fakeLocations{masters: []domain.LocationMaster{{ID: "loc-1", Name: "茂木町ハウス"}}}
	f := newTestFinalizer(&fakeRecords{}, locations)

	record, err := f.Finalize(context.Background(), Draft{Location: "山の上の畑"})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if len(locations.created) != 1 || locations.created[0].Name != "山の上の畑" {
		t.Fatalf("expected a created location, got %+v", locations.created)
	}
	if record.LocationID != locations.created[0].ID {
		t.Fatalf("record location id %q does not match %q", record.LocationID, locations.created[0].ID)
	}
}

func TestMatchLocationFoldsWidthAndAliases(t *testing.T) {
	t.Parallel()

	masters := []domain.LocationMaster{
		{ID: "a", Name: "A号ハウス"},
		{ID: "b", Name: "山の上の畑", Aliases: []string{"上の畑"}},
	}
	cases := []struct {
		name   string
		wantID string
		ok     bool
	}{
		{name: "Ａ号ハウス", wantID: "a", ok: true},
		{name: "A号 ハウス", wantID: "a", ok: true},
		{name: "上の畑", wantID: "b", ok: true},
		{name: "B号ハウス", ok: false},
		{name: " ", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := MatchLocation(masters, tc.name)
			if ok != tc.ok || got.ID != tc.wantID {
				t.Fatalf("MatchLocation(%q) = %q, %v; want %q, %v", tc.name, got.ID, ok, tc.wantID, tc.ok)
			}
		})
	}
}

func TestFinalizeWritesMoodForDistress(t *testing.T) {
	t.Parallel()

	moods := &fakeMoods{}
	memory := &fakeMemory{}
	f := newTestFinalizer(&fakeRecords{}, nil, WithMoodLog(moods), WithSessionMemory(memory))

	analysis := domain.EmotionAnalysis{
		Tier:  2,
		Score: 4,
		Signals: []domain.EmotionSignal{
			{Category: domain.CategoryPhysical, Phrase: "腰が痛い", Weight: 2},
			{Category: domain.CategoryPhysical, Phrase: "疲れた", Weight: 1},
			{Category: domain.CategoryIsolation, Phrase: "ひとり", Weight: 1},
		},
	}
	_, err := f.Finalize(context.Background(), Draft{Date: "2026-05-12", Slots: domain.Slots{WorkLog: "収穫"}, Risk: analysis})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	want := []domain.MoodEntry{{
		Date:       "2026-05-12",
		Timestamp:  fixedNow,
		Tier:       2,
		Score:      4,
		Categories: []domain.EmotionCategory{domain.CategoryPhysical, domain.CategoryIsolation},
	}}
	if diff := cmp.Diff(want, moods.entries); diff != "" {
		t.Fatalf("mood entries mismatch (-want +got):\n%s", diff)
	}
	if !moods.prunedBefore.Equal(fixedNow.Add(-MoodRetention)) {
		t.Fatalf("unexpected prune cutoff %v", moods.prunedBefore)
	}
	if memory.saved == nil || memory.saved.Work != "収穫" {
		t.Fatalf("expected last session to be saved, got %+v", memory.saved)
	}
}

func TestFinalizeSkipsMoodForCalmSessions(t *testing.T) {
	t.Parallel()

	moods := &fakeMoods{}
	f := newTestFinalizer(&fakeRecords{}, nil, WithMoodLog(moods))
	if _, err := f.Finalize(context.Background(), Draft{Risk: domain.EmotionAnalysis{Tier: 1, Score: 1}}); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if len(moods.entries) != 0 {
		t.Fatalf("expected no mood entries, got %+v", moods.entries)
	}
}

func TestFinalizeReportsAppendFailure(t *testing.T) {
	t.Parallel()

	memory := &fakeMemory{}
	f := newTestFinalizer(&fakeRecords{err: errors.New("disk full")}, nil, WithSessionMemory(memory))
	_, err := f.Finalize(context.Background(), Draft{})
	if err == nil || err.Error() != "failed to append record: disk full" {
		t.Fatalf("unexpected error: %v", err)
	}
	if memory.saved != nil {
		t.Fatalf("last session must not be saved when the record fails")
	}
}

type fakeRecords struct {
	appended []domain.LocalRecord
	err      error
}

func (f *fakeRecords) AppendRecord(_ context.Context, record domain.LocalRecord) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, record)
	return nil
}

func (f *fakeRecords) ListRecords(context.Context, int) ([]domain.LocalRecord, error) {
	return f.appended, nil
}

func (f *fakeRecords) UnsyncedRecords(context.Context) ([]domain.LocalRecord, error) {
	return f.appended, nil
}

func (f *fakeRecords) MarkSynced(context.Context, string, time.Time) error { return nil }

type fakeLocations struct {
	masters []domain.LocationMaster
	created []domain.LocationMaster
}

func (f *fakeLocations) ListLocations(context.Context) ([]domain.LocationMaster, error) {
	return f.masters, nil
}

func (f *fakeLocations) CreateLocation(_ context.Context, location domain.LocationMaster) error {
	f.created = append(f.created, location)
	f.masters = append(f.masters, location)
	return nil
}

type fakeMoods struct {
	entries      []domain.MoodEntry
	prunedBefore time.Time
}

func (f *fakeMoods) AppendMood(_ context.Context, entry domain.MoodEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeMoods) PruneMoods(_ context.Context, before time.Time) (int64, error) {
	f.prunedBefore = before
	return 0, nil
}

type fakeMemory struct {
	saved *domain.LastSession
}

func (f *fakeMemory) SaveLastSession(_ context.Context, session domain.LastSession) error {
	f.saved = &session
	return nil
}

func (f *fakeMemory) LastSession(context.Context) (domain.LastSession, bool, error) {
	if f.saved == nil {
		return domain.LastSession{}, false, nil
	}
	return *f.saved, true, nil
}
