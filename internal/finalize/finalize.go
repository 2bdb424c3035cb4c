// Package finalize turns a confirmed interview into an immutable record and updates the
// auxiliary stores that remember it.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/text/width"

	"agrivoice/internal/domain"
	"agrivoice/internal/logging"
	"agrivoice/internal/ports"
	"agrivoice/internal/slots"
)

// MoodRetention is how long mood entries are kept.
const MoodRetention = 90 * 24 * time.Hour

// Draft is the confirmed session content handed over on save.
type Draft struct {
	Date           string
	Location       string
	Slots          domain.Slots
	Items          []domain.ConfirmItem
	AdminLog       string
	AdminLogSource domain.AdminLogSource
	PhotoCount     int
	Transcript     string
	Risk           domain.EmotionAnalysis
	Weather        *domain.OutdoorWeather
}

// Finalizer persists drafts. Moods and Memory are optional.
type Finalizer struct {
	records   ports.RecordStore
	locations ports.LocationStore
	moods     ports.MoodLog
	memory    ports.SessionMemory
	now       func() time.Time
	newID     func() string
	log       *slog.Logger
}

// Option customizes a Finalizer.
type Option func(*Finalizer)

// WithMoodLog enables the mood log for tier-2 and tier-3 sessions.
func WithMoodLog(moods ports.MoodLog) Option {
	return func(f *Finalizer) { f.moods = moods }
}

// WithSessionMemory remembers each saved session for the next opening prompt.
func WithSessionMemory(memory ports.SessionMemory) Option {
	return func(f *Finalizer) { f.memory = memory }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) { f.now = now }
}

// WithIDs replaces the UUID generator.
func WithIDs(newID func() string) Option {
	return func(f *Finalizer) { f.newID = newID }
}

func New(records ports.RecordStore, locations ports.LocationStore, opts ...Option) *Finalizer {
	f := &Finalizer{
		records:   records,
		locations: locations,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logging.New("finalize"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize applies the edited rows, resolves the location and appends the record. Mood and
// session memory failures are logged and do not fail the save.
func (f *Finalizer) Finalize(ctx context.Context, d Draft) (domain.LocalRecord, error) {
	now := f.now()
	s := slots.ApplyConfirmItems(d.Items, d.Slots)

	location, locationID, err := f.resolveLocation(ctx, d.Location, now)
	if err != nil {
		return domain.LocalRecord{}, err
	}
	s.Location = location

	date := strings.TrimSpace(d.Date)
	if date == "" {
		date = now.Format(time.DateOnly)
	}
	adminLog := strings.TrimSpace(d.AdminLog)
	source := d.AdminLogSource
	if adminLog == "" {
		adminLog = slots.AdminLog(s, location, date)
		source = domain.AdminLogTemplate
	}

	record := domain.LocalRecord{
		ID:              f.newID(),
		Date:            date,
		Location:        location,
		LocationID:      locationID,
		Slots:           s,
		AdminLog:        adminLog,
		AdminLogSource:  source,
		Advice:          slots.Advice(s, slots.Confidence(s)),
		StrategicAdvice: slots.StrategicAdvice(s),
		PhotoCount:      d.PhotoCount,
		EstimatedProfit: slots.EstimateProfit(s).Total,
		RawTranscript:   strings.TrimSpace(d.Transcript),
		Timestamp:       now,
	}
	if err := f.records.AppendRecord(ctx, record); err != nil {
		return domain.LocalRecord{}, fmt.Errorf("failed to append record: %w", err)
	}

	if f.memory != nil {
		last := domain.LastSession{Location: location, Work: s.WorkLog, Date: date}
		if err := f.memory.SaveLastSession(ctx, last); err != nil {
			f.log.Warn("last session not saved", "error", err)
		}
	}
	if f.moods != nil && d.Risk.Tier >= 2 {
		f.recordMood(ctx, d, date, now)
	}
	f.log.Info("record saved", "id", record.ID, "location", location, "tier", d.Risk.Tier)
	return record, nil
}

func (f *Finalizer) recordMood(ctx context.Context, d Draft, date string, now time.Time) {
	entry := domain.MoodEntry{
		Date:       date,
		Timestamp:  now,
		Tier:       d.Risk.Tier,
		Score:      d.Risk.Score,
		Categories: d.Risk.Categories(),
		Weather:    d.Weather,
	}
	if err := f.moods.AppendMood(ctx, entry); err != nil {
		f.log.Warn("mood entry not saved", "error", err)
		return
	}
	if n, err := f.moods.PruneMoods(ctx, now.Add(-MoodRetention)); err != nil {
		f.log.Warn("mood prune failed", "error", err)
	} else if n > 0 {
		f.log.Debug("pruned mood entries", "count", n)
	}
}

// resolveLocation maps a spoken name onto the location master, creating an entry for names
// seen for the first time.
func (f *Finalizer) resolveLocation(ctx context.Context, name string, now time.Time) (string, string, error) {
	name = slots.SanitizeLocation(name)
	if name == "" {
		name = slots.DefaultLocation
	}
	if f.locations == nil {
		return name, "", nil
	}
	masters, err := f.locations.ListLocations(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list locations: %w", err)
	}
	if master, ok := MatchLocation(masters, name); ok {
		return master.Name, master.ID, nil
	}
	master := domain.LocationMaster{
		ID:        f.newID(),
		Name:      name,
		Aliases:   []string{},
		CreatedAt: now,
	}
	if err := f.locations.CreateLocation(ctx, master); err != nil {
		return "", "", fmt.Errorf("failed to create location: %w", err)
	}
	f.log.Info("location registered", "name", name)
	return master.Name, master.ID, nil
}

// MatchLocation finds the master whose name or alias equals name after width folding.
func MatchLocation(masters []domain.LocationMaster, name string) (domain.LocationMaster, bool) {
	key := FoldName(name)
	if key == "" {
		return domain.LocationMaster{}, false
	}
	return lo.Find(masters, func(m domain.LocationMaster) bool {
		if FoldName(m.Name) == key {
			return true
		}
		return lo.ContainsBy(m.Aliases, func(alias string) bool { return FoldName(alias) == key })
	})
}

// FoldName normalizes full-width ASCII and half-width kana and drops blanks.
func FoldName(name string) string {
	folded := width.Fold.String(name)
	return strings.Join(strings.Fields(folded), "")
}
