// Package store keeps the local record log, the location master, the mood log and the last
// session in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"agrivoice/internal/domain"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

// Store implements the record, location, mood and session ports on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema. The parent directory is
// created when missing.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; the record log assumes no concurrent writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// AppendRecord inserts record. Records are never updated afterwards.
func (s *Store) AppendRecord(ctx context.Context, record domain.LocalRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	record.Synced = false
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records(id, date, location, location_id, admin_log_source, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Date, record.Location, nullable(record.LocationID),
		string(record.AdminLogSource), string(payload), record.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

const recordColumns = `r.payload, sy.synced_at IS NOT NULL
	FROM records r LEFT JOIN record_sync sy ON sy.record_id = r.id`

// ListRecords returns the newest records first. limit <= 0 returns every record.
func (s *Store) ListRecords(ctx context.Context, limit int) ([]domain.LocalRecord, error) {
	query := "SELECT " + recordColumns + " ORDER BY r.seq DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// UnsyncedRecords returns the records without a sync marker, oldest first.
func (s *Store) UnsyncedRecords(ctx context.Context) ([]domain.LocalRecord, error) {
	return s.queryRecords(ctx, "SELECT "+recordColumns+" WHERE sy.record_id IS NULL ORDER BY r.seq ASC")
}

// Record returns one record by id.
func (s *Store) Record(ctx context.Context, id string) (domain.LocalRecord, error) {
	records, err := s.queryRecords(ctx, "SELECT "+recordColumns+" WHERE r.id = ?", id)
	if err != nil {
		return domain.LocalRecord{}, err
	}
	if len(records) == 0 {
		return domain.LocalRecord{}, ErrNotFound
	}
	return records[0], nil
}

// MarkSynced writes the sync marker of a record.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM records WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO record_sync(record_id, synced_at) VALUES(?, ?)",
		id, at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to mark record synced: %w", err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]domain.LocalRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []domain.LocalRecord
	for rows.Next() {
		var payload string
		var synced bool
		if err := rows.Scan(&payload, &synced); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var record domain.LocalRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		record.Synced = synced
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}

// ListLocations returns the location master ordered by creation.
func (s *Store) ListLocations(ctx context.Context) ([]domain.LocationMaster, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, aliases, created_at FROM locations ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var out []domain.LocationMaster
	for rows.Next() {
		var m domain.LocationMaster
		var aliases, created string
		if err := rows.Scan(&m.ID, &m.Name, &aliases, &created); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &m.Aliases); err != nil {
			return nil, fmt.Errorf("failed to decode aliases of %s: %w", m.Name, err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}
	return out, nil
}

// CreateLocation adds a location. The name must be unique.
func (s *Store) CreateLocation(ctx context.Context, location domain.LocationMaster) error {
	if location.ID == "" {
		location.ID = uuid.NewString()
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now()
	}
	aliases := location.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	encoded, err := json.Marshal(aliases)
	if err != nil {
		return fmt.Errorf("failed to encode aliases: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO locations(id, name, aliases, created_at) VALUES(?, ?, ?, ?)",
		location.ID, location.Name, string(encoded), location.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

// AddAlias appends an alias to the named location.
func (s *Store) AddAlias(ctx context.Context, name, alias string) error {
	var encoded string
	err := s.db.QueryRowContext(ctx, "SELECT aliases FROM locations WHERE name = ?", name).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("location %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up location: %w", err)
	}
	var aliases []string
	if err := json.Unmarshal([]byte(encoded), &aliases); err != nil {
		return fmt.Errorf("failed to decode aliases of %s: %w", name, err)
	}
	for _, existing := range aliases {
		if existing == alias {
			return nil
		}
	}
	next, err := json.Marshal(append(aliases, alias))
	if err != nil {
		return fmt.Errorf("failed to encode aliases: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE locations SET aliases = ? WHERE name = ?", string(next), name); err != nil {
		return fmt.Errorf("failed to update aliases: %w", err)
	}
	return nil
}

// AppendMood stores a mood entry.
func (s *Store) AppendMood(ctx context.Context, entry domain.MoodEntry) error {
	categories, err := json.Marshal(entry.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	var weather sql.NullString
	if entry.Weather != nil {
		encoded, err := json.Marshal(entry.Weather)
		if err != nil {
			return fmt.Errorf("failed to encode weather: %w", err)
		}
		weather = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO moods(date, ts, tier, score, categories, weather) VALUES(?, ?, ?, ?, ?, ?)",
		entry.Date, entry.Timestamp.UTC().Format(timeLayout), entry.Tier, entry.Score, string(categories), weather)
	if err != nil {
		return fmt.Errorf("failed to insert mood: %w", err)
	}
	return nil
}

// PruneMoods deletes entries recorded before the cutoff and reports how many were removed.
func (s *Store) PruneMoods(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM moods WHERE ts < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune moods: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned moods: %w", err)
	}
	return n, nil
}

// Moods returns the entries recorded at or after since, oldest first.
func (s *Store) Moods(ctx context.Context, since time.Time) ([]domain.MoodEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT date, ts, tier, score, categories, weather FROM moods WHERE ts >= ? ORDER BY ts",
		since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query moods: %w", err)
	}
	defer rows.Close()

	var out []domain.MoodEntry
	for rows.Next() {
		var e domain.MoodEntry
		var ts, categories string
		var weather sql.NullString
		if err := rows.Scan(&e.Date, &ts, &e.Tier, &e.Score, &categories, &weather); err != nil {
			return nil, fmt.Errorf("failed to scan mood: %w", err)
		}
		e.Timestamp = parseTime(ts)
		if err := json.Unmarshal([]byte(categories), &e.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
		if weather.Valid {
			e.Weather = &domain.OutdoorWeather{}
			if err := json.Unmarshal([]byte(weather.String), e.Weather); err != nil {
				return nil, fmt.Errorf("failed to decode weather: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read moods: %w", err)
	}
	return out, nil
}

// SaveLastSession replaces the remembered session.
func (s *Store) SaveLastSession(ctx context.Context, session domain.LastSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO last_session(id, location, work, date) VALUES(1, ?, ?, ?)",
		session.Location, session.Work, session.Date)
	if err != nil {
		return fmt.Errorf("failed to save last session: %w", err)
	}
	return nil
}

// LastSession returns the remembered session, if any.
func (s *Store) LastSession(ctx context.Context) (domain.LastSession, bool, error) {
	var last domain.LastSession
	err := s.db.QueryRowContext(ctx, "SELECT location, work, date FROM last_session WHERE id = 1").
		Scan(&last.Location, &last.Work, &last.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LastSession{}, false, nil
	}
	if err != nil {
		return domain.LastSession{}, false, fmt.Errorf("failed to read last session: %w", err)
	}
	return last, true, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
