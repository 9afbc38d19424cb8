package history

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Outcome is what happened to a relayed event.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeNotSent Outcome = "not_sent"
	OutcomeSkipped Outcome = "skipped"
)

const (
	// DefaultLimit is the number of entries Recent returns for a non-positive limit.
	DefaultLimit = 50

	// MaxLimit caps a single Recent query.
	MaxLimit = 500
)

// Entry is one delivery attempt.
type Entry struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	ReceivedAt time.Time `json:"received_at"`
	RecordedAt time.Time `json:"recorded_at"`
	Hashtag    string    `json:"hashtag,omitempty"`
	Threat     string    `json:"threat,omitempty"`
	Status     string    `json:"status,omitempty"`
	Location   string    `json:"location,omitempty"`
	Recipients int       `json:"recipients"`
	Message    string    `json:"message,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// row is the database shape of an Entry. Times are stored as unix milliseconds.
type row struct {
	ID         int64  `db:"id"`
	EventID    string `db:"event_id"`
	ReceivedAt int64  `db:"received_at"`
	RecordedAt int64  `db:"recorded_at"`
	Hashtag    string `db:"hashtag"`
	Threat     string `db:"threat"`
	Status     string `db:"status"`
	Location   string `db:"location"`
	Recipients int    `db:"recipients"`
	Message    string `db:"message"`
	Outcome    string `db:"outcome"`
	Error      string `db:"error"`
}

func (r row) entry() Entry {
	return Entry{
		ID:         r.ID,
		EventID:    r.EventID,
		ReceivedAt: time.UnixMilli(r.ReceivedAt).UTC(),
		RecordedAt: time.UnixMilli(r.RecordedAt).UTC(),
		Hashtag:    r.Hashtag,
		Threat:     r.Threat,
		Status:     r.Status,
		Location:   r.Location,
		Recipients: r.Recipients,
		Message:    r.Message,
		Outcome:    Outcome(r.Outcome),
		Error:      r.Error,
	}
}

// Store keeps the delivery history in a SQLite database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create history directory %s", dir)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}

	// One writer at a time; workers record concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run history migrations")
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.Get(&version, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return version, errors.Wrap(err, "failed to read schema version")
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return errors.Wrap(err, "failed to check schema_version table")
	}

	if tableCount > 0 {
		if currentVersion, err = s.SchemaVersion(); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return errors.Wrapf(err, "failed to apply migration v%d", m.version)
		}
	}

	return nil
}

// Record stores entry. A zero RecordedAt is set to the current time.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if entry.EventID == "" {
		return 0, errors.New("event id is required")
	}
	if entry.Outcome == "" {
		return 0, errors.New("outcome is required")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.now()
	}

	result, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deliveries (
			event_id, received_at, recorded_at, hashtag, threat, status,
			location, recipients, message, outcome, error
		) VALUES (
			:event_id, :received_at, :recorded_at, :hashtag, :threat, :status,
			:location, :recipients, :message, :outcome, :error
		)`,
		row{
			EventID:    entry.EventID,
			ReceivedAt: entry.ReceivedAt.UnixMilli(),
			RecordedAt: entry.RecordedAt.UnixMilli(),
			Hashtag:    entry.Hashtag,
			Threat:     entry.Threat,
			Status:     entry.Status,
			Location:   entry.Location,
			Recipients: entry.Recipients,
			Message:    entry.Message,
			Outcome:    string(entry.Outcome),
			Error:      entry.Error,
		})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to record delivery of event %s", entry.EventID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read inserted delivery id")
	}
	return id, nil
}

// Recent returns up to limit entries, newest first. The limit is clamped to [1, MaxLimit];
// non-positive values use DefaultLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, event_id, received_at, recorded_at, hashtag, threat, status,
			location, recipients, message, outcome, error
		FROM deliveries
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query delivery history")
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

// CountByOutcome returns how many entries were recorded per outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[Outcome]int, error) {
	var rows []struct {
		Outcome string `db:"outcome"`
		Count   int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT outcome, COUNT(*) AS count FROM deliveries GROUP BY outcome")
	if err != nil {
		return nil, errors.Wrap(err, "failed to count deliveries")
	}

	counts := make(map[Outcome]int, len(rows))
	for _, r := range rows {
		counts[Outcome(r.Outcome)] = r.Count
	}
	return counts, nil
}
