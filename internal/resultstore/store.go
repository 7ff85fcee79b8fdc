// Package resultstore keeps a history of published recognition results in
// SQLite.
package resultstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists result sets
type Store struct {
	db *sql.DB
}

// Record is one stored result set
type Record struct {
	ID       string        `json:"id"`
	StoredAt time.Time     `json:"stored_at"`
	Results  types.Results `json:"results"`
}

// SessionSummary aggregates the results of one session
type SessionSummary struct {
	Session    string    `json:"session"`
	Results    int       `json:"results"`
	Regions    int       `json:"regions"`
	FirstFrame uint64    `json:"first_frame"`
	LastFrame  uint64    `json:"last_frame"`
	Tracking   bool      `json:"tracking"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Open opens or creates the database at path and migrates it to the latest schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure result store: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = logger.MigrateLogger{Module: "ResultStore"}
	// Closing m would close db as well.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Debug("ResultStore", "Schema at version %d", version)
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores one result set with its regions
func (s *Store) Insert(results types.Results) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO results (id, session, mode, frame_number, captured_at, stored_at, region_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, results.Session, results.Mode.String(), int64(results.FrameNumber),
		results.Timestamp.UnixNano(), time.Now().UnixNano(), results.Len(), string(payload))
	if err != nil {
		return fmt.Errorf("insert results: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO regions (result_id, idx, class_id, seed, x, y, width, height, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare regions: %w", err)
	}
	defer stmt.Close()

	if results.Mode == types.ModeTracking {
		for i, t := range results.Trackings {
			classID := -1
			if t.Seed >= 0 && t.Seed < len(results.Seeds) {
				classID = results.Seeds[t.Seed].ClassID
			}
			if _, err := stmt.Exec(id, i, classID, t.Seed, t.Rect.X, t.Rect.Y, t.Rect.Width, t.Rect.Height, t.Confidence); err != nil {
				return fmt.Errorf("insert tracking region %d: %w", i, err)
			}
		}
	} else {
		for i, l := range results.Localizations {
			if _, err := stmt.Exec(id, i, l.ClassID, -1, l.Rect.X, l.Rect.Y, l.Rect.Width, l.Rect.Height, l.Confidence); err != nil {
				return fmt.Errorf("insert localization region %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}
	return nil
}

// Recent returns up to limit result sets, newest first
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, stored_at, payload FROM results
		ORDER BY stored_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			storedAt int64
			payload  string
		)
		if err := rows.Scan(&rec.ID, &storedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Results); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", rec.ID, err)
		}
		rec.StoredAt = time.Unix(0, storedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sessions summarizes every stored session, most recent first
func (s *Store) Sessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT session,
		       COUNT(*),
		       COALESCE(SUM(region_count), 0),
		       MIN(frame_number),
		       MAX(frame_number),
		       MAX(CASE WHEN mode = 'tracking' THEN 1 ELSE 0 END),
		       MIN(stored_at),
		       MAX(stored_at)
		FROM results
		GROUP BY session
		ORDER BY MAX(stored_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum                 SessionSummary
			first, last         int64
			tracking            int
			firstSeen, lastSeen int64
		)
		if err := rows.Scan(&sum.Session, &sum.Results, &sum.Regions, &first, &last, &tracking, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.FirstFrame = uint64(first)
		sum.LastFrame = uint64(last)
		sum.Tracking = tracking == 1
		sum.FirstSeen = time.Unix(0, firstSeen)
		sum.LastSeen = time.Unix(0, lastSeen)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ClassCounts returns how many localized regions each class id has in a session
func (s *Store) ClassCounts(session string) (map[int]int, error) {
	rows, err := s.db.Query(`
		SELECT r.class_id, COUNT(*)
		FROM regions r JOIN results res ON res.id = r.result_id
		WHERE res.session = ? AND res.mode = 'localizing'
		GROUP BY r.class_id`, session)
	if err != nil {
		return nil, fmt.Errorf("query class counts: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var id, n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan class count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// SetSessionClasses records the engine vocabulary a session labels regions with
func (s *Store) SetSessionClasses(session string, names []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin session classes: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_classes WHERE session = ?`, session); err != nil {
		return fmt.Errorf("clear session classes: %w", err)
	}
	for id, name := range names {
		if _, err := tx.Exec(`INSERT INTO session_classes (session, class_id, name) VALUES (?, ?, ?)`,
			session, id, name); err != nil {
			return fmt.Errorf("insert session class %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session classes: %w", err)
	}
	return nil
}

// SessionClasses returns the vocabulary stored for a session, indexed by
// class id. Missing ids are empty strings; nil means none was stored.
func (s *Store) SessionClasses(session string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT class_id, name FROM session_classes
		WHERE session = ? ORDER BY class_id`, session)
	if err != nil {
		return nil, fmt.Errorf("query session classes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan session class: %w", err)
		}
		if id < 0 {
			continue
		}
		for len(names) <= id {
			names = append(names, "")
		}
		names[id] = name
	}
	return names, rows.Err()
}
