package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"parley.ai/internal/game"
)

// SQLiteIndex is a secondary index of processed events. Writes go through
// a single writer goroutine fed by a buffered channel so the engine never
// blocks on the database.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan game.EventRecord
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: deep reaction chains can record many events in a
		// burst without stalling the run loop.
		ch: make(chan game.EventRecord, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY,
	kind     TEXT NOT NULL,
	source   TEXT NOT NULL,
	at       TEXT NOT NULL,
	blocks   TEXT,
	requires TEXT,
	visible  TEXT,
	content  TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
`
	_, err := db.Exec(schema)
	return err
}

// RecordEvent implements game.EventSink. Non-blocking: if the buffer is
// full or the index is closed the record is counted as dropped.
func (s *SQLiteIndex) RecordEvent(rec game.EventRecord) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records were lost to backpressure.
func (s *SQLiteIndex) Dropped() int64 { return s.dropped.Load() }

// Close stops intake, drains what was already queued, and closes the db.
func (s *SQLiteIndex) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
	s.wg.Wait()
	return s.db.Close()
}

func (s *SQLiteIndex) loop() {
	for rec := range s.ch {
		s.insert(rec)
	}
}

func (s *SQLiteIndex) insert(rec game.EventRecord) {
	blocks, _ := json.Marshal(rec.Blocks)
	requires, _ := json.Marshal(rec.Requires)
	visible, _ := json.Marshal(rec.Visible)
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO events (id, kind, source, at, blocks, requires, visible, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Source, rec.At, string(blocks), string(requires), string(visible), rec.Content,
	)
}

// EventCount returns the number of indexed events.
func (s *SQLiteIndex) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// EventsByKind returns indexed events of one kind, ordered by id.
func (s *SQLiteIndex) EventsByKind(kind string) ([]game.EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, source, at, blocks, requires, visible, content FROM events WHERE kind = ? ORDER BY id`,
		kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.EventRecord
	for rows.Next() {
		var rec game.EventRecord
		var blocks, requires, visible string
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Source, &rec.At, &blocks, &requires, &visible, &rec.Content); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(blocks), &rec.Blocks)
		_ = json.Unmarshal([]byte(requires), &rec.Requires)
		_ = json.Unmarshal([]byte(visible), &rec.Visible)
		out = append(out, rec)
	}
	return out, rows.Err()
}
