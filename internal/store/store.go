// Package store persists a host's event chain, its latest state and the
// donation day totals in SQLite. The events table is append-only: triggers
// reject every UPDATE and DELETE.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/hostguard/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	host_id         TEXT NOT NULL,
	prev_state_hash TEXT NOT NULL,
	new_state_hash  TEXT NOT NULL,
	kind            TEXT NOT NULL,
	attested_by     TEXT NOT NULL,
	ts              TEXT NOT NULL,
	adjustment_json TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_host ON events(host_id, seq);

CREATE TRIGGER IF NOT EXISTS events_no_update
BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS events_no_delete
BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TABLE IF NOT EXISTS latest_state (
	host_id    TEXT PRIMARY KEY,
	state_json TEXT NOT NULL,
	state_hash TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS donation_days (
	host_id TEXT NOT NULL,
	day     TEXT NOT NULL,
	donated INTEGER NOT NULL,
	PRIMARY KEY (host_id, day)
);
`

// ErrChainBreak is returned when an appended event does not link to the
// stored chain tail.
var ErrChainBreak = errors.New("store: event does not link to chain tail")

// Store is the SQLite persistence layer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendEvent stores ev and the state it produced in one transaction.
// It satisfies ledger.Journal. The event must link to the stored tail.
func (s *Store) AppendEvent(ev model.LedgerEvent, state model.VitalsState) error {
	adjJSON, err := json.Marshal(ev.Adjustment)
	if err != nil {
		return fmt.Errorf("store: marshal adjustment: %w", err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var tail string
	err = tx.QueryRow(
		`SELECT new_state_hash FROM events WHERE host_id = ? ORDER BY seq DESC LIMIT 1`,
		ev.HostID,
	).Scan(&tail)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("store: read tail: %w", err)
	case tail != ev.PrevStateHash:
		return fmt.Errorf("%w: tail %s, prev %s", ErrChainBreak, tail, ev.PrevStateHash)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = tx.Exec(
		`INSERT INTO events (host_id, prev_state_hash, new_state_hash, kind, attested_by, ts, adjustment_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.HostID, ev.PrevStateHash, ev.NewStateHash, string(ev.Kind), ev.AttestedBy, ev.TimestampUTC, string(adjJSON), now,
	)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO latest_state (host_id, state_json, state_hash, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(host_id) DO UPDATE SET state_json = excluded.state_json,
		 state_hash = excluded.state_hash, updated_at = excluded.updated_at`,
		ev.HostID, string(stateJSON), ev.NewStateHash, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// LoadEvents returns the chain of hostID in append order.
func (s *Store) LoadEvents(hostID string) ([]model.LedgerEvent, error) {
	rows, err := s.db.Query(
		`SELECT host_id, prev_state_hash, new_state_hash, kind, attested_by, ts, adjustment_json
		 FROM events WHERE host_id = ? ORDER BY seq`, hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var events []model.LedgerEvent
	for rows.Next() {
		var ev model.LedgerEvent
		var kind, adjJSON string
		if err := rows.Scan(&ev.HostID, &ev.PrevStateHash, &ev.NewStateHash, &kind, &ev.AttestedBy, &ev.TimestampUTC, &adjJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		if err := json.Unmarshal([]byte(adjJSON), &ev.Adjustment); err != nil {
			return nil, fmt.Errorf("store: unmarshal adjustment: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return events, nil
}

// LoadState returns the latest stored state of hostID and its hash.
// ok is false when nothing was stored yet.
func (s *Store) LoadState(hostID string) (state model.VitalsState, hash string, ok bool, err error) {
	var stateJSON string
	err = s.db.QueryRow(
		`SELECT state_json, state_hash FROM latest_state WHERE host_id = ?`, hostID,
	).Scan(&stateJSON, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VitalsState{}, "", false, nil
	}
	if err != nil {
		return model.VitalsState{}, "", false, fmt.Errorf("store: get state: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return model.VitalsState{}, "", false, fmt.Errorf("store: unmarshal state: %w", err)
	}
	return state, hash, true, nil
}

// DonatedOn returns the donation total of hostID on day. It satisfies
// donation.DayStore.
func (s *Store) DonatedOn(hostID, day string) (uint64, error) {
	var donated int64
	err := s.db.QueryRow(
		`SELECT donated FROM donation_days WHERE host_id = ? AND day = ?`, hostID, day,
	).Scan(&donated)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get donation day: %w", err)
	}
	return uint64(donated), nil
}

// SaveDonated records the donation total of hostID on day.
func (s *Store) SaveDonated(hostID, day string, total uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO donation_days (host_id, day, donated) VALUES (?, ?, ?)
		 ON CONFLICT(host_id, day) DO UPDATE SET donated = excluded.donated`,
		hostID, day, int64(total),
	)
	if err != nil {
		return fmt.Errorf("store: save donation day: %w", err)
	}
	return nil
}
