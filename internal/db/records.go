package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Tests   int       `json:"tests"`
	Passed  int       `json:"passed"`
	Failed  int       `json:"failed"`
}

// ConnectionEntry is one persisted connection state change.
type ConnectionEntry struct {
	SessionID string          `json:"session_id"`
	Time      time.Time       `json:"time"`
	State     serialmux.State `json:"state"`
	Port      string          `json:"port"`
	BaudRate  int             `json:"baud_rate"`
	Error     string          `json:"error,omitempty"`
}

// EnsureSession creates the session row if it does not exist yet.
func (db *DB) EnsureSession(id string, started time.Time) error {
	_, err := db.Exec(
		`INSERT OR IGNORE INTO sessions (session_id, started_unix_nanos) VALUES (?, ?)`,
		id, started.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

// RecordTest stores a test record under sessionID. Storing the same record
// twice is a no-op.
func (db *DB) RecordTest(sessionID string, rec monitor.TestRecord) error {
	if err := db.EnsureSession(sessionID, rec.Timestamp); err != nil {
		return err
	}
	_, err := db.Exec(
		`INSERT OR IGNORE INTO tests (
			test_id, session_id, recorded_unix_nanos, result, distance_cm, source
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, sessionID, rec.Timestamp.UnixNano(), string(rec.Result), rec.DistanceCM, string(rec.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to record test %s: %w", rec.ID, err)
	}
	return nil
}

// Tests returns a session's records oldest first. A limit <= 0 returns
// them all; otherwise the most recent limit records are returned.
func (db *DB) Tests(sessionID string, limit int) ([]monitor.TestRecord, error) {
	query := `SELECT test_id, recorded_unix_nanos, result, distance_cm, source
	          FROM tests WHERE session_id = ?
	          ORDER BY recorded_unix_nanos ASC, rowid ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT test_id, recorded_unix_nanos, result, distance_cm, source, rowid AS rid
			FROM tests WHERE session_id = ?
			ORDER BY recorded_unix_nanos DESC, rowid DESC LIMIT ?
		) ORDER BY recorded_unix_nanos ASC, rid ASC`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tests: %w", err)
	}
	defer rows.Close()

	records := []monitor.TestRecord{}
	for rows.Next() {
		var (
			rec    monitor.TestRecord
			nanos  int64
			result string
			source string
			rid    int64
		)
		dest := []any{&rec.ID, &nanos, &result, &rec.DistanceCM, &source}
		if limit > 0 {
			dest = append(dest, &rid)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		rec.Timestamp = time.Unix(0, nanos).UTC()
		rec.Result = monitor.Result(result)
		rec.Source = monitor.Source(source)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Sessions lists sessions newest first with their pass/fail counts.
func (db *DB) Sessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT s.session_id, s.started_unix_nanos,
		       COUNT(t.test_id),
		       COALESCE(SUM(CASE WHEN t.result = 'PASS' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.result = 'FAIL' THEN 1 ELSE 0 END), 0)
		FROM sessions s
		LEFT JOIN tests t ON t.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionSummary{}
	for rows.Next() {
		var s SessionSummary
		var nanos int64
		if err := rows.Scan(&s.ID, &nanos, &s.Tests, &s.Passed, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Started = time.Unix(0, nanos).UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordConnection appends a connection state change to the log.
func (db *DB) RecordConnection(sessionID string, at time.Time, info monitor.ConnectionInfo) error {
	_, err := db.Exec(
		`INSERT INTO connection_log (session_id, unix_nanos, state, port, baud_rate, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, at.UnixNano(), string(info.State), info.Port, info.BaudRate, nullString(info.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record connection change: %w", err)
	}
	return nil
}

// ConnectionLog returns the most recent connection changes, newest first.
func (db *DB) ConnectionLog(limit int) ([]ConnectionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id, unix_nanos, state, COALESCE(port, ''), COALESCE(baud_rate, 0), COALESCE(error, '')
		FROM connection_log ORDER BY log_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection log: %w", err)
	}
	defer rows.Close()

	entries := []ConnectionEntry{}
	for rows.Next() {
		var e ConnectionEntry
		var nanos int64
		var state string
		if err := rows.Scan(&e.SessionID, &nanos, &state, &e.Port, &e.BaudRate, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan connection entry: %w", err)
		}
		e.Time = time.Unix(0, nanos).UTC()
		e.State = serialmux.State(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
