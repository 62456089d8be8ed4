package monitor

import (
	"time"

	"github.com/google/uuid"
)

// TestRecord is one conformity outcome. Records are immutable once created.
type TestRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Result     Result    `json:"result"`
	DistanceCM float64   `json:"distance_cm"`
	// Source says what produced the record: an automatic evaluation, a
	// device token, or a manual trigger.
	Source Source `json:"source"`
}

// Conforme reports whether the record is a PASS.
func (r TestRecord) Conforme() bool { return r.Result.Conforme() }

// Source identifies what produced a TestRecord.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceDevice Source = "device"
	SourceManual Source = "manual"
)

// StatsSnapshot is a read-only view of the pass/fail counters.
type StatsSnapshot struct {
	PassCount   uint64  `json:"pass_count"`
	FailCount   uint64  `json:"fail_count"`
	Total       uint64  `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

// SessionStats counts results and keeps the ordered test log. Like
// DistanceTracker it relies on the Controller for synchronisation.
type SessionStats struct {
	pass    uint64
	fail    uint64
	records []TestRecord
}

// NewSessionStats returns empty stats.
func NewSessionStats() *SessionStats {
	return &SessionStats{}
}

// RecordResult appends a record and bumps the matching counter.
func (s *SessionStats) RecordResult(result Result, distance float64, at time.Time, src Source) (TestRecord, StatsSnapshot) {
	rec := TestRecord{
		ID:         uuid.NewString(),
		Timestamp:  at,
		Result:     result,
		DistanceCM: distance,
		Source:     src,
	}
	s.records = append(s.records, rec)
	if result.Conforme() {
		s.pass++
	} else {
		s.fail++
	}
	return rec, s.Snapshot()
}

// Snapshot returns the counters and success rate (0 when no tests ran).
func (s *SessionStats) Snapshot() StatsSnapshot {
	total := s.pass + s.fail
	snap := StatsSnapshot{
		PassCount: s.pass,
		FailCount: s.fail,
		Total:     total,
	}
	if total > 0 {
		snap.SuccessRate = float64(s.pass) / float64(total)
	}
	return snap
}

// Records returns a copy of the log in insertion order.
func (s *SessionStats) Records() []TestRecord {
	out := make([]TestRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Reset clears the counters and the log.
func (s *SessionStats) Reset() {
	s.pass, s.fail = 0, 0
	s.records = nil
}
