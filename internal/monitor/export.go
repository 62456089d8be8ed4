package monitor

import "time"

// SessionInfo identifies the session an export belongs to.
type SessionInfo struct {
	ID         string    `json:"id"`
	Start      time.Time `json:"start"`
	ExportTime time.Time `json:"export_time"`
}

// ExportData is everything an exporter needs, taken atomically.
type ExportData struct {
	Session    SessionInfo      `json:"session"`
	Records    []TestRecord     `json:"records"`
	Stats      StatsSnapshot    `json:"stats"`
	Distance   DistanceSnapshot `json:"distance"`
	Thresholds Thresholds       `json:"thresholds"`
}

// ExportData returns the test log with the stats and distance snapshots it
// was taken alongside.
func (c *Controller) ExportData() ExportData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ExportData{
		Session: SessionInfo{
			ID:         c.sessionID,
			Start:      c.sessionStart,
			ExportTime: c.clock.Now(),
		},
		Records:    c.stats.Records(),
		Stats:      c.stats.Snapshot(),
		Distance:   c.tracker.Snapshot(),
		Thresholds: c.thresholds,
	}
}
