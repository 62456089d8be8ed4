// Package export renders a monitoring session for download.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
)

// ErrNoData is returned when there are no test records to export.
var ErrNoData = errors.New("no tests to export")

// TimestampLayout is the CSV timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// CSVHeader is the header row of a CSV export.
var CSVHeader = []string{"Timestamp", "Result", "Conforme", "Distance_cm"}

// WriteCSV writes one row per test record.
func WriteCSV(w io.Writer, data monitor.ExportData) error {
	if len(data.Records) == 0 {
		return ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, rec := range data.Records {
		row := []string{
			rec.Timestamp.Format(TimestampLayout),
			string(rec.Result),
			conformeText(rec.Conforme()),
			strconv.FormatFloat(rec.DistanceCM, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// conformeText keeps the capitalised booleans existing spreadsheets were
// built against.
func conformeText(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Document is the JSON export layout.
type Document struct {
	SessionInfo   SessionInfo   `json:"session_info"`
	DistanceStats DistanceStats `json:"distance_stats"`
	Tests         []Test        `json:"tests"`
}

type SessionInfo struct {
	SessionID        string  `json:"session_id"`
	StartTime        *string `json:"start_time"`
	ExportTime       string  `json:"export_time"`
	TotalTests       int     `json:"total_tests"`
	ConformeCount    uint64  `json:"conforme_count"`
	NonConformeCount uint64  `json:"non_conforme_count"`
	// SuccessRate is a percentage.
	SuccessRate float64 `json:"success_rate"`
}

type DistanceStats struct {
	CurrentDistance float64            `json:"current_distance"`
	MinDistance     float64            `json:"min_distance"`
	MaxDistance     float64            `json:"max_distance"`
	AvgDistance     float64            `json:"avg_distance"`
	StdDev          float64            `json:"std_dev"`
	Thresholds      monitor.Thresholds `json:"thresholds"`
}

type Test struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Result     string  `json:"result"`
	Conforme   bool    `json:"conforme"`
	DistanceCM float64 `json:"distance_cm"`
	Source     string  `json:"source"`
}

// NewDocument converts export data to the JSON layout. Missing history
// statistics are reported as zero.
func NewDocument(data monitor.ExportData) Document {
	doc := Document{
		SessionInfo: SessionInfo{
			SessionID:        data.Session.ID,
			ExportTime:       data.Session.ExportTime.Format(time.RFC3339),
			TotalTests:       len(data.Records),
			ConformeCount:    data.Stats.PassCount,
			NonConformeCount: data.Stats.FailCount,
			SuccessRate:      data.Stats.SuccessRate * 100,
		},
		DistanceStats: DistanceStats{
			CurrentDistance: data.Distance.Current,
			Thresholds:      data.Thresholds,
		},
		Tests: make([]Test, 0, len(data.Records)),
	}
	if !data.Session.Start.IsZero() {
		start := data.Session.Start.Format(time.RFC3339)
		doc.SessionInfo.StartTime = &start
	}
	if s := data.Distance.Stats; s != nil {
		doc.DistanceStats.MinDistance = s.Min
		doc.DistanceStats.MaxDistance = s.Max
		doc.DistanceStats.AvgDistance = s.Avg
		doc.DistanceStats.StdDev = s.StdDev
	}
	for _, rec := range data.Records {
		doc.Tests = append(doc.Tests, Test{
			ID:         rec.ID,
			Timestamp:  rec.Timestamp.Format(time.RFC3339),
			Result:     string(rec.Result),
			Conforme:   rec.Conforme(),
			DistanceCM: rec.DistanceCM,
			Source:     string(rec.Source),
		})
	}
	return doc
}

// WriteJSON writes the session as an indented JSON document.
func WriteJSON(w io.Writer, data monitor.ExportData) error {
	if len(data.Records) == 0 {
		return ErrNoData
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(data)); err != nil {
		return fmt.Errorf("failed to encode json export: %w", err)
	}
	return nil
}

// Filename suggests a download name such as
// "ultrasonic_tests_20260102_150405.csv".
func Filename(at time.Time, ext string) string {
	return fmt.Sprintf("ultrasonic_tests_%s.%s", at.Format("20060102_150405"), ext)
}
