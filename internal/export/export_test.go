package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
)

var start = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

func sampleData() monitor.ExportData {
	return monitor.ExportData{
		Session: monitor.SessionInfo{
			ID:         "session-1",
			Start:      start,
			ExportTime: start.Add(time.Hour),
		},
		Records: []monitor.TestRecord{
			{ID: "a", Timestamp: start.Add(time.Second), Result: monitor.Pass, DistanceCM: 23.5, Source: monitor.SourceAuto},
			{ID: "b", Timestamp: start.Add(2 * time.Second), Result: monitor.Fail, DistanceCM: 61, Source: monitor.SourceDevice},
		},
		Stats: monitor.StatsSnapshot{PassCount: 1, FailCount: 1, Total: 2, SuccessRate: 0.5},
		Distance: monitor.DistanceSnapshot{
			Current:  61,
			History:  []float64{23.5, 61},
			Capacity: 100,
			Accepted: 2,
			Stats:    &monitor.HistoryStats{Count: 2, Min: 23.5, Max: 61, Avg: 42.25, StdDev: 26.5},
		},
		Thresholds: monitor.DefaultThresholds(),
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleData()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "Timestamp,Result,Conforme,Distance_cm\n" +
		"2026-07-01 09:30:01,PASS,True,23.5\n" +
		"2026-07-01 09:30:02,FAIL,False,61\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleData()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	startText := "2026-07-01T09:30:00Z"
	want := Document{
		SessionInfo: SessionInfo{
			SessionID:        "session-1",
			StartTime:        &startText,
			ExportTime:       "2026-07-01T10:30:00Z",
			TotalTests:       2,
			ConformeCount:    1,
			NonConformeCount: 1,
			SuccessRate:      50,
		},
		DistanceStats: DistanceStats{
			CurrentDistance: 61,
			MinDistance:     23.5,
			MaxDistance:     61,
			AvgDistance:     42.25,
			StdDev:          26.5,
			Thresholds:      monitor.Thresholds{Min: 10, Max: 50},
		},
		Tests: []Test{
			{ID: "a", Timestamp: "2026-07-01T09:30:01Z", Result: "PASS", Conforme: true, DistanceCM: 23.5, Source: "auto"},
			{ID: "b", Timestamp: "2026-07-01T09:30:02Z", Result: "FAIL", Conforme: false, DistanceCM: 61, Source: "device"},
		},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}
}

func TestNewDocumentWithoutSessionStartOrHistory(t *testing.T) {
	data := sampleData()
	data.Session.Start = time.Time{}
	data.Distance = monitor.DistanceSnapshot{}

	doc := NewDocument(data)
	if doc.SessionInfo.StartTime != nil {
		t.Errorf("StartTime = %q, want null", *doc.SessionInfo.StartTime)
	}
	if doc.DistanceStats.MinDistance != 0 || doc.DistanceStats.AvgDistance != 0 {
		t.Errorf("stats should be zero without history: %+v", doc.DistanceStats)
	}
}

func TestExportWithoutRecords(t *testing.T) {
	data := sampleData()
	data.Records = nil

	var buf bytes.Buffer
	if err := WriteCSV(&buf, data); !errors.Is(err, ErrNoData) {
		t.Errorf("WriteCSV err = %v, want ErrNoData", err)
	}
	if err := WriteJSON(&buf, data); !errors.Is(err, ErrNoData) {
		t.Errorf("WriteJSON err = %v, want ErrNoData", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for an empty export", buf.Len())
	}
}

func TestWritePlot(t *testing.T) {
	data := sampleData()
	var buf bytes.Buffer
	if err := WritePlot(&buf, data.Distance, data.Thresholds); err != nil {
		t.Fatalf("WritePlot: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		t.Errorf("empty image bounds %v", b)
	}

	if err := WritePlot(&buf, monitor.DistanceSnapshot{}, data.Thresholds); !errors.Is(err, ErrNoData) {
		t.Errorf("empty history err = %v, want ErrNoData", err)
	}
}

func TestFilename(t *testing.T) {
	if got, want := Filename(start, "csv"), "ultrasonic_tests_20260701_093000.csv"; got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}
