package db

import (
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEmbeddedMigrations(t *testing.T) {
	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS: %v", err)
	}
	ups, err := fs.Glob(migFS, "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	downs, _ := fs.Glob(migFS, "*.down.sql")
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Errorf("up migrations %v do not pair with down migrations %v", ups, downs)
	}
}

func TestNewDBMigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}

	// reopening an up-to-date database is a no-op
	path := db.Path()
	db.Close()
	again, err := NewDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatal(err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatal(err)
	}
	if busyTimeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func testRecord(id string, at time.Time, result monitor.Result, cm float64) monitor.TestRecord {
	return monitor.TestRecord{
		ID:         id,
		Timestamp:  at,
		Result:     result,
		DistanceCM: cm,
		Source:     monitor.SourceAuto,
	}
}

func TestRecordAndListTests(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	recs := []monitor.TestRecord{
		testRecord("a", base, monitor.Pass, 20),
		testRecord("b", base.Add(time.Second), monitor.Fail, 70.5),
		testRecord("c", base.Add(2*time.Second), monitor.Pass, 33.3),
	}
	for _, r := range recs {
		if err := db.RecordTest("s1", r); err != nil {
			t.Fatalf("RecordTest: %v", err)
		}
	}
	// duplicates are ignored
	if err := db.RecordTest("s1", recs[0]); err != nil {
		t.Fatalf("RecordTest duplicate: %v", err)
	}
	if err := db.RecordTest("s2", testRecord("d", base.Add(time.Hour), monitor.Fail, 5)); err != nil {
		t.Fatal(err)
	}

	got, err := db.Tests("s1", 0)
	if err != nil {
		t.Fatalf("Tests: %v", err)
	}
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Errorf("Tests mismatch (-want +got):\n%s", diff)
	}

	latest, err := db.Tests("s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(recs[1:], latest); diff != "" {
		t.Errorf("limited Tests mismatch (-want +got):\n%s", diff)
	}

	none, err := db.Tests("missing", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("Tests(missing) = %v, %v", none, err)
	}
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	if err := db.EnsureSession("empty", base.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	db.RecordTest("s1", testRecord("a", base, monitor.Pass, 20))
	db.RecordTest("s1", testRecord("b", base.Add(time.Second), monitor.Fail, 80))
	db.RecordTest("s1", testRecord("c", base.Add(2*time.Second), monitor.Pass, 21))

	got, err := db.Sessions(0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	want := []SessionSummary{
		{ID: "s1", Started: base, Tests: 3, Passed: 2, Failed: 1},
		{ID: "empty", Started: base.Add(-time.Hour)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectionLog(t *testing.T) {
	db := newTestDB(t)
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	db.RecordConnection("s1", at, monitor.ConnectionInfo{State: serialmux.StateConnected, Port: "COM1", BaudRate: 9600})
	db.RecordConnection("s1", at.Add(time.Minute), monitor.ConnectionInfo{State: serialmux.StateDisconnected, Port: "COM1", BaudRate: 9600, Error: "gone"})

	got, err := db.ConnectionLog(0)
	if err != nil {
		t.Fatal(err)
	}
	want := []ConnectionEntry{
		{SessionID: "s1", Time: at.Add(time.Minute), State: serialmux.StateDisconnected, Port: "COM1", BaudRate: 9600, Error: "gone"},
		{SessionID: "s1", Time: at, State: serialmux.StateConnected, Port: "COM1", BaudRate: 9600},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ConnectionLog mismatch (-want +got):\n%s", diff)
	}
}
