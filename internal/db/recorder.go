package db

import (
	"context"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
)

// recorderBuffer is sized so a burst of samples does not outrun SQLite.
const recorderBuffer = 1024

// Recorder persists test records and connection changes published on a
// monitor bus.
type Recorder struct {
	db  *DB
	bus *monitor.Bus
	id  string
	ch  <-chan monitor.Notification
}

// NewRecorder subscribes to bus immediately so nothing published between
// construction and Run is lost.
func NewRecorder(db *DB, bus *monitor.Bus) *Recorder {
	id, ch := bus.Subscribe(recorderBuffer)
	return &Recorder{db: db, bus: bus, id: id, ch: ch}
}

// Run persists notifications until ctx is cancelled or the bus closes.
func (r *Recorder) Run(ctx context.Context) {
	defer r.bus.Unsubscribe(r.id)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-r.ch:
			if !ok {
				return
			}
			r.handle(n)
		}
	}
}

func (r *Recorder) handle(n monitor.Notification) {
	switch {
	case n.Kind == monitor.KindResultRecorded && n.Record != nil:
		if err := r.db.RecordTest(n.SessionID, *n.Record); err != nil {
			monitoring.Logf("failed to persist test record: %v", err)
		}
	case n.Kind == monitor.KindConnectionChanged && n.Connection != nil:
		if err := r.db.RecordConnection(n.SessionID, n.Time, *n.Connection); err != nil {
			monitoring.Logf("failed to persist connection change: %v", err)
		}
	}
}
