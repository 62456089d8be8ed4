package monitor

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/sensor"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
	"github.com/banshee-data/ultrasonic.monitor/internal/timeutil"
)

// Synthetic distances used by a manual test that runs before any sample
// arrived.
const (
	SyntheticMin = 10.0
	SyntheticMax = 50.0
)

// Options configures a Controller. Zero values pick the defaults.
type Options struct {
	Thresholds      Thresholds
	HistoryCapacity int
	SoundEnabled    bool
	Clock           timeutil.Clock
	Bus             *Bus
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.Float64.
	Rand func() float64
}

// Snapshot is an immutable view of everything the controller owns.
type Snapshot struct {
	SessionID       string           `json:"session_id"`
	SessionStart    time.Time        `json:"session_start,omitzero"`
	SessionDuration float64          `json:"session_duration_seconds"`
	Distance        DistanceSnapshot `json:"distance"`
	Stats           StatsSnapshot    `json:"stats"`
	Thresholds      Thresholds       `json:"thresholds"`
	Connection      ConnectionInfo   `json:"connection"`
	SoundEnabled    bool             `json:"sound_enabled"`
}

// Controller is the single owner of distance state, thresholds and session
// stats. Serial events and operator commands are serialised through its
// lock, and every mutation is published on the bus before the lock is
// released, so notification order equals mutation order.
//
// Controller implements serialmux.EventSink. It never calls back into the
// connection manager.
type Controller struct {
	clock timeutil.Clock
	bus   *Bus
	rand  func() float64

	mu           sync.Mutex
	tracker      *DistanceTracker
	stats        *SessionStats
	thresholds   Thresholds
	sound        bool
	sessionID    string
	sessionStart time.Time
	conn         ConnectionInfo
	seq          uint64
}

// NewController builds a controller. Invalid thresholds are rejected.
func NewController(opts Options) (*Controller, error) {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	return &Controller{
		clock:      opts.Clock,
		bus:        opts.Bus,
		rand:       opts.Rand,
		tracker:    NewDistanceTracker(opts.HistoryCapacity),
		stats:      NewSessionStats(),
		thresholds: opts.Thresholds,
		sound:      opts.SoundEnabled,
		sessionID:  uuid.NewString(),
		conn:       ConnectionInfo{State: serialmux.StateDisconnected},
	}, nil
}

// Bus returns the bus notifications are published on.
func (c *Controller) Bus() *Bus { return c.bus }

// HandleEvent applies one decoded serial line.
func (c *Controller) HandleEvent(e sensor.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case sensor.KindDistance:
		if !c.recordDistanceLocked(e.Distance) {
			return
		}
		current := c.tracker.Current()
		c.recordResultLocked(Evaluate(current, c.thresholds), current, SourceAuto)
	case sensor.KindResult:
		c.recordResultLocked(ResultOf(e.Conforme), c.tracker.Current(), SourceDevice)
	default:
		c.publishLocked(Notification{Kind: KindInfo, Message: e.Raw})
	}
}

// HandleStateChange mirrors the connection state and reports failures.
func (c *Controller) HandleStateChange(sc serialmux.StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = ConnectionInfo{State: sc.State, Port: sc.Port, BaudRate: sc.BaudRate}
	if sc.Err != nil {
		c.conn.Error = sc.Err.Error()
	}
	if sc.State == serialmux.StateConnected && c.sessionStart.IsZero() {
		c.sessionStart = c.clock.Now()
	}

	conn := c.conn
	c.publishLocked(Notification{Kind: KindConnectionChanged, Connection: &conn, Err: sc.Err})

	if sc.Err == nil {
		return
	}
	switch sc.State {
	case serialmux.StateReconnecting:
		c.publishLocked(Notification{
			Kind:    KindWarning,
			Message: fmt.Sprintf("connection to %s lost, reconnecting: %v", sc.Port, sc.Err),
			Err:     sc.Err,
		})
	case serialmux.StateFailed, serialmux.StateDisconnected:
		c.publishLocked(Notification{
			Kind:    KindError,
			Message: fmt.Sprintf("connection to %s: %v", sc.Port, sc.Err),
			Err:     sc.Err,
		})
	}
}

// ApplyThresholds replaces the threshold band. An invalid pair is reported
// as a warning and leaves the old band in place. With a current distance
// present the new band is evaluated immediately.
func (c *Controller) ApplyThresholds(t Thresholds) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := t.Validate(); err != nil {
		c.publishLocked(Notification{Kind: KindWarning, Message: err.Error(), Err: err})
		return err
	}
	c.thresholds = t
	c.publishLocked(Notification{Kind: KindThresholdsChanged, Thresholds: &t})
	monitoring.Logf("thresholds set to [%.1f, %.1f] cm", t.Min, t.Max)

	if c.tracker.HasCurrent() {
		current := c.tracker.Current()
		c.recordResultLocked(Evaluate(current, t), current, SourceAuto)
	}
	return nil
}

// ManualTest records an operator-forced result. When no distance has been
// seen yet a plausible one is synthesised so the record is not empty.
func (c *Controller) ManualTest(conforme bool) TestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tracker.HasCurrent() {
		synthetic := math.Round((SyntheticMin+c.rand()*(SyntheticMax-SyntheticMin))*10) / 10
		c.recordDistanceLocked(synthetic)
	}
	if c.sessionStart.IsZero() {
		c.sessionStart = c.clock.Now()
	}
	return c.recordResultLocked(ResultOf(conforme), c.tracker.Current(), SourceManual)
}

// ResetDistance clears the current distance and history.
func (c *Controller) ResetDistance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Reset()
	c.publishResetLocked("distance history cleared")
}

// ResetStats clears counters and the test log.
func (c *Controller) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reset()
	c.publishResetLocked("statistics cleared")
}

// NewSession resets distance and stats together and starts a new session
// id. The session clock restarts now if a device is connected.
func (c *Controller) NewSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker.Reset()
	c.stats.Reset()
	c.sessionID = uuid.NewString()
	c.sessionStart = time.Time{}
	if c.conn.State == serialmux.StateConnected {
		c.sessionStart = c.clock.Now()
	}
	c.publishResetLocked("new session started")
	monitoring.Logf("🆕 session %s started", c.sessionID)
	return c.sessionID
}

// SetSoundEnabled toggles the audible cue flag on result notifications.
func (c *Controller) SetSoundEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sound = on
}

// Thresholds returns the active band.
func (c *Controller) Thresholds() Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thresholds
}

// SessionID returns the id of the running session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Snapshot returns a consistent copy of all owned state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Records returns a copy of the session's test log.
func (c *Controller) Records() []TestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Records()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:    c.sessionID,
		SessionStart: c.sessionStart,
		Distance:     c.tracker.Snapshot(),
		Stats:        c.stats.Snapshot(),
		Thresholds:   c.thresholds,
		Connection:   c.conn,
		SoundEnabled: c.sound,
	}
	if !c.sessionStart.IsZero() {
		snap.SessionDuration = c.clock.Since(c.sessionStart).Seconds()
	}
	return snap
}

// recordDistanceLocked feeds the tracker and publishes either the new
// distance state or an out-of-range warning.
func (c *Controller) recordDistanceLocked(cm float64) bool {
	if !c.tracker.Record(cm) {
		c.publishLocked(Notification{
			Kind:    KindWarning,
			Message: fmt.Sprintf("distance %.1f cm outside [%.0f, %.0f] cm ignored", cm, MinDistance, MaxDistance),
		})
		return false
	}
	d := c.tracker.Snapshot()
	c.publishLocked(Notification{Kind: KindDistanceUpdated, Distance: &d})
	return true
}

func (c *Controller) recordResultLocked(result Result, distance float64, src Source) TestRecord {
	rec, stats := c.stats.RecordResult(result, distance, c.clock.Now(), src)
	c.publishLocked(Notification{Kind: KindResultRecorded, Record: &rec, Stats: &stats, Sound: c.sound})
	return rec
}

func (c *Controller) publishResetLocked(msg string) {
	d := c.tracker.Snapshot()
	s := c.stats.Snapshot()
	c.publishLocked(Notification{Kind: KindReset, Distance: &d, Stats: &s, Message: msg})
}

func (c *Controller) publishLocked(n Notification) {
	c.seq++
	n.Seq = c.seq
	n.Time = c.clock.Now()
	n.SessionID = c.sessionID
	c.bus.Publish(n)
}
