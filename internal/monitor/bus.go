package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

// NotificationKind names what changed.
type NotificationKind string

const (
	KindDistanceUpdated   NotificationKind = "distance-updated"
	KindResultRecorded    NotificationKind = "result-recorded"
	KindConnectionChanged NotificationKind = "connection-state-changed"
	KindThresholdsChanged NotificationKind = "thresholds-changed"
	KindReset             NotificationKind = "reset"
	KindWarning           NotificationKind = "warning"
	KindInfo              NotificationKind = "info"
	KindError             NotificationKind = "error"
)

// DefaultSubscriberBuffer is the channel size used when Subscribe is given
// a non-positive buffer.
const DefaultSubscriberBuffer = 64

// ConnectionInfo is the connection part of a notification or snapshot.
type ConnectionInfo struct {
	State    serialmux.State `json:"state"`
	Port     string          `json:"port,omitempty"`
	BaudRate int             `json:"baud_rate,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Notification is one entry of the outward stream. Seq is strictly
// increasing per controller and Time comes from the controller's clock.
// Pointer fields are copies; receivers may keep them.
type Notification struct {
	Seq        uint64            `json:"seq"`
	Kind       NotificationKind  `json:"kind"`
	Time       time.Time         `json:"time"`
	SessionID  string            `json:"session_id"`
	Distance   *DistanceSnapshot `json:"distance,omitempty"`
	Stats      *StatsSnapshot    `json:"stats,omitempty"`
	Record     *TestRecord       `json:"record,omitempty"`
	Connection *ConnectionInfo   `json:"connection,omitempty"`
	Thresholds *Thresholds       `json:"thresholds,omitempty"`
	Message    string            `json:"message,omitempty"`
	// Sound is set on result-recorded when the operator wants an audible
	// cue.
	Sound bool  `json:"sound,omitempty"`
	Err   error `json:"-"`
}

// Bus fans notifications out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the notification.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan Notification
	closed  bool
	dropped atomic.Uint64
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Notification)}
}

// Subscribe registers a subscriber. The channel is closed by Unsubscribe or
// Close.
func (b *Bus) Subscribe(buffer int) (string, <-chan Notification) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	id := uuid.NewString()
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers n to every subscriber that has room for it.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
			monitoring.Logf("notification %d (%s) dropped for slow subscriber %s", n.Seq, n.Kind, id)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel and later publishes go nowhere.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
