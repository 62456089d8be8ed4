// Package metrics exposes monitor activity to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

const namespace = "ultrasonic"

var connectionStates = []serialmux.State{
	serialmux.StateDisconnected,
	serialmux.StateConnecting,
	serialmux.StateConnected,
	serialmux.StateReconnecting,
	serialmux.StateFailed,
}

// Collector turns bus notifications into Prometheus series. Serial error
// counters are read from the connection manager at scrape time.
type Collector struct {
	registry *prometheus.Registry
	bus      *monitor.Bus
	id       string
	ch       <-chan monitor.Notification

	samples   prometheus.Counter
	results   *prometheus.CounterVec
	warnings  prometheus.Counter
	errors    prometheus.Counter
	distance  prometheus.Gauge
	histogram prometheus.Histogram
	state     *prometheus.GaugeVec
}

// NewCollector registers the series on a fresh registry and subscribes to
// bus. counters may be nil when no serial port is managed.
func NewCollector(bus *monitor.Bus, counters func() serialmux.Counters) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bus:      bus,
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_samples_total",
			Help:      "Accepted distance samples.",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_results_total",
			Help:      "Recorded test results by outcome and source.",
		}, []string{"result", "source"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Warnings such as out-of-range samples or rejected thresholds.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Reportable connection failures.",
		}),
		distance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_distance_cm",
			Help:      "Most recent accepted distance.",
		}),
		histogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "distance_cm",
			Help:      "Distribution of accepted distances.",
			Buckets:   prometheus.LinearBuckets(25, 25, 16),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}

	c.registry.MustRegister(c.samples, c.results, c.warnings, c.errors, c.distance, c.histogram, c.state)
	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications skipped because a subscriber was full.",
	}, func() float64 { return float64(bus.Dropped()) }))

	if counters != nil {
		serialCounter := func(name, help string, get func(serialmux.Counters) uint64) prometheus.Collector {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "serial",
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(get(counters())) })
		}
		c.registry.MustRegister(
			serialCounter("read_errors_total", "Failed serial reads.", func(s serialmux.Counters) uint64 { return s.ReadErrors }),
			serialCounter("lines_total", "Non-empty lines read from the port.", func(s serialmux.Counters) uint64 { return s.LinesRead }),
			serialCounter("reconnect_attempts_total", "Reconnection attempts.", func(s serialmux.Counters) uint64 { return s.ReconnectAttempts }),
		)
	}

	c.setState(serialmux.StateDisconnected)
	c.id, c.ch = bus.Subscribe(monitor.DefaultSubscriberBuffer)
	return c
}

// Registry returns the registry holding the collector's series.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Run consumes notifications until ctx is cancelled or the bus closes.
func (c *Collector) Run(ctx context.Context) {
	defer c.bus.Unsubscribe(c.id)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-c.ch:
			if !ok {
				return
			}
			c.Observe(n)
		}
	}
}

// Observe applies one notification.
func (c *Collector) Observe(n monitor.Notification) {
	switch n.Kind {
	case monitor.KindDistanceUpdated:
		if n.Distance != nil {
			c.samples.Inc()
			c.distance.Set(n.Distance.Current)
			c.histogram.Observe(n.Distance.Current)
		}
	case monitor.KindResultRecorded:
		if n.Record != nil {
			c.results.WithLabelValues(string(n.Record.Result), string(n.Record.Source)).Inc()
		}
	case monitor.KindReset:
		if n.Distance != nil {
			c.distance.Set(n.Distance.Current)
		}
	case monitor.KindWarning:
		c.warnings.Inc()
	case monitor.KindError:
		c.errors.Inc()
	case monitor.KindConnectionChanged:
		if n.Connection != nil {
			c.setState(n.Connection.State)
		}
	}
}

func (c *Collector) setState(current serialmux.State) {
	for _, s := range connectionStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}
