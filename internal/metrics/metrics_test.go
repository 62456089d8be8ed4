package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/sensor"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

func TestCollectorObserve(t *testing.T) {
	ctrl, err := monitor.NewController(monitor.Options{})
	require.NoError(t, err)
	c := NewCollector(ctrl.Bus(), func() serialmux.Counters {
		return serialmux.Counters{ReadErrors: 3, LinesRead: 12, ReconnectAttempts: 1}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	ctrl.HandleStateChange(serialmux.StateChange{State: serialmux.StateConnected, Port: "COM1"})
	ctrl.HandleEvent(sensor.Decode("DIST:23.5"))
	ctrl.HandleEvent(sensor.Decode("DIST:75"))
	ctrl.HandleEvent(sensor.Decode("DIST:900"))
	ctrl.HandleEvent(sensor.Decode("OK"))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.results.WithLabelValues("PASS", "device")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.samples))
	assert.Equal(t, 75.0, testutil.ToFloat64(c.distance))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("PASS", "auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("FAIL", "auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.warnings))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.state.WithLabelValues("disconnected")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.histogram))

	cancel()
	<-done
}

func TestCollectorSerialCountersAndHandler(t *testing.T) {
	c := NewCollector(monitor.NewBus(), func() serialmux.Counters {
		return serialmux.Counters{ReadErrors: 4, LinesRead: 9, ReconnectAttempts: 2}
	})

	expected := `
# HELP ultrasonic_serial_read_errors_total Failed serial reads.
# TYPE ultrasonic_serial_read_errors_total counter
ultrasonic_serial_read_errors_total 4
# HELP ultrasonic_serial_reconnect_attempts_total Reconnection attempts.
# TYPE ultrasonic_serial_reconnect_attempts_total counter
ultrasonic_serial_reconnect_attempts_total 2
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"ultrasonic_serial_read_errors_total", "ultrasonic_serial_reconnect_attempts_total")
	assert.NoError(t, err)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ultrasonic_serial_lines_total 9")
	assert.Contains(t, rec.Body.String(), `ultrasonic_connection_state{state="disconnected"} 1`)
}

func TestCollectorWithoutSerial(t *testing.T) {
	c := NewCollector(monitor.NewBus(), nil)
	c.Observe(monitor.Notification{Kind: monitor.KindError})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors))

	n, err := testutil.GatherAndCount(c.Registry(), "ultrasonic_serial_read_errors_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}
