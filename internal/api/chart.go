package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
)

// handleDistanceChart renders the distance history as an HTML line chart
// with the threshold band marked.
func (s *Server) handleDistanceChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap := s.ctrl.Snapshot()
	history := snap.Distance.History

	x := make([]string, len(history))
	y := make([]opts.LineData, len(history))
	for i, v := range history {
		x[i] = strconv.Itoa(i + 1)
		y[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ultrasonic Distance", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Distance history",
			Subtitle: fmt.Sprintf("session=%s samples=%d band=[%.1f, %.1f] cm", snap.SessionID, len(history), snap.Thresholds.Min, snap.Thresholds.Max),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sample"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cm", Min: 0}),
	)
	line.SetXAxis(x).AddSeries("distance", y,
		charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "min", YAxis: snap.Thresholds.Min},
			opts.MarkLineNameYAxisItem{Name: "max", YAxis: snap.Thresholds.Max},
		),
	)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
