package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/banshee-data/ultrasonic.monitor/internal/config"
	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
)

// ManualTestResponse is returned by POST /api/test/{pass,fail}.
type ManualTestResponse struct {
	Record monitor.TestRecord    `json:"record"`
	Stats  monitor.StatsSnapshot `json:"stats"`
}

// GET returns the active band; POST replaces it.
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.ctrl.Thresholds())
	case http.MethodPost, http.MethodPut:
		var t monitor.Thresholds
		if err := httputil.DecodeJSON(r, &t); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.ctrl.ApplyThresholds(t); err != nil {
			if errors.Is(err, monitor.ErrInvalidThresholds) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		s.updateSettings(func(st *config.Settings) { st.SetThresholds(t) })
		httputil.WriteJSONOK(w, t)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleManualTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var conforme bool
	switch strings.ToLower(strings.TrimPrefix(r.URL.Path, "/api/test/")) {
	case "pass":
		conforme = true
	case "fail":
		conforme = false
	default:
		httputil.NotFound(w, "expected /api/test/pass or /api/test/fail")
		return
	}

	rec := s.ctrl.ManualTest(conforme)
	httputil.WriteJSONOK(w, ManualTestResponse{Record: rec, Stats: s.ctrl.Snapshot().Stats})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/api/reset/") {
	case "distance":
		s.ctrl.ResetDistance()
	case "stats":
		s.ctrl.ResetStats()
	default:
		httputil.NotFound(w, "expected /api/reset/distance or /api/reset/stats")
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Snapshot())
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.ctrl.NewSession()
	httputil.WriteJSONOK(w, s.ctrl.Snapshot())
}
