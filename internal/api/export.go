package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/ultrasonic.monitor/internal/db"
	"github.com/banshee-data/ultrasonic.monitor/internal/export"
	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
)

const defaultHistoryLimit = 500

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	SessionID string               `json:"session_id"`
	Tests     []monitor.TestRecord `json:"tests"`
}

// handleExport serves /api/export/{csv,json,png} as a download of the
// current session.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	format := strings.TrimPrefix(r.URL.Path, "/api/export/")
	data := s.ctrl.ExportData()

	var (
		buf         bytes.Buffer
		err         error
		contentType string
	)
	switch format {
	case "csv":
		contentType = "text/csv; charset=utf-8"
		err = export.WriteCSV(&buf, data)
	case "json":
		contentType = "application/json"
		err = export.WriteJSON(&buf, data)
	case "png":
		contentType = "image/png"
		err = export.WritePlot(&buf, data.Distance, data.Thresholds)
	default:
		httputil.NotFound(w, fmt.Sprintf("unsupported export format %q", format))
		return
	}
	if errors.Is(err, export.ErrNoData) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.Attachment(w, contentType, export.Filename(s.now(), format))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) historyDB(w http.ResponseWriter, r *http.Request) (*db.DB, int, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, 0, false
	}
	if s.db == nil {
		httputil.NotFound(w, "history is not enabled")
		return nil, 0, false
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return nil, 0, false
		}
		limit = n
	}
	return s.db, limit, true
}

// GET /api/history?session_id=...&limit=N lists persisted tests, oldest
// first. The session defaults to the current one.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	database, limit, ok := s.historyDB(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.ctrl.SessionID()
	}
	tests, err := database.Tests(sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if tests == nil {
		tests = []monitor.TestRecord{}
	}
	httputil.WriteJSONOK(w, HistoryResponse{SessionID: sessionID, Tests: tests})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	database, limit, ok := s.historyDB(w, r)
	if !ok {
		return
	}
	sessions, err := database.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.SessionSummary{}
	}
	httputil.WriteJSONOK(w, sessions)
}
