// Package api serves the monitor's HTTP surface: a JSON snapshot, the
// operator commands, downloads and a live notification stream.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/ultrasonic.monitor/internal/config"
	"github.com/banshee-data/ultrasonic.monitor/internal/db"
	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
	"github.com/banshee-data/ultrasonic.monitor/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Connection is the part of serialmux.ConnectionManager the handlers use.
type Connection interface {
	Connect(req serialmux.ConnectRequest) error
	Disconnect() error
	State() serialmux.State
	Request() serialmux.ConnectRequest
	Counters() serialmux.Counters
	SendCommand(command string) error
	TestConnection() error
}

// Config wires a Server. Controller and Conn are required; the rest may be
// left zero.
type Config struct {
	Controller *monitor.Controller
	Conn       Connection
	// DB enables /api/history and /api/sessions.
	DB *db.DB
	// Settings are updated by the handlers and saved to SettingsPath when
	// it is set.
	Settings     *config.Settings
	SettingsPath string
	// Metrics is mounted at /metrics when non-nil.
	Metrics   http.Handler
	ListPorts func() ([]string, error)
	Now       func() time.Time
}

type Server struct {
	ctrl      *monitor.Controller
	conn      Connection
	db        *db.DB
	metrics   http.Handler
	listPorts func() ([]string, error)
	now       func() time.Time

	settingsMu   sync.Mutex
	settings     *config.Settings
	settingsPath string
}

func NewServer(cfg Config) *Server {
	s := &Server{
		ctrl:         cfg.Controller,
		conn:         cfg.Conn,
		db:           cfg.DB,
		metrics:      cfg.Metrics,
		listPorts:    cfg.ListPorts,
		now:          cfg.Now,
		settings:     cfg.Settings,
		settingsPath: cfg.SettingsPath,
	}
	if s.listPorts == nil {
		s.listPorts = serialmux.ListPorts
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.settings == nil {
		s.settings = config.DefaultSettings()
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/command/test", s.handleTestConnection)
	mux.HandleFunc("/api/ports", s.handlePorts)

	mux.HandleFunc("/api/thresholds", s.handleThresholds)
	mux.HandleFunc("/api/test/", s.handleManualTest)
	mux.HandleFunc("/api/reset/", s.handleReset)
	mux.HandleFunc("/api/session/new", s.handleNewSession)

	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/settings/sound", s.handleSound)
	mux.HandleFunc("/api/settings/auto-reconnect", s.handleAutoReconnect)
	mux.HandleFunc("/api/settings/reset", s.handleSettingsReset)

	mux.HandleFunc("/api/export/", s.handleExport)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/sessions", s.handleSessions)

	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/chart/distance", s.handleDistanceChart)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// SerialStatus is the connection manager's own view of the port.
type SerialStatus struct {
	State         serialmux.State    `json:"state"`
	Port          string             `json:"port"`
	BaudRate      int                `json:"baud_rate"`
	AutoReconnect bool               `json:"auto_reconnect"`
	Counters      serialmux.Counters `json:"counters"`
}

// StatusResponse is returned by GET /api/status and by the connection
// commands.
type StatusResponse struct {
	Version string           `json:"version"`
	GitSHA  string           `json:"git_sha"`
	Monitor monitor.Snapshot `json:"monitor"`
	Serial  SerialStatus     `json:"serial"`
}

func (s *Server) status() StatusResponse {
	req := s.conn.Request()
	return StatusResponse{
		Version: version.Version,
		GitSHA:  version.GitSHA,
		Monitor: s.ctrl.Snapshot(),
		Serial: SerialStatus{
			State:         s.conn.State(),
			Port:          req.Port,
			BaudRate:      req.Options.BaudRate,
			AutoReconnect: req.AutoReconnect,
			Counters:      s.conn.Counters(),
		},
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

// updateSettings applies fn and saves the result when a path is configured.
// A failed save is logged; the in-memory settings keep the change.
func (s *Server) updateSettings(fn func(*config.Settings)) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	fn(s.settings)
	if s.settingsPath == "" {
		return
	}
	if err := s.settings.Save(s.settingsPath); err != nil {
		monitoring.Logf("failed to save settings to %s: %v", s.settingsPath, err)
	}
}

func (s *Server) currentSettings() config.Settings {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return *s.settings
}
