package api

import (
	"net/http"

	"github.com/banshee-data/ultrasonic.monitor/internal/config"
	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
)

// SettingsResponse is the effective configuration, defaults filled in.
type SettingsResponse struct {
	LastPort        string             `json:"last_port"`
	BaudRate        int                `json:"baudrate"`
	AutoReconnect   bool               `json:"auto_reconnect"`
	SoundEnabled    bool               `json:"sound_enabled"`
	Thresholds      monitor.Thresholds `json:"thresholds"`
	HistoryCapacity int                `json:"history_capacity"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func settingsResponse(st *config.Settings) SettingsResponse {
	return SettingsResponse{
		LastPort:        st.GetLastPort(),
		BaudRate:        st.GetBaudRate(),
		AutoReconnect:   st.GetAutoReconnect(),
		SoundEnabled:    st.GetSoundEnabled(),
		Thresholds:      st.GetThresholds(),
		HistoryCapacity: st.GetHistoryCapacity(),
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.currentSettings()
	httputil.WriteJSONOK(w, settingsResponse(&st))
}

func decodeToggle(w http.ResponseWriter, r *http.Request) (bool, bool) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return false, false
	}
	var req toggleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return false, false
	}
	if req.Enabled == nil {
		httputil.BadRequest(w, "enabled is required")
		return false, false
	}
	return *req.Enabled, true
}

func (s *Server) handleSound(w http.ResponseWriter, r *http.Request) {
	on, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	s.ctrl.SetSoundEnabled(on)
	s.updateSettings(func(st *config.Settings) { st.SetSoundEnabled(on) })
	st := s.currentSettings()
	httputil.WriteJSONOK(w, settingsResponse(&st))
}

// The new value applies from the next connect.
func (s *Server) handleAutoReconnect(w http.ResponseWriter, r *http.Request) {
	on, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	s.updateSettings(func(st *config.Settings) { st.SetAutoReconnect(on) })
	st := s.currentSettings()
	httputil.WriteJSONOK(w, settingsResponse(&st))
}

// handleSettingsReset removes the settings file and pushes the defaults
// into the controller.
func (s *Server) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	s.settingsMu.Lock()
	defaults := config.DefaultSettings()
	if s.settingsPath != "" {
		var err error
		if defaults, err = config.Reset(s.settingsPath); err != nil {
			s.settingsMu.Unlock()
			httputil.InternalServerError(w, err.Error())
			return
		}
	}
	s.settings = defaults
	s.settingsMu.Unlock()

	if err := s.ctrl.ApplyThresholds(defaults.GetThresholds()); err != nil {
		monitoring.Logf("failed to apply default thresholds: %v", err)
	}
	s.ctrl.SetSoundEnabled(defaults.GetSoundEnabled())
	httputil.WriteJSONOK(w, settingsResponse(defaults))
}
