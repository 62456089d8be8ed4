package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/banshee-data/ultrasonic.monitor/internal/config"
	"github.com/banshee-data/ultrasonic.monitor/internal/httputil"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

// ConnectRequest is the body of POST /api/connect. Zero fields fall back to
// the persisted settings.
type ConnectRequest struct {
	Port          string `json:"port"`
	BaudRate      int    `json:"baud_rate,omitempty"`
	AutoReconnect *bool  `json:"auto_reconnect,omitempty"`
}

// CommandRequest is the body of POST /api/command.
type CommandRequest struct {
	Command string `json:"command"`
}

// PortInfo describes an enumerated serial port.
type PortInfo struct {
	PortPath     string `json:"port_path"`
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req ConnectRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}

	st := s.currentSettings()
	if req.Port == "" {
		req.Port = st.GetLastPort()
	}
	if req.Port == "" {
		httputil.BadRequest(w, "port is required")
		return
	}
	if req.BaudRate == 0 {
		req.BaudRate = st.GetBaudRate()
	}
	autoReconnect := st.GetAutoReconnect()
	if req.AutoReconnect != nil {
		autoReconnect = *req.AutoReconnect
	}

	err := s.conn.Connect(serialmux.ConnectRequest{
		Port:          req.Port,
		Options:       serialmux.PortOptions{BaudRate: req.BaudRate},
		AutoReconnect: autoReconnect,
	})
	switch {
	case err == nil:
	case errors.Is(err, serialmux.ErrAlreadyConnected):
		httputil.Conflict(w, err.Error())
		return
	case errors.Is(err, serialmux.ErrUnsupportedBaudRate):
		httputil.BadRequest(w, err.Error())
		return
	default:
		httputil.ServiceUnavailable(w, fmt.Sprintf("failed to connect to %s: %v", req.Port, err))
		return
	}

	s.updateSettings(func(st *config.Settings) {
		st.RememberConnection(req.Port, req.BaudRate)
	})
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.conn.Disconnect(); err != nil {
		if errors.Is(err, serialmux.ErrNotConnected) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req CommandRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		httputil.BadRequest(w, "command is required")
		return
	}
	s.writeCommandResult(w, command, s.conn.SendCommand(command))
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.writeCommandResult(w, "TEST", s.conn.TestConnection())
}

func (s *Server) writeCommandResult(w http.ResponseWriter, command string, err error) {
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, map[string]string{"status": "sent", "command": command})
	case errors.Is(err, serialmux.ErrNotConnected):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
	}
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to enumerate serial ports: %v", err))
		return
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{PortPath: p, FriendlyName: friendlyName(p)})
	}
	httputil.WriteJSONOK(w, infos)
}

// friendlyName generates a user-friendly name for a serial port
func friendlyName(portPath string) string {
	deviceName := filepath.Base(portPath)
	switch {
	case strings.HasPrefix(deviceName, "ttyUSB"):
		return fmt.Sprintf("USB Serial Adapter (%s)", deviceName)
	case strings.HasPrefix(deviceName, "ttyACM"):
		return fmt.Sprintf("Arduino / USB CDC Device (%s)", deviceName)
	case strings.HasPrefix(deviceName, "cu.usbmodem"), strings.HasPrefix(deviceName, "tty.usbmodem"):
		return fmt.Sprintf("USB Modem (%s)", deviceName)
	case strings.HasPrefix(deviceName, "ttyAMA"), strings.HasPrefix(deviceName, "ttyS"):
		return fmt.Sprintf("On-board Serial (%s)", deviceName)
	case strings.HasPrefix(strings.ToUpper(deviceName), "COM"):
		return fmt.Sprintf("Serial Port (%s)", deviceName)
	default:
		return deviceName
	}
}
