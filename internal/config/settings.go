package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
)

// DefaultSettingsPath is where the daemon keeps its settings when -config
// is not given.
const DefaultSettingsPath = "config.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Settings is the persisted operator configuration. Every field is optional
// in the file; the Get* methods supply defaults for missing values.
type Settings struct {
	LastPort        *string             `json:"last_port,omitempty" yaml:"last_port,omitempty"`
	BaudRate        *int                `json:"baudrate,omitempty" yaml:"baudrate,omitempty"`
	AutoReconnect   *bool               `json:"auto_reconnect,omitempty" yaml:"auto_reconnect,omitempty"`
	SoundEnabled    *bool               `json:"sound_enabled,omitempty" yaml:"sound_enabled,omitempty"`
	Thresholds      *monitor.Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	HistoryCapacity *int                `json:"history_capacity,omitempty" yaml:"history_capacity,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultSettings returns settings with every field populated.
func DefaultSettings() *Settings {
	t := monitor.DefaultThresholds()
	return &Settings{
		LastPort:        ptrString(""),
		BaudRate:        ptrInt(serialmux.DefaultBaudRate),
		AutoReconnect:   ptrBool(false),
		SoundEnabled:    ptrBool(true),
		Thresholds:      &t,
		HistoryCapacity: ptrInt(monitor.DefaultHistoryCapacity),
	}
}

// LoadSettings reads settings from a .json, .yaml or .yml file. Fields
// omitted from the file keep their defaults through the Get* methods.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if !isSupportedExt(ext) {
		return nil, fmt.Errorf("settings file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := &Settings{}
	if ext == ".json" {
		err = json.Unmarshal(data, s)
	} else {
		err = yaml.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist yet. Any other failure is returned.
func LoadOrDefault(path string) (*Settings, error) {
	s, err := LoadSettings(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	return s, err
}

// Save writes the settings atomically, in the format implied by the file
// extension.
func (s *Settings) Save(path string) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if !isSupportedExt(ext) {
		return fmt.Errorf("settings file must have .json, .yaml or .yml extension, got %q", ext)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if ext == ".json" {
		data, err = json.MarshalIndent(s, "", "  ")
	} else {
		data, err = yaml.Marshal(s)
	}
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), cleanPath); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// Reset deletes the settings file and returns the defaults. A missing file
// is not an error.
func Reset(path string) (*Settings, error) {
	if err := os.Remove(filepath.Clean(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove settings file: %w", err)
	}
	return DefaultSettings(), nil
}

// Validate checks the values that are set.
func (s *Settings) Validate() error {
	if s.BaudRate != nil && !slices.Contains(serialmux.SupportedBaudRates, *s.BaudRate) {
		return fmt.Errorf("baudrate must be one of %v, got %d", serialmux.SupportedBaudRates, *s.BaudRate)
	}
	if s.Thresholds != nil {
		if err := s.Thresholds.Validate(); err != nil {
			return err
		}
	}
	if s.HistoryCapacity != nil && *s.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive, got %d", *s.HistoryCapacity)
	}
	return nil
}

// RememberConnection records the port and baud rate of a successful
// connection.
func (s *Settings) RememberConnection(port string, baud int) {
	s.LastPort = ptrString(port)
	s.BaudRate = ptrInt(baud)
}

// SetBaudRate sets the baud rate used by the next connect.
func (s *Settings) SetBaudRate(baud int) { s.BaudRate = ptrInt(baud) }

// SetSoundEnabled sets the sound_enabled flag.
func (s *Settings) SetSoundEnabled(on bool) { s.SoundEnabled = ptrBool(on) }

// SetAutoReconnect sets the auto_reconnect flag.
func (s *Settings) SetAutoReconnect(on bool) { s.AutoReconnect = ptrBool(on) }

// SetThresholds stores a threshold band.
func (s *Settings) SetThresholds(t monitor.Thresholds) { s.Thresholds = &t }

// GetLastPort returns the last connected port, or "".
func (s *Settings) GetLastPort() string {
	if s.LastPort == nil {
		return ""
	}
	return *s.LastPort
}

// GetBaudRate returns the baud rate or the default.
func (s *Settings) GetBaudRate() int {
	if s.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *s.BaudRate
}

// GetAutoReconnect returns the auto_reconnect flag (default false).
func (s *Settings) GetAutoReconnect() bool {
	if s.AutoReconnect == nil {
		return false
	}
	return *s.AutoReconnect
}

// GetSoundEnabled returns the sound_enabled flag (default true).
func (s *Settings) GetSoundEnabled() bool {
	if s.SoundEnabled == nil {
		return true
	}
	return *s.SoundEnabled
}

// GetThresholds returns the threshold band or the default one.
func (s *Settings) GetThresholds() monitor.Thresholds {
	if s.Thresholds == nil {
		return monitor.DefaultThresholds()
	}
	return *s.Thresholds
}

// GetHistoryCapacity returns the history window size or the default.
func (s *Settings) GetHistoryCapacity() int {
	if s.HistoryCapacity == nil {
		return monitor.DefaultHistoryCapacity
	}
	return *s.HistoryCapacity
}

func isSupportedExt(ext string) bool {
	switch ext {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
