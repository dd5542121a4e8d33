package models

import (
	"fmt"
	"time"
)

// Connectivity reports whether the device answered its most recent poll.
type Connectivity string

const (
	// ConnectivityConnected indicates the last poll succeeded.
	ConnectivityConnected Connectivity = "connected"
	// ConnectivityDisconnected indicates the failure threshold was reached
	// or no poll has succeeded yet.
	ConnectivityDisconnected Connectivity = "disconnected"
)

// Power reports the device-level camera activation state as last observed.
type Power string

const (
	// PowerActive indicates the camera subsystem is running.
	PowerActive Power = "active"
	// PowerInactive indicates the camera subsystem is stopped.
	PowerInactive Power = "inactive"
)

// CaptureMode is one capture configuration advertised by the device.
type CaptureMode struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Framerate float64 `json:"framerate"`
}

// Resolution formats the mode dimensions as "WIDTHxHEIGHT".
func (m CaptureMode) Resolution() string {
	if m.Width == 0 && m.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// RecordingState describes the device-side recorder at one instant.
type RecordingState struct {
	Active   bool          `json:"active"`
	Filename string        `json:"filename,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// DeviceSnapshot is an immutable view of the device at one instant.
// Snapshots are replaced wholesale; callers must never mutate a snapshot
// they received from the state store.
type DeviceSnapshot struct {
	Connectivity Connectivity   `json:"connectivity"`
	Power        Power          `json:"power"`
	Streaming    bool           `json:"streaming"`
	Mode         *CaptureMode   `json:"mode,omitempty"`
	Recording    RecordingState `json:"recording"`
	ObservedAt   time.Time      `json:"observed_at"`
}

// UnknownSnapshot is the state before any poll has completed: disconnected,
// powered off, with a zero observation time so any real observation wins.
func UnknownSnapshot() DeviceSnapshot {
	return DeviceSnapshot{
		Connectivity: ConnectivityDisconnected,
		Power:        PowerInactive,
	}
}

// Connected reports whether the snapshot was taken while the device answered.
func (s DeviceSnapshot) Connected() bool {
	return s.Connectivity == ConnectivityConnected
}

// VisiblyEqual compares everything a consumer can observe except ObservedAt.
// Change notifications fire only when this returns false.
func (s DeviceSnapshot) VisiblyEqual(other DeviceSnapshot) bool {
	if s.Connectivity != other.Connectivity ||
		s.Power != other.Power ||
		s.Streaming != other.Streaming ||
		s.Recording != other.Recording {
		return false
	}
	switch {
	case s.Mode == nil && other.Mode == nil:
		return true
	case s.Mode == nil || other.Mode == nil:
		return false
	default:
		return *s.Mode == *other.Mode
	}
}

// ModeID returns the current mode identifier or "" when no mode is known.
func (s DeviceSnapshot) ModeID() string {
	if s.Mode == nil {
		return ""
	}
	return s.Mode.ID
}
