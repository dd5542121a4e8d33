package transport

import (
	"time"

	"github.com/jmylchreest/camarr/internal/models"
)

// StatusResponse is the wire shape of GET /api/camera/status.
type StatusResponse struct {
	Status        string           `json:"status"`
	Streaming     bool             `json:"streaming"`
	LastAccess    *float64         `json:"last_access"`
	CurrentMode   *ModePayload     `json:"current_mode,omitempty"`
	Recording     RecordingPayload `json:"recording"`
	UptimeSeconds float64          `json:"uptime_seconds,omitempty"`
	TemperatureC  float64          `json:"temperature_c,omitempty"`
}

// Power maps the device's "active"/"inactive" status string to the model enum.
func (s *StatusResponse) Power() models.Power {
	if s.Status == "active" {
		return models.PowerActive
	}
	return models.PowerInactive
}

// LastAccessTime converts the Unix-float last_access field, if present.
func (s *StatusResponse) LastAccessTime() (time.Time, bool) {
	if s.LastAccess == nil || *s.LastAccess == 0 {
		return time.Time{}, false
	}
	return unixFloat(*s.LastAccess), true
}

// unixFloat converts a fractional Unix timestamp to time.Time.
func unixFloat(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// ModePayload is the wire shape of one capture mode.
type ModePayload struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Framerate float64 `json:"framerate"`
}

// Model converts the payload to the domain type.
func (m *ModePayload) Model() *models.CaptureMode {
	if m == nil {
		return nil
	}
	return &models.CaptureMode{
		ID:        m.ID,
		Name:      m.Name,
		Width:     m.Width,
		Height:    m.Height,
		Framerate: m.Framerate,
	}
}

// RecordingPayload is the wire shape of the recording block in status bodies.
type RecordingPayload struct {
	Active         bool    `json:"active"`
	Filename       string  `json:"filename,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// Model converts the payload to the domain type.
func (r RecordingPayload) Model() models.RecordingState {
	return models.RecordingState{
		Active:   r.Active,
		Filename: r.Filename,
		Elapsed:  time.Duration(r.ElapsedSeconds * float64(time.Second)),
	}
}

// MessageResponse is the wire shape of simple acknowledgement bodies.
type MessageResponse struct {
	Message string `json:"message"`
}

// errorResponse is the wire shape of non-2xx bodies.
type errorResponse struct {
	Error string `json:"error"`
}

// ModesResponse is the wire shape of GET /api/camera/modes.
type ModesResponse struct {
	AvailableModes []ModePayload `json:"available_modes"`
	CurrentMode    string        `json:"current_mode"`
}

// modeChangeRequest is the wire shape of the POST /api/camera/mode body.
type modeChangeRequest struct {
	ModeID string `json:"mode_id"`
}

// CaptureResponse is the wire shape of POST /api/camera/capture.
type CaptureResponse struct {
	Message   string  `json:"message,omitempty"`
	Filename  string  `json:"filename"`
	URL       string  `json:"url"`
	Timestamp float64 `json:"timestamp"`
}

// TakenAt converts the Unix-float capture timestamp.
func (c *CaptureResponse) TakenAt() time.Time {
	return unixFloat(c.Timestamp)
}

// RecordStartResponse is the wire shape of POST /api/camera/recording/start.
type RecordStartResponse struct {
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename"`
}

// RecordStopResponse is the wire shape of POST /api/camera/recording/stop.
type RecordStopResponse struct {
	Message         string  `json:"message,omitempty"`
	Filename        string  `json:"filename"`
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration"`
}

// Duration converts the reported recording length.
func (r *RecordStopResponse) Duration() time.Duration {
	return time.Duration(r.DurationSeconds * float64(time.Second))
}

// MediaFile is one entry in a pictures or recordings listing.
type MediaFile struct {
	Filename        string  `json:"filename"`
	URL             string  `json:"url"`
	SizeBytes       int64   `json:"size"`
	Created         float64 `json:"created"`
	DurationSeconds float64 `json:"duration,omitempty"`
}

// CreatedAt converts the Unix-float creation timestamp.
func (m *MediaFile) CreatedAt() time.Time {
	return unixFloat(m.Created)
}

// picturesResponse is the wire shape of GET /api/camera/pictures.
type picturesResponse struct {
	Pictures []MediaFile `json:"pictures"`
}

// recordingsResponse is the wire shape of GET /api/camera/recordings.
type recordingsResponse struct {
	Recordings []MediaFile `json:"recordings"`
}

// HealthResponse is the wire shape of GET /health. The device may attach
// extra diagnostic fields; clients only rely on these two.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
