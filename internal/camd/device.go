// Package camd implements a simulated camera device speaking the HTTP
// protocol camarr consumes: JSON control endpoints, a multipart JPEG feed,
// and media listings backed by quota-bounded storage. It exists so the
// client side can be exercised end to end without hardware.
package camd

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camarr/internal/config"
)

// Device-side rule violations. Handlers map these to HTTP conflicts with
// the device's wire error strings.
var (
	ErrNotStreaming        = errors.New("camera is not streaming")
	ErrRecordingInProgress = errors.New("recording already in progress")
	ErrNoRecording         = errors.New("no recording in progress")
	ErrUnknownMode         = errors.New("unknown camera mode")
	ErrModeLocked          = errors.New("cannot change mode while recording")
)

// Mode is one capture mode the simulated sensor offers.
type Mode struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Framerate float64 `json:"framerate"`
}

// defaultModes mirrors a typical camera module's mode table.
var defaultModes = []Mode{
	{ID: "480p", Name: "SD 480p", Width: 640, Height: 480, Framerate: 30},
	{ID: "720p", Name: "HD 720p", Width: 1280, Height: 720, Framerate: 30},
	{ID: "1080p", Name: "Full HD 1080p", Width: 1920, Height: 1080, Framerate: 15},
}

// RecordingInfo is the recording block of a status report.
type RecordingInfo struct {
	Active    bool
	Filename  string
	StartedAt time.Time
}

// StatusInfo is a point-in-time view of the device state.
type StatusInfo struct {
	Powered    bool
	Streaming  bool
	LastAccess time.Time
	Mode       Mode
	Recording  RecordingInfo
	StartedAt  time.Time
}

// Device is the simulated camera: power and streaming flags, a mode table,
// at most one recording, and a frame synthesizer. All transitions are
// mutex-atomic; there is no background goroutine.
type Device struct {
	frames  *FrameSource
	storage *Storage
	logger  *slog.Logger
	strict  bool
	fpsCap  float64

	mu         sync.Mutex
	powered    bool
	streaming  bool
	lastAccess time.Time
	mode       Mode
	modes      []Mode
	recording  RecordingInfo
	recSeq     int
	startedAt  time.Time
}

// NewDevice creates a powered-on, non-streaming device.
func NewDevice(cfg config.CamdConfig, storage *Storage, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	modes := make([]Mode, len(defaultModes))
	copy(modes, defaultModes)

	current := modes[1] // 720p
	if cfg.Mode != "" {
		found := false
		for _, m := range modes {
			if m.ID == cfg.Mode {
				current = m
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
		}
	}

	return &Device{
		frames:    NewFrameSource(),
		storage:   storage,
		logger:    logger.With(slog.String("component", "camd-device")),
		strict:    cfg.Strict,
		fpsCap:    float64(cfg.Framerate),
		powered:   true,
		mode:      current,
		modes:     modes,
		startedAt: time.Now(),
	}, nil
}

// Status returns the current device state.
func (d *Device) Status() StatusInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return StatusInfo{
		Powered:    d.powered,
		Streaming:  d.streaming,
		LastAccess: d.lastAccess,
		Mode:       d.mode,
		Recording:  d.recording,
		StartedAt:  d.startedAt,
	}
}

// Start powers the camera subsystem on and begins streaming.
func (d *Device) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming {
		d.logger.Info("camera streaming started")
	}
	d.powered = true
	d.streaming = true
}

// Stop ends streaming and powers the camera subsystem down. An in-flight
// recording is finalized implicitly by the caller before stopping; a
// recording still active at stop time is discarded.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		d.logger.Info("camera streaming stopped")
	}
	d.powered = false
	d.streaming = false
	d.recording = RecordingInfo{}
}

// Restart cycles the camera subsystem: recording state clears, streaming
// and power come back up.
func (d *Device) Restart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording = RecordingInfo{}
	d.powered = true
	d.streaming = true
	d.logger.Info("camera restarted")
}

// Modes returns the mode table and the current mode.
func (d *Device) Modes() ([]Mode, Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	modes := make([]Mode, len(d.modes))
	copy(modes, d.modes)
	return modes, d.mode
}

// SetMode switches the capture mode. Mode changes are refused while a
// recording is active; a clip cannot change dimensions midway.
func (d *Device) SetMode(id string) (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.recording.Active {
		return Mode{}, ErrModeLocked
	}
	for _, m := range d.modes {
		if m.ID == id {
			d.mode = m
			d.logger.Info("camera mode changed", slog.String("mode", id))
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, id)
}

// Capture takes one still picture. In strict mode the camera must be
// streaming, same as the physical device.
func (d *Device) Capture() (MediaItem, error) {
	d.mu.Lock()
	if d.strict && !d.streaming {
		d.mu.Unlock()
		return MediaItem{}, ErrNotStreaming
	}
	mode := d.mode
	now := time.Now()
	d.lastAccess = now
	d.mu.Unlock()

	frame, err := d.frames.Frame(mode.Width, mode.Height, now)
	if err != nil {
		return MediaItem{}, err
	}
	item, err := d.storage.SavePicture(frame, now)
	if err != nil {
		return MediaItem{}, err
	}
	d.logger.Info("picture captured", slog.String("filename", item.Filename))
	return item, nil
}

// StartRecording begins a recording and returns its future filename. Only
// one recording can be active.
func (d *Device) StartRecording() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.strict && !d.streaming {
		return "", ErrNotStreaming
	}
	if d.recording.Active {
		return "", ErrRecordingInProgress
	}

	now := time.Now()
	d.recSeq++
	filename := fmt.Sprintf("rec_%s_%04d.mjpeg", now.Format("20060102_150405"), d.recSeq)
	d.recording = RecordingInfo{Active: true, Filename: filename, StartedAt: now}
	d.lastAccess = now
	d.logger.Info("recording started", slog.String("filename", filename))
	return filename, nil
}

// StopRecording finalizes the active recording. The stored clip is a
// placeholder frame; the simulator generates traffic, it does not encode
// video.
func (d *Device) StopRecording() (MediaItem, error) {
	d.mu.Lock()
	if !d.recording.Active {
		d.mu.Unlock()
		return MediaItem{}, ErrNoRecording
	}
	rec := d.recording
	d.recording = RecordingInfo{}
	mode := d.mode
	now := time.Now()
	d.lastAccess = now
	d.mu.Unlock()

	duration := now.Sub(rec.StartedAt)
	frame, err := d.frames.Frame(mode.Width, mode.Height, now)
	if err != nil {
		return MediaItem{}, err
	}
	item, err := d.storage.SaveRecording(rec.Filename, frame, now, duration)
	if err != nil {
		return MediaItem{}, err
	}
	d.logger.Info("recording stopped",
		slog.String("filename", item.Filename),
		slog.Duration("duration", duration),
	)
	return item, nil
}

// EnsureStreaming turns streaming on, the way a GET on the stream endpoint
// does on the physical device.
func (d *Device) EnsureStreaming() {
	d.Start()
}

// StreamFrame renders the next live frame. It fails once streaming stops,
// which is how an open feed learns to end.
func (d *Device) StreamFrame() ([]byte, error) {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return nil, ErrNotStreaming
	}
	mode := d.mode
	now := time.Now()
	d.lastAccess = now
	d.mu.Unlock()

	return d.frames.Frame(mode.Width, mode.Height, now)
}

// FrameInterval is the delay between live frames, honoring the configured
// framerate cap.
func (d *Device) FrameInterval() time.Duration {
	d.mu.Lock()
	fps := d.mode.Framerate
	d.mu.Unlock()

	if d.fpsCap > 0 && d.fpsCap < fps {
		fps = d.fpsCap
	}
	if fps <= 0 {
		fps = 15
	}
	return time.Duration(float64(time.Second) / fps)
}
