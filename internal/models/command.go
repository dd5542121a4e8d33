package models

import "time"

// CommandKind identifies one dispatchable device command.
type CommandKind string

const (
	// CommandStartStream activates the camera subsystem.
	CommandStartStream CommandKind = "start_stream"
	// CommandStopStream deactivates the camera subsystem.
	CommandStopStream CommandKind = "stop_stream"
	// CommandRestart stops and starts the camera subsystem in one call.
	CommandRestart CommandKind = "restart"
	// CommandCapture takes a still picture.
	CommandCapture CommandKind = "capture"
	// CommandStartRecording begins a video recording.
	CommandStartRecording CommandKind = "start_recording"
	// CommandStopRecording finalizes the in-progress video recording.
	CommandStopRecording CommandKind = "stop_recording"
	// CommandChangeMode switches the device to another capture mode.
	CommandChangeMode CommandKind = "change_mode"
)

// PendingCommand describes the single command currently in flight.
// The dispatcher holds at most one of these at a time.
type PendingCommand struct {
	Kind         CommandKind `json:"kind"`
	TargetModeID string      `json:"target_mode_id,omitempty"`
	IssuedAt     time.Time   `json:"issued_at"`
}

// CaptureResult is the device confirmation for a completed still capture.
type CaptureResult struct {
	Filename string    `json:"filename"`
	URL      string    `json:"url,omitempty"`
	TakenAt  time.Time `json:"taken_at"`
}

// RecordingResult is the device confirmation for a finalized recording.
type RecordingResult struct {
	Filename string        `json:"filename"`
	URL      string        `json:"url,omitempty"`
	Duration time.Duration `json:"duration"`
}
