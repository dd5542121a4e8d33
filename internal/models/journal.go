package models

import "time"

// MediaKind discriminates journaled media index entries.
type MediaKind string

const (
	// MediaPicture is a still image captured by the device.
	MediaPicture MediaKind = "picture"
	// MediaRecording is a finished video recording.
	MediaRecording MediaKind = "recording"
)

// CommandRecord journals one dispatcher decision, accepted or rejected.
type CommandRecord struct {
	BaseModel
	Kind         CommandKind `gorm:"not null;size:32;index" json:"kind"`
	TargetModeID string      `gorm:"size:64" json:"target_mode_id,omitempty"`
	Accepted     bool        `gorm:"not null;index" json:"accepted"`
	ErrorKind    string      `gorm:"size:32" json:"error_kind,omitempty"`
	Error        string      `gorm:"size:2048" json:"error,omitempty"`
	LatencyMs    int64       `json:"latency_ms"`
	IssuedAt     time.Time   `gorm:"not null;index" json:"issued_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// TableName returns the database table name.
func (CommandRecord) TableName() string {
	return "command_records"
}

// MediaRecord indexes one media file the device reported.
type MediaRecord struct {
	BaseModel
	Kind       MediaKind `gorm:"not null;size:16;index" json:"kind"`
	Filename   string    `gorm:"not null;size:255;uniqueIndex" json:"filename"`
	URL        string    `gorm:"size:1024" json:"url,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CapturedAt time.Time `gorm:"index" json:"captured_at"`
	LocalPath  string    `gorm:"size:1024" json:"local_path,omitempty"`
}

// TableName returns the database table name.
func (MediaRecord) TableName() string {
	return "media_records"
}

// Downloaded reports whether the media file has a local copy.
func (m *MediaRecord) Downloaded() bool {
	return m.LocalPath != ""
}
