package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnknownSnapshot(t *testing.T) {
	s := UnknownSnapshot()

	assert.Equal(t, ConnectivityDisconnected, s.Connectivity)
	assert.Equal(t, PowerInactive, s.Power)
	assert.False(t, s.Streaming)
	assert.Nil(t, s.Mode)
	assert.False(t, s.Recording.Active)
	assert.True(t, s.ObservedAt.IsZero(), "unknown snapshot must predate every real observation")
}

func TestDeviceSnapshotVisiblyEqual(t *testing.T) {
	mode := &CaptureMode{ID: "hd", Name: "HD", Width: 1280, Height: 720, Framerate: 30}
	base := DeviceSnapshot{
		Connectivity: ConnectivityConnected,
		Power:        PowerActive,
		Streaming:    true,
		Mode:         mode,
		ObservedAt:   time.Now(),
	}

	tests := []struct {
		name   string
		mutate func(s DeviceSnapshot) DeviceSnapshot
		equal  bool
	}{
		{
			name:   "identical",
			mutate: func(s DeviceSnapshot) DeviceSnapshot { return s },
			equal:  true,
		},
		{
			name: "only observation time differs",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				s.ObservedAt = s.ObservedAt.Add(5 * time.Second)
				return s
			},
			equal: true,
		},
		{
			name: "same mode value behind a different pointer",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				copied := *mode
				s.Mode = &copied
				return s
			},
			equal: true,
		},
		{
			name: "power differs",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				s.Power = PowerInactive
				return s
			},
			equal: false,
		},
		{
			name: "streaming differs",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				s.Streaming = false
				return s
			},
			equal: false,
		},
		{
			name: "mode cleared",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				s.Mode = nil
				return s
			},
			equal: false,
		},
		{
			name: "mode id differs",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				s.Mode = &CaptureMode{ID: "sd", Name: "SD", Width: 640, Height: 480, Framerate: 30}
				return s
			},
			equal: false,
		},
		{
			name: "recording started",
			mutate: func(s DeviceSnapshot) DeviceSnapshot {
				s.Recording = RecordingState{Active: true, Filename: "video_001.mp4"}
				return s
			},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := tt.mutate(base)
			assert.Equal(t, tt.equal, base.VisiblyEqual(other))
			assert.Equal(t, tt.equal, other.VisiblyEqual(base), "VisiblyEqual must be symmetric")
		})
	}
}

func TestCaptureModeResolution(t *testing.T) {
	assert.Equal(t, "1920x1080", CaptureMode{Width: 1920, Height: 1080}.Resolution())
	assert.Equal(t, "", CaptureMode{}.Resolution())
}

func TestDeviceSnapshotModeID(t *testing.T) {
	assert.Equal(t, "", UnknownSnapshot().ModeID())

	s := DeviceSnapshot{Mode: &CaptureMode{ID: "hd"}}
	assert.Equal(t, "hd", s.ModeID())
}
