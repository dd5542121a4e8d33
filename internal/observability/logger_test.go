package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camarr/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "text"}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"debug logs at info level", "debug", slog.LevelInfo, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"error logs at error level", "error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.LoggingConfig{Level: tt.configLevel, Format: "json"}

			logger := NewLoggerWithWriter(cfg, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewLogger_AddSource(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", AddSource: true}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message")

	assert.Contains(t, buf.String(), "logger_test.go")
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", TimeFormat: "2006-01-02"}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message")

	today := time.Now().Format("2006-01-02")
	assert.Contains(t, buf.String(), today)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	WithComponent(logger, "poller").Info("test")

	assert.Contains(t, buf.String(), `"component":"poller"`)
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	WithRequestID(logger, "req-123").Info("test")

	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	WithError(logger, errors.New("something went wrong")).Info("test")
	assert.Contains(t, buf.String(), `"error":"something went wrong"`)

	buf.Reset()
	WithError(logger, nil).Info("test")
	assert.NotContains(t, buf.String(), `"error"`)
}

func TestContextWithLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	ctx := ContextWithLogger(context.Background(), logger)
	LoggerFromContext(ctx).Info("from context")

	assert.Contains(t, buf.String(), "from context")
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestContextWithRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-789")
	assert.Equal(t, "req-789", RequestIDFromContext(ctx))

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	done := TimedOperation(context.Background(), logger, "refresh_status")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation started")
	assert.Contains(t, output, "operation completed")
	assert.Contains(t, output, "refresh_status")
	assert.Contains(t, output, "duration")
}

func TestTimedOperationWithError(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggingConfig{Level: "info", Format: "json"}
		logger := NewLoggerWithWriter(cfg, &buf)

		var err error
		done := TimedOperationWithError(context.Background(), logger, "sync", &err)
		done()

		assert.Contains(t, buf.String(), "operation completed")
		assert.NotContains(t, buf.String(), "operation failed")
	})

	t.Run("failure", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggingConfig{Level: "info", Format: "json"}
		logger := NewLoggerWithWriter(cfg, &buf)

		var err error
		done := TimedOperationWithError(context.Background(), logger, "sync", &err)
		err = errors.New("device unreachable")
		done()

		assert.Contains(t, buf.String(), "operation failed")
		assert.Contains(t, buf.String(), "device unreachable")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestSensitiveFieldRedaction(t *testing.T) {
	fields := []string{"password", "token", "auth_token", "api_key", "apikey", "authorization"}

	for _, field := range fields {
		t.Run(field, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.LoggingConfig{Level: "info", Format: "json"}
			logger := NewLoggerWithWriter(cfg, &buf)

			logger.Info("test message", slog.String(field, "super-sensitive"))

			output := buf.String()
			assert.NotContains(t, output, "super-sensitive",
				"field %s should be redacted", field)
			assert.Contains(t, output, "[REDACTED]")
		})
	}
}

func TestSecretTagRedaction(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	device := config.DeviceConfig{
		BaseURL:   "http://camera.local:8000",
		AuthToken: "bearer-xyz-123",
	}
	logger.Info("device configured", slog.Any("device", device))

	output := buf.String()
	assert.Contains(t, output, "http://camera.local:8000")
	assert.NotContains(t, output, "bearer-xyz-123")
	assert.Contains(t, output, "[REDACTED]")
}

func TestNonSensitiveDataNotRedacted(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Info("test message",
		slog.String("filename", "capture_001.jpg"),
		slog.String("url", "http://example.com/pictures/capture_001.jpg"),
		slog.Int("size", 48213),
	)

	output := buf.String()
	assert.Contains(t, output, "capture_001.jpg")
	assert.Contains(t, output, "http://example.com/pictures/capture_001.jpg")
	assert.Contains(t, output, "48213")
}
