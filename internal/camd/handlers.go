package camd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/sensors"
)

// deviceHandler exposes the device control API over huma.
type deviceHandler struct {
	device  *Device
	storage *Storage
	logger  *slog.Logger
	started time.Time
}

func newDeviceHandler(device *Device, storage *Storage, logger *slog.Logger) *deviceHandler {
	return &deviceHandler{
		device:  device,
		storage: storage,
		logger:  logger,
		started: time.Now(),
	}
}

// mapDeviceError converts device rule violations to the wire status codes
// the physical device uses.
func mapDeviceError(err error) error {
	switch {
	case errors.Is(err, ErrNotStreaming):
		return huma.Error409Conflict("Camera is not streaming")
	case errors.Is(err, ErrRecordingInProgress):
		return huma.Error409Conflict("Recording already in progress")
	case errors.Is(err, ErrNoRecording):
		return huma.Error409Conflict("No recording in progress")
	case errors.Is(err, ErrModeLocked):
		return huma.Error409Conflict("Cannot change mode while recording")
	case errors.Is(err, ErrUnknownMode):
		return huma.Error404NotFound("Unknown camera mode")
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}

// unixSeconds renders a time as a fractional Unix timestamp, the way the
// device protocol reports times.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

type messageBody struct {
	Message string `json:"message" doc:"Human-readable result"`
}

type messageOutput struct {
	Body messageBody
}

type recordingStatusBody struct {
	Active         bool    `json:"active" doc:"Whether a recording is in progress"`
	Filename       string  `json:"filename,omitempty" doc:"In-progress recording filename"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty" doc:"Seconds since the recording started"`
}

type statusBody struct {
	Status        string              `json:"status" enum:"active,inactive" doc:"Camera power state"`
	Streaming     bool                `json:"streaming" doc:"Whether the live feed is on"`
	LastAccess    *float64            `json:"last_access" doc:"Unix timestamp of the last feed or capture access, null when never accessed"`
	CurrentMode   *Mode               `json:"current_mode,omitempty" doc:"Active capture mode"`
	Recording     recordingStatusBody `json:"recording" doc:"Recording state"`
	UptimeSeconds float64             `json:"uptime_seconds,omitempty" doc:"Device uptime in seconds"`
	TemperatureC  float64             `json:"temperature_c,omitempty" doc:"CPU temperature in degrees Celsius"`
}

type statusOutput struct {
	Body statusBody
}

type modesBody struct {
	AvailableModes []Mode `json:"available_modes" doc:"Modes the sensor offers"`
	CurrentMode    string `json:"current_mode" doc:"ID of the active mode"`
}

type modesOutput struct {
	Body modesBody
}

type setModeInput struct {
	Body struct {
		ModeID string `json:"mode_id" doc:"ID of the mode to switch to"`
	}
}

type captureBody struct {
	Message   string  `json:"message" doc:"Human-readable result"`
	Filename  string  `json:"filename" doc:"Stored picture filename"`
	URL       string  `json:"url" doc:"Device-relative download URL"`
	Timestamp float64 `json:"timestamp" doc:"Unix timestamp of the capture"`
}

type captureOutput struct {
	Body captureBody
}

type recordStartBody struct {
	Message  string `json:"message" doc:"Human-readable result"`
	Filename string `json:"filename" doc:"Filename the recording will be stored under"`
}

type recordStartOutput struct {
	Body recordStartBody
}

type recordStopBody struct {
	Message  string  `json:"message" doc:"Human-readable result"`
	Filename string  `json:"filename" doc:"Stored recording filename"`
	URL      string  `json:"url" doc:"Device-relative download URL"`
	Duration float64 `json:"duration" doc:"Recording length in seconds"`
}

type recordStopOutput struct {
	Body recordStopBody
}

type mediaFileBody struct {
	Filename string  `json:"filename" doc:"File name on the device"`
	URL      string  `json:"url" doc:"Device-relative download URL"`
	Size     int64   `json:"size" doc:"File size in bytes"`
	Created  float64 `json:"created" doc:"Unix timestamp of creation"`
	Duration float64 `json:"duration,omitempty" doc:"Clip length in seconds"`
}

type picturesOutput struct {
	Body struct {
		Pictures []mediaFileBody `json:"pictures" doc:"Stored still pictures, newest first"`
	}
}

type recordingsOutput struct {
	Body struct {
		Recordings []mediaFileBody `json:"recordings" doc:"Stored recordings, newest first"`
	}
}

type healthBody struct {
	Status          string  `json:"status" doc:"Service health state"`
	Service         string  `json:"service" doc:"Service identifier"`
	UptimeSeconds   float64 `json:"uptime_seconds" doc:"Process uptime in seconds"`
	Goroutines      int     `json:"goroutines" doc:"Live goroutine count"`
	Load1Min        float64 `json:"load_1min,omitempty" doc:"One-minute load average"`
	MemoryUsedMB    float64 `json:"memory_used_mb,omitempty" doc:"System memory in use"`
	MemoryTotalMB   float64 `json:"memory_total_mb,omitempty" doc:"Total system memory"`
	ProcessMemoryMB float64 `json:"process_memory_mb,omitempty" doc:"Resident memory of this process"`
}

type healthOutput struct {
	Body healthBody
}

// Register wires every control endpoint into the API.
func (h *deviceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCameraStatus",
		Method:      "GET",
		Path:        "/api/camera/status",
		Summary:     "Camera status",
		Description: "Returns power, streaming, mode, and recording state",
		Tags:        []string{"Camera"},
	}, h.getStatus)

	huma.Register(api, huma.Operation{
		OperationID: "startCamera",
		Method:      "GET",
		Path:        "/api/camera/start",
		Summary:     "Start streaming",
		Tags:        []string{"Camera"},
	}, h.startCamera)

	huma.Register(api, huma.Operation{
		OperationID: "stopCamera",
		Method:      "GET",
		Path:        "/api/camera/stop",
		Summary:     "Stop streaming",
		Tags:        []string{"Camera"},
	}, h.stopCamera)

	huma.Register(api, huma.Operation{
		OperationID: "restartCamera",
		Method:      "GET",
		Path:        "/api/camera/restart",
		Summary:     "Restart the camera subsystem",
		Tags:        []string{"Camera"},
	}, h.restartCamera)

	huma.Register(api, huma.Operation{
		OperationID: "listCameraModes",
		Method:      "GET",
		Path:        "/api/camera/modes",
		Summary:     "List capture modes",
		Tags:        []string{"Camera"},
	}, h.listModes)

	huma.Register(api, huma.Operation{
		OperationID: "setCameraMode",
		Method:      "POST",
		Path:        "/api/camera/mode",
		Summary:     "Switch capture mode",
		Tags:        []string{"Camera"},
	}, h.setMode)

	huma.Register(api, huma.Operation{
		OperationID: "captureStill",
		Method:      "POST",
		Path:        "/api/camera/capture",
		Summary:     "Capture a still picture",
		Tags:        []string{"Camera"},
	}, h.capture)

	huma.Register(api, huma.Operation{
		OperationID: "startRecording",
		Method:      "POST",
		Path:        "/api/camera/recording/start",
		Summary:     "Start a recording",
		Tags:        []string{"Recording"},
	}, h.startRecording)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecording",
		Method:      "POST",
		Path:        "/api/camera/recording/stop",
		Summary:     "Stop the active recording",
		Tags:        []string{"Recording"},
	}, h.stopRecording)

	huma.Register(api, huma.Operation{
		OperationID: "listPictures",
		Method:      "GET",
		Path:        "/api/camera/pictures",
		Summary:     "List stored pictures",
		Tags:        []string{"Media"},
	}, h.listPictures)

	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/camera/recordings",
		Summary:     "List stored recordings",
		Tags:        []string{"Media"},
	}, h.listRecordings)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service liveness plus basic system metrics",
		Tags:        []string{"System"},
	}, h.getHealth)
}

func (h *deviceHandler) getStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	st := h.device.Status()

	body := statusBody{
		Streaming: st.Streaming,
		Recording: recordingStatusBody{Active: st.Recording.Active},
	}
	if st.Powered {
		body.Status = "active"
	} else {
		body.Status = "inactive"
	}
	if !st.LastAccess.IsZero() {
		ts := unixSeconds(st.LastAccess)
		body.LastAccess = &ts
	}
	mode := st.Mode
	body.CurrentMode = &mode
	if st.Recording.Active {
		body.Recording.Filename = st.Recording.Filename
		body.Recording.ElapsedSeconds = time.Since(st.Recording.StartedAt).Seconds()
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		body.UptimeSeconds = float64(uptime)
	} else {
		body.UptimeSeconds = time.Since(st.StartedAt).Seconds()
	}
	body.TemperatureC = cpuTemperature(ctx)

	return &statusOutput{Body: body}, nil
}

func (h *deviceHandler) startCamera(_ context.Context, _ *struct{}) (*messageOutput, error) {
	h.device.Start()
	return &messageOutput{Body: messageBody{Message: "Camera streaming started"}}, nil
}

func (h *deviceHandler) stopCamera(_ context.Context, _ *struct{}) (*messageOutput, error) {
	h.device.Stop()
	return &messageOutput{Body: messageBody{Message: "Camera streaming stopped"}}, nil
}

func (h *deviceHandler) restartCamera(_ context.Context, _ *struct{}) (*messageOutput, error) {
	h.device.Restart()
	return &messageOutput{Body: messageBody{Message: "Camera restarted successfully"}}, nil
}

func (h *deviceHandler) listModes(_ context.Context, _ *struct{}) (*modesOutput, error) {
	modes, current := h.device.Modes()
	out := &modesOutput{}
	out.Body.AvailableModes = modes
	out.Body.CurrentMode = current.ID
	return out, nil
}

func (h *deviceHandler) setMode(_ context.Context, input *setModeInput) (*messageOutput, error) {
	mode, err := h.device.SetMode(input.Body.ModeID)
	if err != nil {
		return nil, mapDeviceError(err)
	}
	return &messageOutput{Body: messageBody{
		Message: fmt.Sprintf("Mode changed to %s", mode.ID),
	}}, nil
}

func (h *deviceHandler) capture(_ context.Context, _ *struct{}) (*captureOutput, error) {
	item, err := h.device.Capture()
	if err != nil {
		return nil, mapDeviceError(err)
	}
	return &captureOutput{Body: captureBody{
		Message:   "Picture captured",
		Filename:  item.Filename,
		URL:       item.URL(pictureDir),
		Timestamp: unixSeconds(item.Created),
	}}, nil
}

func (h *deviceHandler) startRecording(_ context.Context, _ *struct{}) (*recordStartOutput, error) {
	filename, err := h.device.StartRecording()
	if err != nil {
		return nil, mapDeviceError(err)
	}
	return &recordStartOutput{Body: recordStartBody{
		Message:  "Recording started",
		Filename: filename,
	}}, nil
}

func (h *deviceHandler) stopRecording(_ context.Context, _ *struct{}) (*recordStopOutput, error) {
	item, err := h.device.StopRecording()
	if err != nil {
		return nil, mapDeviceError(err)
	}
	return &recordStopOutput{Body: recordStopBody{
		Message:  "Recording stopped",
		Filename: item.Filename,
		URL:      item.URL(recordingDir),
		Duration: item.Duration,
	}}, nil
}

func (h *deviceHandler) listPictures(_ context.Context, _ *struct{}) (*picturesOutput, error) {
	items, err := h.storage.Pictures()
	if err != nil {
		return nil, mapDeviceError(err)
	}
	out := &picturesOutput{}
	out.Body.Pictures = mediaFileBodies(items, pictureDir)
	return out, nil
}

func (h *deviceHandler) listRecordings(_ context.Context, _ *struct{}) (*recordingsOutput, error) {
	items, err := h.storage.Recordings()
	if err != nil {
		return nil, mapDeviceError(err)
	}
	out := &recordingsOutput{}
	out.Body.Recordings = mediaFileBodies(items, recordingDir)
	return out, nil
}

func (h *deviceHandler) getHealth(_ context.Context, _ *struct{}) (*healthOutput, error) {
	body := healthBody{
		Status:        "healthy",
		Service:       "camera-stream",
		UptimeSeconds: time.Since(h.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		body.Load1Min = loadAvg.Load1
	}
	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		body.MemoryUsedMB = float64(vmStat.Used) / 1024 / 1024
		body.MemoryTotalMB = float64(vmStat.Total) / 1024 / 1024
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			body.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}

	return &healthOutput{Body: body}, nil
}

// mediaFileBodies converts storage listings to their wire shape.
func mediaFileBodies(items []MediaItem, kind string) []mediaFileBody {
	out := make([]mediaFileBody, 0, len(items))
	for _, item := range items {
		out = append(out, mediaFileBody{
			Filename: item.Filename,
			URL:      item.URL(kind),
			Size:     item.Size,
			Created:  unixSeconds(item.Created),
			Duration: item.Duration,
		})
	}
	return out
}

// cpuTemperature reads the first CPU-adjacent sensor. Zero when the host
// exposes none, which omits the field from status bodies.
func cpuTemperature(ctx context.Context) float64 {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil {
		return 0
	}
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "coretemp") || strings.Contains(key, "thermal") {
			return t.Temperature
		}
	}
	return 0
}
