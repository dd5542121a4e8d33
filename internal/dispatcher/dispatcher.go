// Package dispatcher serializes device commands. The device executes one
// command at a time, so the dispatcher holds a single busy slot: while a
// command is in flight every later submission is rejected as busy, never
// queued. Snapshot changes are confirmed-only: the store is updated from
// the device's response after the call resolves, never optimistically.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/state"
	"github.com/jmylchreest/camarr/internal/transport"
)

// DeviceClient is the slice of the device client the dispatcher needs.
type DeviceClient interface {
	StartCamera(ctx context.Context) (*transport.MessageResponse, error)
	StopCamera(ctx context.Context) (*transport.MessageResponse, error)
	Restart(ctx context.Context) (*transport.MessageResponse, error)
	Capture(ctx context.Context) (*transport.CaptureResponse, error)
	StartRecording(ctx context.Context) (*transport.RecordStartResponse, error)
	StopRecording(ctx context.Context) (*transport.RecordStopResponse, error)
	SetMode(ctx context.Context, modeID string) (*transport.MessageResponse, error)
}

// Compile-time check that the transport client satisfies the interface.
var _ DeviceClient = (*transport.Client)(nil)

// Refresher pulls device ground truth immediately. Commands that invalidate
// the snapshot wholesale (restart, mode change) use it instead of guessing
// at the resulting state.
type Refresher interface {
	RefreshNow(ctx context.Context) (models.DeviceSnapshot, error)
}

// CommandJournal persists dispatch decisions. Journal failures are logged
// and never fail the command itself.
type CommandJournal interface {
	Create(ctx context.Context, record *models.CommandRecord) error
}

// Dispatcher owns the device's single command slot.
type Dispatcher struct {
	client    DeviceClient
	store     *state.Store
	refresher Refresher
	journal   CommandJournal
	logger    *slog.Logger

	mu      sync.Mutex
	pending *models.PendingCommand
}

// New creates a dispatcher bound to a device client and the snapshot store.
func New(client DeviceClient, store *state.Store) *Dispatcher {
	return &Dispatcher{
		client: client,
		store:  store,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the dispatcher.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// WithRefresher wires the post-command status refresh path.
func (d *Dispatcher) WithRefresher(refresher Refresher) *Dispatcher {
	d.refresher = refresher
	return d
}

// WithJournal wires the command journal.
func (d *Dispatcher) WithJournal(journal CommandJournal) *Dispatcher {
	d.journal = journal
	return d
}

// Busy returns the in-flight command, if any.
func (d *Dispatcher) Busy() (models.PendingCommand, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return models.PendingCommand{}, false
	}
	return *d.pending, true
}

// StartStream activates the camera subsystem.
func (d *Dispatcher) StartStream(ctx context.Context) error {
	pending, err := d.accept(models.CommandStartStream, "")
	if err != nil {
		return d.reject(ctx, models.CommandStartStream, "", err)
	}

	_, callErr := d.client.StartCamera(ctx)
	d.complete(ctx, pending, func(snap *models.DeviceSnapshot) {
		snap.Power = models.PowerActive
		snap.Streaming = true
	}, callErr)
	return callErr
}

// StopStream deactivates the camera subsystem.
func (d *Dispatcher) StopStream(ctx context.Context) error {
	pending, err := d.accept(models.CommandStopStream, "")
	if err != nil {
		return d.reject(ctx, models.CommandStopStream, "", err)
	}

	_, callErr := d.client.StopCamera(ctx)
	d.complete(ctx, pending, func(snap *models.DeviceSnapshot) {
		snap.Power = models.PowerInactive
		snap.Streaming = false
	}, callErr)
	return callErr
}

// Restart stops and starts the camera subsystem in one device call, then
// pulls a fresh status synchronously so the snapshot reflects the device's
// actual post-restart state before the busy slot is released.
func (d *Dispatcher) Restart(ctx context.Context) error {
	pending, err := d.accept(models.CommandRestart, "")
	if err != nil {
		return d.reject(ctx, models.CommandRestart, "", err)
	}

	_, callErr := d.client.Restart(ctx)
	if callErr == nil && d.refresher != nil {
		if _, refreshErr := d.refresher.RefreshNow(ctx); refreshErr != nil {
			d.logger.Warn("post-restart status refresh failed",
				slog.String("error", refreshErr.Error()))
		}
		d.release(ctx, pending, nil)
		return nil
	}

	d.complete(ctx, pending, nil, callErr)
	return callErr
}

// Capture takes a still picture. The device only captures from a live feed,
// so the current snapshot must show streaming.
func (d *Dispatcher) Capture(ctx context.Context) (*models.CaptureResult, error) {
	pending, err := d.accept(models.CommandCapture, "", requireStreaming)
	if err != nil {
		return nil, d.reject(ctx, models.CommandCapture, "", err)
	}

	resp, callErr := d.client.Capture(ctx)
	var result *models.CaptureResult
	if callErr == nil {
		result = &models.CaptureResult{
			Filename: resp.Filename,
			URL:      resp.URL,
			TakenAt:  resp.TakenAt(),
		}
	}
	d.complete(ctx, pending, nil, callErr)
	return result, callErr
}

// StartRecording begins a video recording and returns the device-assigned
// filename.
func (d *Dispatcher) StartRecording(ctx context.Context) (string, error) {
	pending, err := d.accept(models.CommandStartRecording, "", requireStreaming, requireNotRecording)
	if err != nil {
		return "", d.reject(ctx, models.CommandStartRecording, "", err)
	}

	resp, callErr := d.client.StartRecording(ctx)
	var filename string
	var apply func(*models.DeviceSnapshot)
	if callErr == nil {
		filename = resp.Filename
		apply = func(snap *models.DeviceSnapshot) {
			snap.Recording = models.RecordingState{Active: true, Filename: filename}
		}
	}
	d.complete(ctx, pending, apply, callErr)
	return filename, callErr
}

// StopRecording finalizes the in-progress recording.
func (d *Dispatcher) StopRecording(ctx context.Context) (*models.RecordingResult, error) {
	pending, err := d.accept(models.CommandStopRecording, "", requireRecording)
	if err != nil {
		return nil, d.reject(ctx, models.CommandStopRecording, "", err)
	}

	resp, callErr := d.client.StopRecording(ctx)
	var result *models.RecordingResult
	var apply func(*models.DeviceSnapshot)
	if callErr == nil {
		result = &models.RecordingResult{
			Filename: resp.Filename,
			URL:      resp.URL,
			Duration: resp.Duration(),
		}
		apply = func(snap *models.DeviceSnapshot) {
			snap.Recording = models.RecordingState{}
		}
	}
	d.complete(ctx, pending, apply, callErr)
	return result, callErr
}

// ChangeMode switches the device to another capture mode. Switching to the
// mode the device is already in succeeds immediately without a device call.
func (d *Dispatcher) ChangeMode(ctx context.Context, modeID string) error {
	d.mu.Lock()
	if d.pending != nil {
		inFlight := d.pending.Kind
		d.mu.Unlock()
		return d.reject(ctx, models.CommandChangeMode, modeID, busyError(models.CommandChangeMode, inFlight))
	}
	if modeID != "" && d.store.Get().ModeID() == modeID {
		d.mu.Unlock()
		d.logger.Debug("mode change is a no-op", slog.String("mode", modeID))
		d.journalNoop(ctx, modeID)
		return nil
	}
	pending := models.PendingCommand{
		Kind:         models.CommandChangeMode,
		TargetModeID: modeID,
		IssuedAt:     time.Now(),
	}
	d.pending = &pending
	d.mu.Unlock()

	_, callErr := d.client.SetMode(ctx, modeID)
	if callErr == nil {
		d.merge(pending, func(snap *models.DeviceSnapshot) {
			snap.Mode = &models.CaptureMode{ID: modeID}
		})
		// The confirmation only proves the mode id; a refresh restores the
		// mode's name and dimensions.
		if d.refresher != nil {
			if _, refreshErr := d.refresher.RefreshNow(ctx); refreshErr != nil {
				d.logger.Warn("post-mode-change status refresh failed",
					slog.String("error", refreshErr.Error()))
			}
		}
		d.release(ctx, pending, nil)
		return nil
	}

	d.complete(ctx, pending, nil, callErr)
	return callErr
}

// accept claims the busy slot. Checks run against the current snapshot while
// the slot is held, so acceptance is atomic: either the command owns the
// slot afterwards or a rejection is returned and nothing changed.
func (d *Dispatcher) accept(kind models.CommandKind, targetModeID string, checks ...func(models.DeviceSnapshot) *models.CommandRejectedError) (models.PendingCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		return models.PendingCommand{}, busyError(kind, d.pending.Kind)
	}
	snap := d.store.Get()
	for _, check := range checks {
		if rejected := check(snap); rejected != nil {
			rejected.Command = kind
			return models.PendingCommand{}, rejected
		}
	}

	pending := models.PendingCommand{
		Kind:         kind,
		TargetModeID: targetModeID,
		IssuedAt:     time.Now(),
	}
	d.pending = &pending
	return pending, nil
}

// complete merges the confirmed snapshot and releases the busy slot.
func (d *Dispatcher) complete(ctx context.Context, pending models.PendingCommand, apply func(*models.DeviceSnapshot), callErr error) {
	if callErr == nil {
		d.merge(pending, apply)
	}
	d.release(ctx, pending, callErr)
}

// merge builds the post-confirmation snapshot from the current one. The
// device just answered, so connectivity is proven regardless of what the
// command changed.
func (d *Dispatcher) merge(pending models.PendingCommand, apply func(*models.DeviceSnapshot)) {
	snap := d.store.Get()
	snap.Connectivity = models.ConnectivityConnected
	if apply != nil {
		apply(&snap)
	}
	snap.ObservedAt = time.Now()
	if !d.store.Replace(snap) {
		d.logger.Debug("confirmed snapshot superseded by a newer observation",
			slog.String("command", string(pending.Kind)))
	}
}

// release returns the dispatcher to idle and journals the outcome.
func (d *Dispatcher) release(ctx context.Context, pending models.PendingCommand, callErr error) {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()

	latency := time.Since(pending.IssuedAt)
	if callErr != nil {
		d.logger.Warn("command failed",
			slog.String("command", string(pending.Kind)),
			slog.Duration("latency", latency),
			slog.String("error", callErr.Error()))
	} else {
		d.logger.Info("command confirmed",
			slog.String("command", string(pending.Kind)),
			slog.Duration("latency", latency))
	}

	d.journalOutcome(ctx, pending, callErr)
}

func (d *Dispatcher) reject(ctx context.Context, kind models.CommandKind, targetModeID string, err error) error {
	var rejected *models.CommandRejectedError
	if errors.As(err, &rejected) {
		d.logger.Debug("command rejected",
			slog.String("command", string(kind)),
			slog.String("kind", string(rejected.Kind)),
			slog.String("reason", rejected.Reason))
	}
	d.journalRejection(ctx, kind, targetModeID, err)
	return err
}

func (d *Dispatcher) journalOutcome(ctx context.Context, pending models.PendingCommand, callErr error) {
	if d.journal == nil {
		return
	}
	finished := time.Now()
	record := &models.CommandRecord{
		Kind:         pending.Kind,
		TargetModeID: pending.TargetModeID,
		Accepted:     true,
		IssuedAt:     pending.IssuedAt,
		FinishedAt:   finished,
		LatencyMs:    finished.Sub(pending.IssuedAt).Milliseconds(),
	}
	if callErr != nil {
		record.Error = callErr.Error()
		var terr *models.TransportError
		if errors.As(callErr, &terr) {
			record.ErrorKind = string(terr.Kind)
		}
	}
	d.writeRecord(ctx, record)
}

func (d *Dispatcher) journalRejection(ctx context.Context, kind models.CommandKind, targetModeID string, err error) {
	if d.journal == nil {
		return
	}
	now := time.Now()
	record := &models.CommandRecord{
		Kind:         kind,
		TargetModeID: targetModeID,
		Accepted:     false,
		Error:        err.Error(),
		IssuedAt:     now,
		FinishedAt:   now,
	}
	var rejected *models.CommandRejectedError
	if errors.As(err, &rejected) {
		record.ErrorKind = string(rejected.Kind)
	}
	d.writeRecord(ctx, record)
}

func (d *Dispatcher) journalNoop(ctx context.Context, modeID string) {
	if d.journal == nil {
		return
	}
	now := time.Now()
	d.writeRecord(ctx, &models.CommandRecord{
		Kind:         models.CommandChangeMode,
		TargetModeID: modeID,
		Accepted:     true,
		IssuedAt:     now,
		FinishedAt:   now,
	})
}

// writeRecord journals with a cancellation-free context so a timed-out
// command still leaves a trace.
func (d *Dispatcher) writeRecord(ctx context.Context, record *models.CommandRecord) {
	if err := d.journal.Create(context.WithoutCancel(ctx), record); err != nil {
		d.logger.Warn("journaling command failed",
			slog.String("command", string(record.Kind)),
			slog.String("error", err.Error()))
	}
}

func busyError(attempted, inFlight models.CommandKind) *models.CommandRejectedError {
	return &models.CommandRejectedError{
		Kind:    models.RejectionBusy,
		Command: attempted,
		Reason:  fmt.Sprintf("%s is in flight", inFlight),
	}
}

func requireStreaming(snap models.DeviceSnapshot) *models.CommandRejectedError {
	if !snap.Streaming {
		return &models.CommandRejectedError{
			Kind:   models.RejectionPrecondition,
			Reason: "device is not streaming",
		}
	}
	return nil
}

func requireNotRecording(snap models.DeviceSnapshot) *models.CommandRejectedError {
	if snap.Recording.Active {
		return &models.CommandRejectedError{
			Kind:   models.RejectionPrecondition,
			Reason: "recording already in progress",
		}
	}
	return nil
}

func requireRecording(snap models.DeviceSnapshot) *models.CommandRejectedError {
	if !snap.Recording.Active {
		return &models.CommandRejectedError{
			Kind:   models.RejectionPrecondition,
			Reason: "no recording in progress",
		}
	}
	return nil
}
