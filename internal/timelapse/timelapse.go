// Package timelapse captures still frames on a cron schedule.
//
// Captures go through the command dispatcher, so a scheduled frame never
// collides with a user command: if the dispatcher is busy or the device is
// not streaming, the frame is skipped and the schedule simply waits for the
// next boundary. A skipped or failed frame is never retried early.
package timelapse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/journal"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/poller"
)

// DefaultSchedule fires every five minutes.
const DefaultSchedule = "*/5 * * * *"

// checkInterval is how often the loop compares the clock to the schedule.
const checkInterval = time.Second

// captureTimeout bounds one scheduled capture end to end.
const captureTimeout = 30 * time.Second

// Capturer dispatches one still capture. The command dispatcher satisfies this.
type Capturer interface {
	Capture(ctx context.Context) (*models.CaptureResult, error)
}

// Timelapse runs scheduled captures against the dispatcher.
type Timelapse struct {
	capturer Capturer
	media    journal.MediaRepository
	clock    poller.Clock
	logger   *slog.Logger
	parser   cron.Parser
	expr     string

	mu       sync.Mutex
	schedule cron.Schedule
	next     time.Time
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	captured    int64
	skipped     int64
	failed      int64
	lastCapture time.Time
}

// New creates a timelapse runner over the given capturer.
func New(capturer Capturer) *Timelapse {
	return &Timelapse{
		capturer: capturer,
		clock:    poller.SystemClock(),
		logger:   slog.Default(),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		expr:     DefaultSchedule,
	}
}

// WithLogger sets the logger for the timelapse runner.
func (t *Timelapse) WithLogger(logger *slog.Logger) *Timelapse {
	t.logger = logger.With(slog.String("component", "timelapse"))
	return t
}

// WithConfig applies the timelapse configuration.
func (t *Timelapse) WithConfig(cfg config.TimelapseConfig) *Timelapse {
	if cfg.Schedule != "" {
		t.expr = cfg.Schedule
	}
	return t
}

// WithClock replaces the wall clock, primarily for tests.
func (t *Timelapse) WithClock(clock poller.Clock) *Timelapse {
	t.clock = clock
	return t
}

// WithMediaIndex makes successful captures appear in the media index
// immediately instead of waiting for the next library sync.
func (t *Timelapse) WithMediaIndex(media journal.MediaRepository) *Timelapse {
	t.media = media
	return t
}

// Start validates the schedule and begins firing captures at its boundaries.
// The first frame fires at the next boundary, not at startup.
func (t *Timelapse) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("timelapse already started")
	}

	schedule, err := t.parser.Parse(t.expr)
	if err != nil {
		return fmt.Errorf("invalid timelapse schedule %q: %w", t.expr, err)
	}

	t.schedule = schedule
	t.next = schedule.Next(t.clock.Now())
	t.running = true
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.run()

	t.logger.Info("timelapse started",
		slog.String("schedule", t.expr),
		slog.Time("next_run", t.next),
	)
	return nil
}

// Stop halts the schedule. It is safe to call more than once.
func (t *Timelapse) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("timelapse stopped")
}

// Stats is a point-in-time view of the timelapse counters.
type Stats struct {
	Captured    int64     `json:"captured"`
	Skipped     int64     `json:"skipped"`
	Failed      int64     `json:"failed"`
	LastCapture time.Time `json:"last_capture"`
	NextRun     time.Time `json:"next_run"`
}

// Stats returns the current counters and the next scheduled run.
func (t *Timelapse) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Captured:    t.captured,
		Skipped:     t.skipped,
		Failed:      t.failed,
		LastCapture: t.lastCapture,
		NextRun:     t.next,
	}
}

func (t *Timelapse) run() {
	defer t.wg.Done()

	ticker := t.clock.Ticker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.Chan():
			t.fireIfDue()
		}
	}
}

// fireIfDue captures one frame when the clock has crossed the schedule
// boundary. Late ticks fire once; the missed boundaries are not replayed.
func (t *Timelapse) fireIfDue() {
	now := t.clock.Now()

	t.mu.Lock()
	if now.Before(t.next) {
		t.mu.Unlock()
		return
	}
	t.next = t.schedule.Next(now)
	t.mu.Unlock()

	t.capture(now)
}

func (t *Timelapse) capture(now time.Time) {
	ctx, cancel := context.WithTimeout(t.ctx, captureTimeout)
	defer cancel()

	result, err := t.capturer.Capture(ctx)
	switch {
	case err == nil:
		t.mu.Lock()
		t.captured++
		t.lastCapture = now
		t.mu.Unlock()
		t.logger.Info("timelapse frame captured",
			slog.String("filename", result.Filename),
		)
		t.indexCapture(ctx, result)

	case models.IsBusy(err) || models.IsPreconditionFailed(err):
		t.mu.Lock()
		t.skipped++
		t.mu.Unlock()
		t.logger.Debug("timelapse frame skipped",
			slog.String("reason", err.Error()),
		)

	default:
		t.mu.Lock()
		t.failed++
		t.mu.Unlock()
		t.logger.Warn("timelapse capture failed",
			slog.String("error", err.Error()),
		)
	}
}

func (t *Timelapse) indexCapture(ctx context.Context, result *models.CaptureResult) {
	if t.media == nil {
		return
	}
	record := &models.MediaRecord{
		Kind:       models.MediaPicture,
		Filename:   result.Filename,
		URL:        result.URL,
		CapturedAt: result.TakenAt,
	}
	if err := t.media.Upsert(ctx, record); err != nil {
		t.logger.Warn("indexing timelapse frame failed",
			slog.String("filename", result.Filename),
			slog.String("error", err.Error()),
		)
	}
}
