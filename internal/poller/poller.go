// Package poller keeps the device state store fresh. It fetches the status
// endpoint on a fixed cadence, converts each response into an immutable
// snapshot, and replaces the store's current snapshot with it. Poll failures
// are counted; once the consecutive-failure threshold is reached the device
// is published as disconnected, with the last-known mode and recording state
// preserved as stale-but-displayable fields.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/state"
	"github.com/jmylchreest/camarr/internal/transport"
)

// StatusClient is the slice of the device client the poller needs.
type StatusClient interface {
	Status(ctx context.Context) (*transport.StatusResponse, error)
}

// Compile-time check that the transport client satisfies the interface.
var _ StatusClient = (*transport.Client)(nil)

// Poller periodically fetches device status and publishes snapshots.
type Poller struct {
	client StatusClient
	store  *state.Store
	clock  Clock
	logger *slog.Logger

	interval  time.Duration
	threshold int

	mu       sync.Mutex
	failures int
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller with default cadence settings.
func New(client StatusClient, store *state.Store) *Poller {
	return &Poller{
		client:    client,
		store:     store,
		clock:     SystemClock(),
		logger:    slog.Default(),
		interval:  5 * time.Second,
		threshold: 1,
	}
}

// WithLogger sets the logger for the poller.
func (p *Poller) WithLogger(logger *slog.Logger) *Poller {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithConfig applies cadence configuration.
func (p *Poller) WithConfig(cfg config.PollerConfig) *Poller {
	if cfg.Interval > 0 {
		p.interval = cfg.Interval
	}
	if cfg.FailureThreshold > 0 {
		p.threshold = cfg.FailureThreshold
	}
	return p
}

// WithClock substitutes the time source. Tests use this to drive ticks.
func (p *Poller) WithClock(clock Clock) *Poller {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Start begins the polling loop. The first poll runs immediately; subsequent
// polls fire on the configured interval until Stop or context cancellation.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.pollLoop()

	p.logger.Info("poller started",
		slog.Duration("interval", p.interval),
		slog.Int("failure_threshold", p.threshold))
	return nil
}

// Stop halts the polling loop and waits for in-flight polls to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("poller stopped")
}

// RefreshNow performs one synchronous fetch-and-publish outside the regular
// cadence. It returns the store's snapshot after the merge attempt, and the
// fetch error if the device did not answer. Command confirmation paths use
// this to pull ground truth immediately instead of waiting for the next tick.
func (p *Poller) RefreshNow(ctx context.Context) (models.DeviceSnapshot, error) {
	err := p.pollOnce(ctx)
	return p.store.Get(), err
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	// Populate state immediately rather than waiting a full interval.
	p.spawnPoll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.spawnPoll()
		}
	}
}

// spawnPoll runs one poll without blocking the loop, so a slow device never
// delays the cadence. Overlapping polls are safe: ObservedAt is captured at
// fetch initiation, so a slow response loses the store's monotonicity race.
func (p *Poller) spawnPoll() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.pollOnce(p.ctx)
	}()
}

// pollOnce fetches status once and publishes the resulting snapshot.
func (p *Poller) pollOnce(ctx context.Context) error {
	observedAt := p.clock.Now()

	status, err := p.client.Status(ctx)
	if err != nil {
		p.recordFailure(observedAt, err)
		return err
	}

	p.recordSuccess(observedAt, status)
	return nil
}

func (p *Poller) recordSuccess(observedAt time.Time, status *transport.StatusResponse) {
	p.mu.Lock()
	recovered := p.failures >= p.threshold
	p.failures = 0
	p.mu.Unlock()

	prev := p.store.Get()
	snap := models.DeviceSnapshot{
		Connectivity: models.ConnectivityConnected,
		Power:        status.Power(),
		Streaming:    status.Streaming,
		Mode:         status.CurrentMode.Model(),
		Recording:    status.Recording.Model(),
		ObservedAt:   observedAt,
	}
	// A status body without a mode block is a partial observation; keep the
	// last-known mode rather than erasing it.
	if snap.Mode == nil {
		snap.Mode = prev.Mode
	}

	if !p.store.Replace(snap) {
		p.logger.Debug("stale status response dropped",
			slog.Time("observed_at", observedAt),
			slog.Time("current", p.store.ObservedAt()))
		return
	}

	if recovered {
		p.logger.Info("device reachable again",
			slog.String("power", string(snap.Power)),
			slog.Bool("streaming", snap.Streaming))
	}
}

func (p *Poller) recordFailure(observedAt time.Time, err error) {
	p.mu.Lock()
	p.failures++
	count := p.failures
	p.mu.Unlock()

	if count < p.threshold {
		p.logger.Debug("status poll failed",
			slog.Int("consecutive_failures", count),
			slog.Int("threshold", p.threshold),
			slog.String("error", err.Error()))
		return
	}

	if count == p.threshold {
		p.logger.Warn("device disconnected",
			slog.Int("consecutive_failures", count),
			slog.String("error", err.Error()))
	}

	prev := p.store.Get()
	snap := models.DeviceSnapshot{
		Connectivity: models.ConnectivityDisconnected,
		Power:        prev.Power,
		Streaming:    false,
		Mode:         prev.Mode,
		Recording:    prev.Recording,
		ObservedAt:   observedAt,
	}

	if !p.store.Replace(snap) {
		p.logger.Debug("stale failure observation dropped",
			slog.Time("observed_at", observedAt))
	}
}
