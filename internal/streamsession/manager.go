// Package streamsession binds the live feed handle to the device snapshot.
// At most one feed is open at a time, and only while the snapshot says the
// device is streaming. A broken feed gets exactly one reopen attempt after a
// short backoff; if the reopened handle breaks before it delivers a complete
// frame the session fails and stays failed until the snapshot's streaming
// flag cycles off and on again.
package streamsession

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"sync"
	"time"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/poller"
	"github.com/jmylchreest/camarr/internal/state"
	"github.com/jmylchreest/camarr/internal/transport"
)

// State is the session sub-state.
type State string

const (
	// StateIdle means no feed is wanted or open.
	StateIdle State = "idle"
	// StateActive means a feed handle is open.
	StateActive State = "active"
	// StateRetrying means the feed broke and the single reopen is pending.
	StateRetrying State = "retrying"
	// StateFailed means the retry was spent without a healthy feed. The
	// session stays failed until streaming cycles off and on again.
	StateFailed State = "failed"
)

// FeedOpener is the slice of the device client the session manager needs.
type FeedOpener interface {
	OpenStream(ctx context.Context) (*transport.Feed, error)
}

// Compile-time check that the transport client satisfies the interface.
var _ FeedOpener = (*transport.Client)(nil)

// SessionStats is a point-in-time view of the feed session.
type SessionStats struct {
	State     State     `json:"state"`
	Token     string    `json:"token,omitempty"`
	OpenedAt  time.Time `json:"opened_at,omitempty"`
	Frames    int64     `json:"frames"`
	BytesRead int64     `json:"bytes_read"`
	RetryUsed bool      `json:"retry_used"`
	Healthy   bool      `json:"healthy"`
}

// Manager reconciles the feed handle against snapshot changes.
type Manager struct {
	opener  FeedOpener
	store   *state.Store
	clock   poller.Clock
	backoff time.Duration
	logger  *slog.Logger

	onTransition func(State, error)

	mu         sync.Mutex
	st         State
	feed       *transport.Feed
	gen        uint64
	wantFeed   bool
	retryUsed  bool
	healthy    bool
	frames     int64
	bytesRead  int64
	lastErr    error
	retryTimer poller.Timer
	running    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session manager bound to a feed opener and the snapshot store.
func New(opener FeedOpener, store *state.Store) *Manager {
	return &Manager{
		opener:  opener,
		store:   store,
		clock:   poller.SystemClock(),
		backoff: 2 * time.Second,
		logger:  slog.Default(),
		st:      StateIdle,
	}
}

// WithLogger sets the logger for the manager.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithConfig applies stream session configuration.
func (m *Manager) WithConfig(cfg config.StreamConfig) *Manager {
	if cfg.RetryBackoff > 0 {
		m.backoff = cfg.RetryBackoff
	}
	return m
}

// WithClock substitutes the time source. Tests use this to fire the retry
// backoff manually.
func (m *Manager) WithClock(clock poller.Clock) *Manager {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// OnTransition registers a callback fired on every sub-state change. The
// callback runs on its own goroutine and must not block indefinitely.
func (m *Manager) OnTransition(fn func(State, error)) *Manager {
	m.onTransition = fn
	return m
}

// Start subscribes to snapshot changes and reconciles the feed against them
// until Stop or context cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("stream session manager already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.st = StateIdle
	m.mu.Unlock()

	updates, unsubscribe := m.store.Subscribe()

	m.wg.Add(1)
	go m.watchLoop(updates, unsubscribe)

	// Catch up with whatever state existed before the subscription.
	m.reconcile(m.store.Get())
	return nil
}

// Stop closes any open feed and waits for the manager's goroutines.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// State returns the current session sub-state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// LastError returns the error that produced the current state, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Stats returns a point-in-time view of the session.
func (m *Manager) Stats() SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := SessionStats{
		State:     m.st,
		Frames:    m.frames,
		BytesRead: m.bytesRead,
		RetryUsed: m.retryUsed,
		Healthy:   m.healthy,
	}
	if m.feed != nil {
		stats.Token = m.feed.Token()
		stats.OpenedAt = m.feed.OpenedAt()
	}
	return stats
}

func (m *Manager) watchLoop(updates <-chan models.DeviceSnapshot, unsubscribe func()) {
	defer m.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return
		case snap := <-updates:
			m.reconcile(snap)
		}
	}
}

// reconcile reacts to edges of the snapshot's effective streaming flag. A
// rising edge opens a feed with a fresh retry budget; a falling edge,
// including a disconnect, closes it.
func (m *Manager) reconcile(snap models.DeviceSnapshot) {
	want := snap.Streaming && snap.Connected()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	prev := m.wantFeed
	m.wantFeed = want

	switch {
	case want && !prev:
		m.retryUsed = false
		m.openLocked()
	case !want && prev:
		m.closeLocked()
		m.setStateLocked(StateIdle, nil)
	}
}

// openLocked starts a new open attempt under the next generation. Anything
// still running under an older generation becomes a no-op when it reports.
func (m *Manager) openLocked() {
	m.gen++
	gen := m.gen
	m.healthy = false

	m.wg.Add(1)
	go m.open(gen)
}

func (m *Manager) open(gen uint64) {
	defer m.wg.Done()

	feed, err := m.opener.OpenStream(m.ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || !m.running || !m.wantFeed {
		if feed != nil {
			_ = feed.Close()
		}
		return
	}
	if err != nil {
		m.handleFailureLocked(err)
		return
	}

	m.feed = feed
	m.setStateLocked(StateActive, nil)
	m.logger.Info("feed opened",
		slog.String("token", feed.Token()),
		slog.String("boundary", feed.Boundary()))

	m.wg.Add(1)
	go m.pump(gen, feed)
}

// pump consumes the multipart feed. Delivering one complete part is the
// health proof that re-arms the retry budget; any read error under the
// current generation is a feed failure.
func (m *Manager) pump(gen uint64, feed *transport.Feed) {
	defer m.wg.Done()

	if boundary := feed.Boundary(); boundary != "" {
		m.pumpMultipart(gen, feed, boundary)
		return
	}
	m.pumpRaw(gen, feed)
}

func (m *Manager) pumpMultipart(gen uint64, feed *transport.Feed, boundary string) {
	reader := multipart.NewReader(feed, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			m.feedBroke(gen, feed, err)
			return
		}
		n, err := io.Copy(io.Discard, part)
		if err != nil {
			m.feedBroke(gen, feed, err)
			return
		}
		m.frameDelivered(gen, n)
	}
}

// pumpRaw handles the degenerate case of a device that streams without a
// multipart boundary. Any delivered bytes count as health.
func (m *Manager) pumpRaw(gen uint64, feed *transport.Feed) {
	buf := make([]byte, 32*1024)
	for {
		n, err := feed.Read(buf)
		if n > 0 {
			m.frameDelivered(gen, int64(n))
		}
		if err != nil {
			m.feedBroke(gen, feed, err)
			return
		}
	}
}

func (m *Manager) frameDelivered(gen uint64, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.frames++
	m.bytesRead += n
	if !m.healthy {
		m.healthy = true
		m.retryUsed = false
		m.logger.Debug("feed proved healthy", slog.Int64("frame_bytes", n))
	}
}

func (m *Manager) feedBroke(gen uint64, feed *transport.Feed, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || !m.running {
		// Superseded by a newer decision; the closer already owns cleanup.
		return
	}

	m.feed = nil
	_ = feed.Close()
	m.handleFailureLocked(err)
}

// handleFailureLocked decides between the single retry and terminal failure.
func (m *Manager) handleFailureLocked(err error) {
	if !m.wantFeed {
		m.setStateLocked(StateIdle, nil)
		return
	}
	if m.retryUsed {
		failure := fmt.Errorf("%w: %v", models.ErrStreamFailed, err)
		m.setStateLocked(StateFailed, failure)
		m.logger.Error("feed failed after retry",
			slog.String("error", err.Error()))
		return
	}

	m.retryUsed = true
	m.setStateLocked(StateRetrying, err)
	m.logger.Warn("feed interrupted, retrying once",
		slog.Duration("backoff", m.backoff),
		slog.String("error", err.Error()))

	gen := m.gen
	m.retryTimer = m.clock.AfterFunc(m.backoff, func() { m.retryFire(gen) })
}

// retryFire runs when the backoff elapses. It re-checks the world first: a
// stop, a snapshot flip, or any newer decision makes it a no-op.
func (m *Manager) retryFire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || gen != m.gen || m.st != StateRetrying || !m.wantFeed {
		return
	}
	m.openLocked()
}

// closeLocked abandons the current generation and releases the handle.
func (m *Manager) closeLocked() {
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.feed != nil {
		_ = m.feed.Close()
		m.feed = nil
	}
	m.healthy = false
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.running = false
	m.closeLocked()
	m.setStateLocked(StateIdle, nil)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(next State, err error) {
	m.lastErr = err
	if m.st == next {
		return
	}
	prev := m.st
	m.st = next

	m.logger.Debug("stream session state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)))

	if m.onTransition != nil {
		go m.onTransition(next, err)
	}
}
