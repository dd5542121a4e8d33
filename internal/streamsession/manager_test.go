package streamsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/poller"
	"github.com/jmylchreest/camarr/internal/state"
	"github.com/jmylchreest/camarr/internal/transport"
)

// fakeClock collects retry timers so tests fire the backoff on demand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Ticker(time.Duration) poller.Ticker {
	return silentTicker{}
}

func (c *fakeClock) AfterFunc(_ time.Duration, fn func()) poller.Timer {
	t := &fakeTimer{fn: fn}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range timers {
		t.fire()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done() {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

func (t *fakeTimer) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type silentTicker struct{}

func (silentTicker) Chan() <-chan time.Time { return nil }
func (silentTicker) Stop()                  {}

type streamStep int

const (
	stepDieImmediately streamStep = iota
	stepDieAfterFrame
	stepServeForever
)

// streamDevice serves scripted multipart feeds and records each open attempt
// with its freshness token.
type streamDevice struct {
	mu       sync.Mutex
	steps    []streamStep
	tokens   []string
	attempts atomic.Int32
}

func (d *streamDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/stream" {
		http.NotFound(w, r)
		return
	}

	d.mu.Lock()
	step := d.steps[0]
	if len(d.steps) > 1 {
		d.steps = d.steps[1:]
	}
	d.tokens = append(d.tokens, r.URL.Query().Get("t"))
	d.mu.Unlock()
	d.attempts.Add(1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()

	switch step {
	case stepDieImmediately:
		// Connection drops before any frame arrives.
	case stepDieAfterFrame:
		writeFrame(w)
		// Open the next part so the first one terminates cleanly, then drop.
		fmt.Fprint(w, "--frame\r\n")
		flusher.Flush()
	case stepServeForever:
		for {
			writeFrame(w)
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
}

func (d *streamDevice) seenTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.tokens))
	copy(out, d.tokens)
	return out
}

func writeFrame(w io.Writer) {
	fmt.Fprint(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	_, _ = w.Write([]byte("frame-bytes-not-a-real-jpeg"))
	fmt.Fprint(w, "\r\n")
}

func newTestManager(t *testing.T, device *streamDevice, clk *fakeClock) (*Manager, *state.Store) {
	t.Helper()

	server := httptest.NewServer(device)
	t.Cleanup(server.Close)

	client, err := transport.New(transport.Config{BaseURL: server.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	store := state.NewStore()
	m := New(client, store).
		WithClock(clk).
		WithConfig(config.StreamConfig{RetryBackoff: 2 * time.Second}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, store
}

func snapAt(streaming bool, at time.Time) models.DeviceSnapshot {
	return models.DeviceSnapshot{
		Connectivity: models.ConnectivityConnected,
		Power:        models.PowerActive,
		Streaming:    streaming,
		ObservedAt:   at,
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 5*time.Millisecond, "waiting for state %s, still %s", want, m.State())
}

func TestManagerOpensSingleFeedOnStreamingTrue(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepServeForever}}
	m, store := newTestManager(t, device, newFakeClock())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	base := time.Now()
	require.True(t, store.Replace(snapAt(true, base)))

	waitState(t, m, StateActive)
	assert.Equal(t, int32(1), device.attempts.Load())

	require.Eventually(t, func() bool { return m.Stats().Frames >= 1 },
		2*time.Second, 5*time.Millisecond)
	stats := m.Stats()
	assert.NotEmpty(t, stats.Token)
	assert.True(t, stats.Healthy)
	assert.Positive(t, stats.BytesRead)

	// A visible change that keeps streaming true must not touch the handle.
	next := snapAt(true, base.Add(time.Second))
	next.Recording = models.RecordingState{Active: true, Filename: "rec_001.mjpeg"}
	require.True(t, store.Replace(next))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), device.attempts.Load(), "exactly one handle per streaming episode")
	assert.Equal(t, StateActive, m.State())
}

func TestManagerClosesFeedOnDisconnect(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepServeForever}}
	m, store := newTestManager(t, device, newFakeClock())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	base := time.Now()
	require.True(t, store.Replace(snapAt(true, base)))
	waitState(t, m, StateActive)

	// The poller reports an outage; streaming drops with it.
	down := models.DeviceSnapshot{
		Connectivity: models.ConnectivityDisconnected,
		Power:        models.PowerActive,
		Streaming:    false,
		ObservedAt:   base.Add(time.Second),
	}
	require.True(t, store.Replace(down))

	waitState(t, m, StateIdle)
	assert.Empty(t, m.Stats().Token)
	assert.Equal(t, int32(1), device.attempts.Load(), "a falling edge must not trigger a reopen")
}

func TestManagerSingleRetryThenFailed(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepDieImmediately, stepDieImmediately}}
	clk := newFakeClock()
	m, store := newTestManager(t, device, clk)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.True(t, store.Replace(snapAt(true, time.Now())))

	waitState(t, m, StateRetrying)
	assert.Equal(t, int32(1), device.attempts.Load())

	clk.fireAll()

	waitState(t, m, StateFailed)
	assert.Equal(t, int32(2), device.attempts.Load(), "one retry, then terminal failure")
	assert.True(t, errors.Is(m.LastError(), models.ErrStreamFailed))
	assert.Equal(t, 0, clk.pendingTimers(), "no further retries may be scheduled")

	tokens := device.seenTokens()
	require.Len(t, tokens, 2)
	assert.NotEmpty(t, tokens[0])
	assert.NotEmpty(t, tokens[1])
	assert.NotEqual(t, tokens[0], tokens[1], "the retry must carry a fresh freshness token")
}

func TestManagerRetryBudgetResetsAfterHealthyFeed(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepDieAfterFrame, stepDieAfterFrame, stepServeForever}}
	clk := newFakeClock()
	m, store := newTestManager(t, device, clk)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.True(t, store.Replace(snapAt(true, time.Now())))

	// First handle proves healthy (one full frame) and then breaks.
	waitState(t, m, StateRetrying)
	assert.Equal(t, int32(1), device.attempts.Load())

	clk.fireAll()

	// The reopened handle also proves healthy before breaking, so its death
	// earns a fresh retry instead of terminal failure.
	require.Eventually(t, func() bool {
		return device.attempts.Load() == 2 && m.State() == StateRetrying
	}, 2*time.Second, 5*time.Millisecond)

	clk.fireAll()

	waitState(t, m, StateActive)
	assert.Equal(t, int32(3), device.attempts.Load())
}

func TestRetrySupersededByStreamingOff(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepDieImmediately, stepServeForever}}
	clk := newFakeClock()
	m, store := newTestManager(t, device, clk)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	base := time.Now()
	require.True(t, store.Replace(snapAt(true, base)))
	waitState(t, m, StateRetrying)

	// Streaming stops while the backoff is pending.
	require.True(t, store.Replace(snapAt(false, base.Add(time.Second))))
	waitState(t, m, StateIdle)

	clk.fireAll()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), device.attempts.Load(), "a superseded retry must not reopen")
	assert.Equal(t, StateIdle, m.State())
}

func TestManagerFailedClearsOnStreamingCycle(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepDieImmediately, stepDieImmediately, stepServeForever}}
	clk := newFakeClock()
	m, store := newTestManager(t, device, clk)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	base := time.Now()
	require.True(t, store.Replace(snapAt(true, base)))
	waitState(t, m, StateRetrying)
	clk.fireAll()
	waitState(t, m, StateFailed)

	// Failed is sticky while streaming stays true.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, int32(2), device.attempts.Load())

	// A full off/on cycle starts a new episode with a fresh budget.
	require.True(t, store.Replace(snapAt(false, base.Add(time.Second))))
	waitState(t, m, StateIdle)
	require.True(t, store.Replace(snapAt(true, base.Add(2*time.Second))))

	waitState(t, m, StateActive)
	assert.Equal(t, int32(3), device.attempts.Load())
	assert.NoError(t, m.LastError())
}

func TestManagerStop(t *testing.T) {
	device := &streamDevice{steps: []streamStep{stepServeForever}}
	m, store := newTestManager(t, device, newFakeClock())

	require.NoError(t, m.Start(context.Background()))
	require.True(t, store.Replace(snapAt(true, time.Now())))
	waitState(t, m, StateActive)

	m.Stop()
	assert.Equal(t, StateIdle, m.State())
	m.Stop() // idempotent

	assert.Equal(t, int32(1), device.attempts.Load())
}
