package integration

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camarr/internal/camd"
	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/dispatcher"
	"github.com/jmylchreest/camarr/internal/journal"
	"github.com/jmylchreest/camarr/internal/library"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/poller"
	"github.com/jmylchreest/camarr/internal/state"
	"github.com/jmylchreest/camarr/internal/streamsession"
	"github.com/jmylchreest/camarr/internal/transport"
)

const (
	eventuallyWait = 5 * time.Second
	eventuallyTick = 25 * time.Millisecond
)

// startSimulator runs an in-process camarr-camd behind an httptest server.
func startSimulator(t *testing.T, strict bool) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := camd.NewServer(config.CamdConfig{
		StorageDir:   t.TempDir(),
		StorageQuota: config.ByteSize(64 * 1024 * 1024),
		Strict:       strict,
		Framerate:    30,
		Mode:         "720p",
	}, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// core bundles the client-side components wired the way the CLI wires them.
type core struct {
	client     *transport.Client
	store      *state.Store
	poller     *poller.Poller
	dispatcher *dispatcher.Dispatcher
	commands   journal.CommandRepository
	media      journal.MediaRepository
}

func newCore(t *testing.T, baseURL string) *core {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := transport.New(transport.Config{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Logger:  logger,
	})
	require.NoError(t, err)

	db, err := journal.Open(config.JournalConfig{
		Enabled:  true,
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "journal.db"),
		LogLevel: "silent",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := state.NewStore().WithLogger(logger)
	p := poller.New(client, store).
		WithLogger(logger).
		WithConfig(config.PollerConfig{Interval: 100 * time.Millisecond, FailureThreshold: 2})

	commands := journal.NewCommandRepository(db)
	d := dispatcher.New(client, store).
		WithLogger(logger).
		WithRefresher(p).
		WithJournal(commands)

	return &core{
		client:     client,
		store:      store,
		poller:     p,
		dispatcher: d,
		commands:   commands,
		media:      journal.NewMediaRepository(db),
	}
}

// TestCommandLifecycleAgainstSimulator drives every dispatcher command
// against a strict in-process device and checks that each confirmation
// lands in the snapshot store and the command journal.
func TestCommandLifecycleAgainstSimulator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ts := startSimulator(t, true)
	c := newCore(t, ts.URL)

	_, err := c.poller.RefreshNow(ctx)
	require.NoError(t, err)

	snap := c.store.Get()
	require.True(t, snap.Connected())
	require.Equal(t, models.PowerInactive, snap.Power)
	require.Equal(t, "720p", snap.ModeID())

	t.Run("start_stream_confirms_in_snapshot", func(t *testing.T) {
		require.NoError(t, c.dispatcher.StartStream(ctx))

		snap := c.store.Get()
		assert.Equal(t, models.PowerActive, snap.Power)
		assert.True(t, snap.Streaming)

		_, busy := c.dispatcher.Busy()
		assert.False(t, busy, "busy slot should be released after confirmation")
	})

	t.Run("capture_returns_device_filename", func(t *testing.T) {
		result, err := c.dispatcher.Capture(ctx)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(result.Filename, ".jpg"), "got %q", result.Filename)
		assert.NotEmpty(t, result.URL)
	})

	t.Run("recording_round_trip", func(t *testing.T) {
		filename, err := c.dispatcher.StartRecording(ctx)
		require.NoError(t, err)
		require.True(t, c.store.Get().Recording.Active)

		result, err := c.dispatcher.StopRecording(ctx)
		require.NoError(t, err)
		assert.Equal(t, filename, result.Filename)
		assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
		assert.False(t, c.store.Get().Recording.Active)
	})

	t.Run("change_mode_confirms_and_noops", func(t *testing.T) {
		require.NoError(t, c.dispatcher.ChangeMode(ctx, "1080p"))
		assert.Equal(t, "1080p", c.store.Get().ModeID())

		// Changing to the current mode succeeds without touching the device.
		require.NoError(t, c.dispatcher.ChangeMode(ctx, "1080p"))
		assert.Equal(t, "1080p", c.store.Get().ModeID())
	})

	t.Run("stop_stream_then_strict_capture_rejected_locally", func(t *testing.T) {
		require.NoError(t, c.dispatcher.StopStream(ctx))

		snap := c.store.Get()
		require.False(t, snap.Streaming)
		require.Equal(t, models.PowerInactive, snap.Power)

		_, err := c.dispatcher.Capture(ctx)
		require.Error(t, err)
		assert.True(t, models.IsPreconditionFailed(err), "got %v", err)
	})

	t.Run("journal_holds_one_record_per_decision", func(t *testing.T) {
		records, total, err := c.commands.List(ctx, 50, 0)
		require.NoError(t, err)
		// start, capture, record start/stop, two mode changes, stop, rejected capture.
		assert.Equal(t, int64(8), total)
		assert.Len(t, records, 8)

		rejected, err := c.commands.CountRejected(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rejected)

		captures, err := c.commands.ListByKind(ctx, models.CommandCapture, 10)
		require.NoError(t, err)
		require.Len(t, captures, 2)
	})
}

// TestLibraryRoundTrip captures media on the device, mirrors it into the
// index, downloads it, and moves the index between databases via
// export/import.
func TestLibraryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ts := startSimulator(t, false)
	c := newCore(t, ts.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := c.poller.RefreshNow(ctx)
	require.NoError(t, err)
	require.NoError(t, c.dispatcher.StartStream(ctx))

	first, err := c.dispatcher.Capture(ctx)
	require.NoError(t, err)
	_, err = c.dispatcher.Capture(ctx)
	require.NoError(t, err)

	_, err = c.dispatcher.StartRecording(ctx)
	require.NoError(t, err)
	_, err = c.dispatcher.StopRecording(ctx)
	require.NoError(t, err)

	downloadDir := t.TempDir()
	lib := library.New(c.client, c.media).
		WithLogger(logger).
		WithConfig(config.LibraryConfig{DownloadDir: downloadDir, ExportCompression: "xz"})

	result, err := lib.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pictures)
	assert.Equal(t, 1, result.Recordings)

	t.Run("download_produces_decodable_jpeg", func(t *testing.T) {
		path, err := lib.Download(ctx, first.Filename)
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		_, err = jpeg.Decode(f)
		require.NoError(t, err)

		record, err := c.media.GetByFilename(ctx, first.Filename)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.True(t, record.Downloaded())
	})

	t.Run("download_all_fetches_the_rest", func(t *testing.T) {
		count, err := lib.DownloadAll(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		pending, err := lib.Pending(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("export_import_moves_the_index", func(t *testing.T) {
		var buf bytes.Buffer
		exported, err := lib.Export(ctx, &buf)
		require.NoError(t, err)
		assert.Equal(t, 3, exported)

		otherDB, err := journal.Open(config.JournalConfig{
			Enabled:  true,
			Driver:   "sqlite",
			DSN:      filepath.Join(t.TempDir(), "other.db"),
			LogLevel: "silent",
		}, logger)
		require.NoError(t, err)
		defer otherDB.Close()

		otherMedia := journal.NewMediaRepository(otherDB)
		otherLib := library.New(c.client, otherMedia).WithLogger(logger)

		imported, err := otherLib.Import(ctx, &buf)
		require.NoError(t, err)
		assert.Equal(t, 3, imported.Imported)
		assert.Equal(t, 0, imported.Skipped)

		count, err := otherMedia.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

// TestFeedSessionFollowsStreamingState checks that the feed session opens
// the MJPEG feed when the device starts streaming and closes it when the
// device stops.
func TestFeedSessionFollowsStreamingState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ts := startSimulator(t, true)
	c := newCore(t, ts.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := c.poller.RefreshNow(ctx)
	require.NoError(t, err)

	session := streamsession.New(c.client, c.store).
		WithLogger(logger).
		WithConfig(config.StreamConfig{RetryBackoff: 2 * time.Second})
	require.NoError(t, session.Start(ctx))
	defer session.Stop()

	require.Equal(t, streamsession.StateIdle, session.State())

	require.NoError(t, c.dispatcher.StartStream(ctx))
	require.Eventually(t, func() bool {
		stats := session.Stats()
		return stats.State == streamsession.StateActive && stats.Frames > 0
	}, eventuallyWait, eventuallyTick, "feed should open and deliver frames")

	require.NoError(t, c.dispatcher.StopStream(ctx))
	require.Eventually(t, func() bool {
		return session.State() == streamsession.StateIdle
	}, eventuallyWait, eventuallyTick, "feed should close on the falling edge")
}

// TestPollerFlipsConnectivityWhenDeviceVanishes checks the failure
// threshold: consecutive poll failures mark the device disconnected, and
// a device that answers again marks it connected.
func TestPollerFlipsConnectivityWhenDeviceVanishes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ts := startSimulator(t, true)
	c := newCore(t, ts.URL)

	_, err := c.poller.RefreshNow(ctx)
	require.NoError(t, err)
	require.True(t, c.store.Get().Connected())

	require.NoError(t, c.poller.Start(ctx))
	defer c.poller.Stop()

	ts.Close()
	require.Eventually(t, func() bool {
		return !c.store.Get().Connected()
	}, eventuallyWait, eventuallyTick, "device should flip to disconnected after the failure threshold")
}
