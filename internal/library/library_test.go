package library

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/journal"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIndex(t *testing.T) journal.MediaRepository {
	t.Helper()

	cfg := config.JournalConfig{
		Enabled:         true,
		Driver:          "sqlite",
		DSN:             filepath.Join(t.TempDir(), "journal.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		LogLevel:        "silent",
	}
	db, err := journal.Open(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return journal.NewMediaRepository(db)
}

// fakeDevice serves media listings and file bytes the way the camera does.
type fakeDevice struct {
	mu         sync.Mutex
	pictures   []transport.MediaFile
	recordings []transport.MediaFile
	files      map[string][]byte
	failures   map[string]int
	fetches    map[string]int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		fetches:  make(map[string]int),
	}
}

func (d *fakeDevice) addPicture(filename string, data []byte, created float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	url := "/media/pictures/" + filename
	d.pictures = append(d.pictures, transport.MediaFile{
		Filename:  filename,
		URL:       url,
		SizeBytes: int64(len(data)),
		Created:   created,
	})
	if data != nil {
		d.files[url] = data
	}
}

func (d *fakeDevice) addRecording(filename string, data []byte, created, duration float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	url := "/media/recordings/" + filename
	d.recordings = append(d.recordings, transport.MediaFile{
		Filename:        filename,
		URL:             url,
		SizeBytes:       int64(len(data)),
		Created:         created,
		DurationSeconds: duration,
	})
	if data != nil {
		d.files[url] = data
	}
}

func (d *fakeDevice) failNext(url string, times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[url] = times
}

func (d *fakeDevice) fetchCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches[url]
}

func (d *fakeDevice) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/camera/pictures", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"pictures": d.pictures})
	})
	mux.HandleFunc("/api/camera/recordings", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"recordings": d.recordings})
	})
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.fetches[r.URL.Path]++
		if d.failures[r.URL.Path] > 0 {
			d.failures[r.URL.Path]--
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "storage hiccup"}`))
			return
		}
		data, ok := d.files[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
			return
		}
		w.Write(data)
	})
	return mux
}

func newTestLibrary(t *testing.T, device *fakeDevice) (*Library, journal.MediaRepository, string) {
	t.Helper()

	srv := httptest.NewServer(device.handler())
	t.Cleanup(srv.Close)

	client, err := transport.New(transport.Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	media := newTestIndex(t)
	dir := t.TempDir()
	lib := New(client, media).
		WithLogger(discardLogger()).
		WithConfig(config.LibraryConfig{
			DownloadDir:        dir,
			ExportCompression:  "xz",
			DownloadRetries:    2,
			DownloadRetryDelay: time.Millisecond,
		})
	return lib, media, dir
}

func TestSyncIndexesDeviceMedia(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg-one"), 1748779200)
	device.addPicture("pic_002.jpg", []byte("jpeg-two"), 1748779260)
	device.addRecording("rec_001.mp4", []byte("mp4-bytes"), 1748779300, 12.5)

	lib, media, _ := newTestLibrary(t, device)
	ctx := context.Background()

	result, err := lib.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pictures)
	assert.Equal(t, 1, result.Recordings)

	all, err := media.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	rec, err := media.GetByFilename(ctx, "rec_001.mp4")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.MediaRecording, rec.Kind)
	assert.Equal(t, int64(12500), rec.DurationMs)
	assert.Equal(t, int64(len("mp4-bytes")), rec.SizeBytes)
	assert.WithinDuration(t, time.Unix(1748779300, 0), rec.CapturedAt, time.Second)
	assert.False(t, rec.Downloaded())
}

func TestSyncIsIdempotent(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg"), 1748779200)

	lib, media, _ := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)
	_, err = lib.Sync(ctx)
	require.NoError(t, err)

	all, err := media.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDownloadFetchesAndMarksFile(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg-bytes"), 1748779200)

	lib, media, dir := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)

	path, err := lib.Download(ctx, "pic_001.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pic_001.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	record, err := media.GetByFilename(ctx, "pic_001.jpg")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Downloaded())
	assert.Equal(t, path, record.LocalPath)
}

func TestDownloadSkipsExistingLocalCopy(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg-bytes"), 1748779200)

	lib, _, _ := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)

	first, err := lib.Download(ctx, "pic_001.jpg")
	require.NoError(t, err)
	second, err := lib.Download(ctx, "pic_001.jpg")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, device.fetchCount("/media/pictures/pic_001.jpg"),
		"an intact local copy must not be fetched again")
}

func TestDownloadRefetchesWhenLocalCopyVanished(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg-bytes"), 1748779200)

	lib, _, _ := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)

	path, err := lib.Download(ctx, "pic_001.jpg")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	again, err := lib.Download(ctx, "pic_001.jpg")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 2, device.fetchCount("/media/pictures/pic_001.jpg"))
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg-bytes"), 1748779200)
	device.failNext("/media/pictures/pic_001.jpg", 1)

	lib, _, _ := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)

	path, err := lib.Download(ctx, "pic_001.jpg")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, 2, device.fetchCount("/media/pictures/pic_001.jpg"))
}

func TestDownloadExhaustsRetries(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_001.jpg", []byte("jpeg-bytes"), 1748779200)
	device.failNext("/media/pictures/pic_001.jpg", 10)

	lib, media, _ := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)

	_, err = lib.Download(ctx, "pic_001.jpg")
	require.Error(t, err)
	// Initial attempt plus the two configured retries.
	assert.Equal(t, 3, device.fetchCount("/media/pictures/pic_001.jpg"))

	record, err := media.GetByFilename(ctx, "pic_001.jpg")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.Downloaded())
}

func TestDownloadUnindexedFileFails(t *testing.T) {
	device := newFakeDevice()
	lib, _, _ := newTestLibrary(t, device)

	_, err := lib.Download(context.Background(), "ghost.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the media index")
}

func TestDownloadAllContinuesPastFailures(t *testing.T) {
	device := newFakeDevice()
	device.addPicture("pic_good.jpg", []byte("jpeg-bytes"), 1748779200)
	// Listed by the device but the file itself 404s.
	device.addPicture("pic_missing.jpg", nil, 1748779260)

	lib, media, _ := newTestLibrary(t, device)
	ctx := context.Background()

	_, err := lib.Sync(ctx)
	require.NoError(t, err)

	downloaded, err := lib.DownloadAll(ctx, models.MediaPicture)
	require.NoError(t, err)
	assert.Equal(t, 1, downloaded)

	pending, err := media.ListNotDownloaded(ctx, models.MediaPicture)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pic_missing.jpg", pending[0].Filename)
}
