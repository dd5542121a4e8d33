package camd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camarr/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStorage(t *testing.T, quota config.ByteSize) *Storage {
	t.Helper()
	storage, err := NewStorage(t.TempDir(), quota, discardLogger())
	require.NoError(t, err)
	return storage
}

func TestStorageListsNewestFirst(t *testing.T) {
	storage := newTestStorage(t, 0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := storage.SavePicture([]byte{0xff, 0xd8, byte(i)}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	items, err := storage.Pictures()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Created.After(items[1].Created))
	assert.True(t, items[1].Created.After(items[2].Created))
}

func TestStorageSaveReportsListingEntry(t *testing.T) {
	storage := newTestStorage(t, 0)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	item, err := storage.SavePicture([]byte("jpegbytes"), at)
	require.NoError(t, err)

	assert.Contains(t, item.Filename, "pic_20250601_120000")
	assert.Equal(t, int64(len("jpegbytes")), item.Size)
	assert.Equal(t, "/media/pictures/"+item.Filename, item.URL(pictureDir))
	assert.FileExists(t, item.Path)
}

func TestStorageRecordingKeepsPromisedFilename(t *testing.T) {
	storage := newTestStorage(t, 0)
	at := time.Now()

	item, err := storage.SaveRecording("rec_20250601_120000_0001.mjpeg", []byte("clip"), at, 12500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "rec_20250601_120000_0001.mjpeg", item.Filename)
	assert.Equal(t, 12.5, item.Duration)

	items, err := storage.Recordings()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 12.5, items[0].Duration)
}

func TestStoragePrunesOldestOverQuota(t *testing.T) {
	// Quota fits two of the three 100-byte files.
	storage := newTestStorage(t, config.ByteSize(250))
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := make([]byte, 100)

	var items []MediaItem
	for i := 0; i < 3; i++ {
		item, err := storage.SavePicture(payload, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		items = append(items, item)
	}

	remaining, err := storage.Pictures()
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	// The oldest file went first.
	assert.NoFileExists(t, items[0].Path)
	assert.FileExists(t, items[1].Path)
	assert.FileExists(t, items[2].Path)
}

func TestStoragePruneCountsBothKinds(t *testing.T) {
	storage := newTestStorage(t, config.ByteSize(150))
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := make([]byte, 100)

	old, err := storage.SavePicture(payload, base)
	require.NoError(t, err)
	_, err = storage.SaveRecording("rec_0001.mjpeg", payload, base.Add(time.Minute), time.Second)
	require.NoError(t, err)

	// The recording pushed the total over quota; the older picture goes.
	assert.NoFileExists(t, old.Path)
	recordings, err := storage.Recordings()
	require.NoError(t, err)
	assert.Len(t, recordings, 1)
}

func TestStorageOpenRejectsUnknownKind(t *testing.T) {
	storage := newTestStorage(t, 0)

	_, err := storage.Open("thumbnails", "pic.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown media kind")
}

func TestStorageOpenContainsTraversal(t *testing.T) {
	storage := newTestStorage(t, 0)

	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o644))

	// A crafted filename reduces to its base name inside the kind directory.
	_, err := storage.Open(pictureDir, "../../"+secret)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestStorageListSkipsDotfiles(t *testing.T) {
	storage := newTestStorage(t, 0)

	_, err := storage.SavePicture([]byte("keep"), time.Now())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(storage.root, pictureDir, ".partial"), []byte("x"), 0o644))

	items, err := storage.Pictures()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
