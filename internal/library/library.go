// Package library maintains the local index of device media and the
// downloaded copies of it.
//
// The device is the source of truth for what exists; Sync mirrors its
// pictures and recordings listings into the journal's media index without
// ever touching download state. Download fetches one file with bounded
// retries and marks it in the index, so repeated syncs and downloads
// converge instead of re-fetching.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/journal"
	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/transport"
)

// Default configuration values.
const (
	DefaultDownloadRetries    = 2
	DefaultDownloadRetryDelay = 1 * time.Second
)

// DeviceLister is the slice of the device API the library consumes.
type DeviceLister interface {
	Pictures(ctx context.Context) ([]transport.MediaFile, error)
	Recordings(ctx context.Context) ([]transport.MediaFile, error)
	FetchMedia(ctx context.Context, ref string) (io.ReadCloser, int64, error)
}

// Library indexes device media in the journal and manages local copies.
type Library struct {
	client DeviceLister
	media  journal.MediaRepository
	logger *slog.Logger

	downloadDir    string
	compression    string
	maxArchiveSize config.ByteSize
	retries        int
	retryDelay     time.Duration
}

// New creates a media library over the given device client and index.
func New(client DeviceLister, media journal.MediaRepository) *Library {
	return &Library{
		client:      client,
		media:       media,
		logger:      slog.Default(),
		downloadDir: "./media",
		compression: "xz",
		retries:     DefaultDownloadRetries,
		retryDelay:  DefaultDownloadRetryDelay,
	}
}

// WithLogger sets the logger for the library.
func (l *Library) WithLogger(logger *slog.Logger) *Library {
	l.logger = logger.With(slog.String("component", "library"))
	return l
}

// WithConfig applies the library configuration.
func (l *Library) WithConfig(cfg config.LibraryConfig) *Library {
	if cfg.DownloadDir != "" {
		l.downloadDir = cfg.DownloadDir
	}
	if cfg.ExportCompression != "" {
		l.compression = cfg.ExportCompression
	}
	l.maxArchiveSize = cfg.MaxArchiveSize
	if cfg.DownloadRetries > 0 {
		l.retries = cfg.DownloadRetries
	}
	if cfg.DownloadRetryDelay > 0 {
		l.retryDelay = cfg.DownloadRetryDelay
	}
	return l
}

// SyncResult reports how many index entries a sync pass touched.
type SyncResult struct {
	Pictures   int `json:"pictures"`
	Recordings int `json:"recordings"`
}

// Sync mirrors the device's media listings into the journal index.
// Entries are upserted by filename; download state survives re-syncs.
func (l *Library) Sync(ctx context.Context) (*SyncResult, error) {
	pictures, err := l.client.Pictures(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing device pictures: %w", err)
	}
	recordings, err := l.client.Recordings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing device recordings: %w", err)
	}

	result := &SyncResult{}
	for i := range pictures {
		if err := l.indexFile(ctx, models.MediaPicture, &pictures[i]); err != nil {
			return nil, err
		}
		result.Pictures++
	}
	for i := range recordings {
		if err := l.indexFile(ctx, models.MediaRecording, &recordings[i]); err != nil {
			return nil, err
		}
		result.Recordings++
	}

	l.logger.Info("media index synced",
		slog.Int("pictures", result.Pictures),
		slog.Int("recordings", result.Recordings),
	)
	return result, nil
}

func (l *Library) indexFile(ctx context.Context, kind models.MediaKind, file *transport.MediaFile) error {
	record := &models.MediaRecord{
		Kind:       kind,
		Filename:   file.Filename,
		URL:        file.URL,
		SizeBytes:  file.SizeBytes,
		DurationMs: int64(file.DurationSeconds * 1000),
		CapturedAt: file.CreatedAt(),
	}
	if err := l.media.Upsert(ctx, record); err != nil {
		return fmt.Errorf("indexing %s: %w", file.Filename, err)
	}
	return nil
}

// List returns indexed media, optionally filtered by kind. An empty kind
// returns everything.
func (l *Library) List(ctx context.Context, kind models.MediaKind) ([]*models.MediaRecord, error) {
	return l.media.List(ctx, kind)
}

// Pending returns indexed media without a local copy yet.
func (l *Library) Pending(ctx context.Context, kind models.MediaKind) ([]*models.MediaRecord, error) {
	return l.media.ListNotDownloaded(ctx, kind)
}

// Download fetches one indexed file into the download directory and marks
// it downloaded. It returns the local path. Files that already have an
// intact local copy are not fetched again.
func (l *Library) Download(ctx context.Context, filename string) (string, error) {
	record, err := l.media.GetByFilename(ctx, filename)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", fmt.Errorf("%s is not in the media index; sync first", filename)
	}

	if record.Downloaded() {
		if _, err := os.Stat(record.LocalPath); err == nil {
			l.logger.Debug("media already downloaded",
				slog.String("filename", filename),
				slog.String("path", record.LocalPath),
			)
			return record.LocalPath, nil
		}
		// Local copy vanished; fall through and fetch it again.
	}

	if record.URL == "" {
		return "", fmt.Errorf("%s has no device URL", filename)
	}

	if err := os.MkdirAll(l.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	body, size, err := l.fetchWithRetry(ctx, record.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	target := filepath.Join(l.downloadDir, filepath.Base(filename))
	written, err := writeAtomic(l.downloadDir, target, body)
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", filename, err)
	}
	if size > 0 && written != size {
		os.Remove(target)
		return "", fmt.Errorf("short download of %s: got %d of %d bytes", filename, written, size)
	}

	if err := l.media.MarkDownloaded(ctx, filename, target); err != nil {
		return "", err
	}

	l.logger.Info("media downloaded",
		slog.String("filename", filename),
		slog.String("path", target),
		slog.Int64("bytes", written),
	)
	return target, nil
}

// DownloadAll fetches every pending file of the given kind. Individual
// failures are logged and skipped so one bad file cannot stall the rest.
func (l *Library) DownloadAll(ctx context.Context, kind models.MediaKind) (int, error) {
	pending, err := l.media.ListNotDownloaded(ctx, kind)
	if err != nil {
		return 0, err
	}

	downloaded := 0
	for _, record := range pending {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		if _, err := l.Download(ctx, record.Filename); err != nil {
			l.logger.Warn("media download failed",
				slog.String("filename", record.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		downloaded++
	}
	return downloaded, nil
}

// fetchWithRetry opens a media stream, retrying transient failures with
// exponential backoff. Context errors are never retried.
func (l *Library) fetchWithRetry(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	var lastErr error
	delay := l.retryDelay

	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			l.logger.Debug("retrying media fetch",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("ref", ref),
			)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, size, err := l.client.FetchMedia(ctx, ref)
		if err == nil {
			return body, size, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("fetching %s: %w", ref, lastErr)
}

// writeAtomic streams r into a temp file and renames it over target, so a
// failed download never leaves a partial file under the final name.
func writeAtomic(dir, target string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".download-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return written, nil
}
