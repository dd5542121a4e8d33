package library

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/camarr/internal/models"
)

// manifestVersion identifies the export document format.
const manifestVersion = 1

// Manifest is the portable media-index document produced by Export.
type Manifest struct {
	Version    int             `yaml:"version"`
	ExportedAt time.Time       `yaml:"exported_at"`
	Media      []ManifestEntry `yaml:"media"`
}

// ManifestEntry is one indexed media file in a manifest.
type ManifestEntry struct {
	Kind       models.MediaKind `yaml:"kind"`
	Filename   string           `yaml:"filename"`
	URL        string           `yaml:"url,omitempty"`
	SizeBytes  int64            `yaml:"size_bytes,omitempty"`
	DurationMs int64            `yaml:"duration_ms,omitempty"`
	CapturedAt time.Time        `yaml:"captured_at"`
}

// Export writes the full media index to w as a YAML manifest, compressed
// per the configured export compression. It returns the entry count.
func (l *Library) Export(ctx context.Context, w io.Writer) (int, error) {
	records, err := l.media.List(ctx, "")
	if err != nil {
		return 0, err
	}

	manifest := Manifest{
		Version:    manifestVersion,
		ExportedAt: time.Now().UTC(),
		Media:      make([]ManifestEntry, 0, len(records)),
	}
	for _, record := range records {
		manifest.Media = append(manifest.Media, ManifestEntry{
			Kind:       record.Kind,
			Filename:   record.Filename,
			URL:        record.URL,
			SizeBytes:  record.SizeBytes,
			DurationMs: record.DurationMs,
			CapturedAt: record.CapturedAt,
		})
	}

	out, closeOut, err := compressWriter(w, l.compression)
	if err != nil {
		return 0, err
	}

	enc := yaml.NewEncoder(out)
	if err := enc.Encode(manifest); err != nil {
		closeOut()
		return 0, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		closeOut()
		return 0, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := closeOut(); err != nil {
		return 0, fmt.Errorf("compressing manifest: %w", err)
	}

	l.logger.Info("media index exported",
		slog.Int("entries", len(manifest.Media)),
		slog.String("compression", l.compression),
	)
	return len(manifest.Media), nil
}

// ImportResult reports what an import pass did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import merges a manifest into the media index. Compression is detected
// from magic bytes (gzip, bzip2, xz, or plain YAML), the archive size is
// bounded by the configured limit, and malformed entries are skipped.
// Existing download state is never overwritten.
func (l *Library) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	if limit := l.maxArchiveSize.Bytes(); limit > 0 {
		data, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("archive exceeds the %s import limit", l.maxArchiveSize)
		}
		r = bytes.NewReader(data)
	}

	reader, err := decompressReader(r)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yaml.NewDecoder(reader).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	result := &ImportResult{}
	for i := range manifest.Media {
		entry := &manifest.Media[i]
		if entry.Filename == "" || (entry.Kind != models.MediaPicture && entry.Kind != models.MediaRecording) {
			result.Skipped++
			continue
		}
		record := &models.MediaRecord{
			Kind:       entry.Kind,
			Filename:   entry.Filename,
			URL:        entry.URL,
			SizeBytes:  entry.SizeBytes,
			DurationMs: entry.DurationMs,
			CapturedAt: entry.CapturedAt,
		}
		if err := l.media.Upsert(ctx, record); err != nil {
			return nil, fmt.Errorf("importing %s: %w", entry.Filename, err)
		}
		result.Imported++
	}

	l.logger.Info("media index imported",
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

// compressWriter wraps w for the named compression and returns the writer
// plus a close function that flushes the compressor without closing w.
func compressWriter(w io.Writer, compression string) (io.Writer, func() error, error) {
	switch compression {
	case "xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, xw.Close, nil
	case "gzip":
		gw := gzip.NewWriter(w)
		return gw, gw.Close, nil
	case "none", "":
		return w, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported export compression %q", compression)
	}
}

// decompressReader detects the archive compression from magic bytes and
// returns a reader of the plain manifest. Unrecognized data passes through
// as-is so plain YAML imports work.
func decompressReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking archive header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	}

	return br, nil
}
