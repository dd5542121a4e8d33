package camd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/camarr/internal/config"
)

// Media kind directory names under the storage root. They double as the
// path segments in media URLs.
const (
	pictureDir   = "pictures"
	recordingDir = "recordings"
)

// MediaItem describes one stored file the way listings report it.
type MediaItem struct {
	Filename string
	Path     string
	Size     int64
	Created  time.Time
	// Duration is the clip length in seconds; zero for pictures.
	Duration float64
}

// URL returns the device-relative URL for the item.
func (m MediaItem) URL(kind string) string {
	return "/media/" + kind + "/" + m.Filename
}

// Storage persists captured media under a quota. When the combined size of
// pictures and recordings exceeds the quota, the oldest files go first.
type Storage struct {
	root   string
	quota  int64
	logger *slog.Logger

	mu  sync.Mutex
	seq int
	// durations remembers clip lengths for this process lifetime; files
	// from an earlier run list with duration zero.
	durations map[string]float64
}

// NewStorage creates the storage directories under root.
func NewStorage(root string, quota config.ByteSize, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{pictureDir, recordingDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}
	return &Storage{
		root:      root,
		quota:     quota.Bytes(),
		logger:    logger,
		durations: make(map[string]float64),
	}, nil
}

// SavePicture stores one still frame and returns its listing entry.
func (s *Storage) SavePicture(data []byte, at time.Time) (MediaItem, error) {
	s.mu.Lock()
	s.seq++
	filename := fmt.Sprintf("pic_%s_%04d.jpg", at.Format("20060102_150405"), s.seq)
	s.mu.Unlock()
	return s.save(pictureDir, filename, data, at, 0)
}

// SaveRecording stores one finished clip under the filename promised when
// the recording started.
func (s *Storage) SaveRecording(filename string, data []byte, at time.Time, duration time.Duration) (MediaItem, error) {
	return s.save(recordingDir, filepath.Base(filename), data, at, duration.Seconds())
}

func (s *Storage) save(dir, filename string, data []byte, at time.Time, duration float64) (MediaItem, error) {
	path := filepath.Join(s.root, dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return MediaItem{}, fmt.Errorf("writing %s: %w", filename, err)
	}
	if err := os.Chtimes(path, at, at); err != nil {
		return MediaItem{}, fmt.Errorf("stamping %s: %w", filename, err)
	}

	if duration > 0 {
		s.mu.Lock()
		s.durations[filename] = duration
		s.mu.Unlock()
	}

	s.prune()

	return MediaItem{
		Filename: filename,
		Path:     path,
		Size:     int64(len(data)),
		Created:  at,
		Duration: duration,
	}, nil
}

// Pictures lists stored stills, newest first.
func (s *Storage) Pictures() ([]MediaItem, error) {
	return s.list(pictureDir)
}

// Recordings lists stored clips, newest first.
func (s *Storage) Recordings() ([]MediaItem, error) {
	return s.list(recordingDir)
}

func (s *Storage) list(dir string) ([]MediaItem, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	items := make([]MediaItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.mu.Lock()
		duration := s.durations[entry.Name()]
		s.mu.Unlock()
		items = append(items, MediaItem{
			Filename: entry.Name(),
			Path:     filepath.Join(s.root, dir, entry.Name()),
			Size:     info.Size(),
			Created:  info.ModTime(),
			Duration: duration,
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Created.After(items[j].Created) })
	return items, nil
}

// Open returns the named file from the given kind directory. The filename
// is reduced to its base so a crafted name cannot escape the storage root.
func (s *Storage) Open(kind, filename string) (*os.File, error) {
	if kind != pictureDir && kind != recordingDir {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	return os.Open(filepath.Join(s.root, kind, filepath.Base(filename)))
}

// prune deletes oldest files until the combined size fits the quota.
func (s *Storage) prune() {
	if s.quota <= 0 {
		return
	}

	var all []MediaItem
	for _, dir := range []string{pictureDir, recordingDir} {
		items, err := s.list(dir)
		if err != nil {
			continue
		}
		all = append(all, items...)
	}

	var total int64
	for _, item := range all {
		total += item.Size
	}
	if total <= s.quota {
		return
	}

	// Oldest first.
	sort.Slice(all, func(i, j int) bool { return all[i].Created.Before(all[j].Created) })

	for _, item := range all {
		if total <= s.quota {
			break
		}
		if err := os.Remove(item.Path); err != nil {
			s.logger.Warn("pruning media file failed",
				slog.String("filename", item.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		total -= item.Size
		s.mu.Lock()
		delete(s.durations, item.Filename)
		s.mu.Unlock()
		s.logger.Info("pruned media file over quota",
			slog.String("filename", item.Filename),
			slog.Int64("size", item.Size),
		)
	}
}
