package journal

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/camarr/internal/models"
)

// MediaRepository provides access to the journaled media index.
type MediaRepository interface {
	Upsert(ctx context.Context, record *models.MediaRecord) error
	GetByFilename(ctx context.Context, filename string) (*models.MediaRecord, error)
	List(ctx context.Context, kind models.MediaKind) ([]*models.MediaRecord, error)
	ListNotDownloaded(ctx context.Context, kind models.MediaKind) ([]*models.MediaRecord, error)
	MarkDownloaded(ctx context.Context, filename, localPath string) error
	Delete(ctx context.Context, filename string) error
	Count(ctx context.Context) (int64, error)
}

type mediaRepository struct {
	db *DB
}

// NewMediaRepository creates a media index repository.
func NewMediaRepository(db *DB) MediaRepository {
	return &mediaRepository{db: db}
}

// Compile-time interface check.
var _ MediaRepository = (*mediaRepository)(nil)

// Upsert inserts the record or refreshes the listing fields of an existing
// one. LocalPath is deliberately left out of the update set: re-syncing the
// index must not erase download state.
func (r *mediaRepository) Upsert(ctx context.Context, record *models.MediaRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "url", "size_bytes", "duration_ms", "captured_at", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("upserting media record: %w", err)
	}
	return nil
}

func (r *mediaRepository) GetByFilename(ctx context.Context, filename string) (*models.MediaRecord, error) {
	var record models.MediaRecord
	err := r.db.WithContext(ctx).First(&record, "filename = ?", filename).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting media record: %w", err)
	}
	return &record, nil
}

// List returns index entries newest-first. An empty kind returns everything.
func (r *mediaRepository) List(ctx context.Context, kind models.MediaKind) ([]*models.MediaRecord, error) {
	var records []*models.MediaRecord
	query := r.db.WithContext(ctx).Order("captured_at DESC")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing media records: %w", err)
	}
	return records, nil
}

func (r *mediaRepository) ListNotDownloaded(ctx context.Context, kind models.MediaKind) ([]*models.MediaRecord, error) {
	var records []*models.MediaRecord
	query := r.db.WithContext(ctx).
		Where("local_path = ?", "").
		Order("captured_at DESC")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing pending downloads: %w", err)
	}
	return records, nil
}

func (r *mediaRepository) MarkDownloaded(ctx context.Context, filename, localPath string) error {
	result := r.db.WithContext(ctx).
		Model(&models.MediaRecord{}).
		Where("filename = ?", filename).
		Update("local_path", localPath)
	if result.Error != nil {
		return fmt.Errorf("marking media downloaded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("media record not found: %s", filename)
	}
	return nil
}

func (r *mediaRepository) Delete(ctx context.Context, filename string) error {
	if err := r.db.WithContext(ctx).Where("filename = ?", filename).Delete(&models.MediaRecord{}).Error; err != nil {
		return fmt.Errorf("deleting media record: %w", err)
	}
	return nil
}

func (r *mediaRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MediaRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting media records: %w", err)
	}
	return count, nil
}
