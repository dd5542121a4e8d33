package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/camarr/internal/models"
)

// CommandRepository provides access to journaled dispatch decisions.
type CommandRepository interface {
	Create(ctx context.Context, record *models.CommandRecord) error
	GetByID(ctx context.Context, id models.ULID) (*models.CommandRecord, error)
	List(ctx context.Context, limit, offset int) ([]*models.CommandRecord, int64, error)
	ListByKind(ctx context.Context, kind models.CommandKind, limit int) ([]*models.CommandRecord, error)
	CountRejected(ctx context.Context) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type commandRepository struct {
	db *DB
}

// NewCommandRepository creates a command record repository.
func NewCommandRepository(db *DB) CommandRepository {
	return &commandRepository{db: db}
}

// Compile-time interface check.
var _ CommandRepository = (*commandRepository)(nil)

func (r *commandRepository) Create(ctx context.Context, record *models.CommandRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating command record: %w", err)
	}
	return nil
}

func (r *commandRepository) GetByID(ctx context.Context, id models.ULID) (*models.CommandRecord, error) {
	var record models.CommandRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting command record: %w", err)
	}
	return &record, nil
}

// List returns records newest-first along with the total count.
func (r *commandRepository) List(ctx context.Context, limit, offset int) ([]*models.CommandRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.CommandRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting command records: %w", err)
	}

	var records []*models.CommandRecord
	query := r.db.WithContext(ctx).Order("issued_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("listing command records: %w", err)
	}
	return records, total, nil
}

func (r *commandRepository) ListByKind(ctx context.Context, kind models.CommandKind, limit int) ([]*models.CommandRecord, error) {
	var records []*models.CommandRecord
	query := r.db.WithContext(ctx).Where("kind = ?", kind).Order("issued_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing command records by kind: %w", err)
	}
	return records, nil
}

func (r *commandRepository) CountRejected(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CommandRecord{}).
		Where("accepted = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting rejected commands: %w", err)
	}
	return count, nil
}

// DeleteBefore prunes records issued before the cutoff and reports how many
// rows went away.
func (r *commandRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("issued_at < ?", cutoff).
		Delete(&models.CommandRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning command records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
