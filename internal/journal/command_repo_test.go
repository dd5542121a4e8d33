package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camarr/internal/models"
)

func seedCommand(t *testing.T, repo CommandRepository, kind models.CommandKind, accepted bool, issuedAt time.Time) *models.CommandRecord {
	t.Helper()

	record := &models.CommandRecord{
		Kind:       kind,
		Accepted:   accepted,
		LatencyMs:  42,
		IssuedAt:   issuedAt,
		FinishedAt: issuedAt.Add(42 * time.Millisecond),
	}
	if !accepted {
		record.ErrorKind = string(models.RejectionPrecondition)
		record.Error = "device is not streaming"
	}
	require.NoError(t, repo.Create(context.Background(), record))
	return record
}

func TestCommandRepositoryCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommandRepository(db)
	ctx := context.Background()

	issued := time.Now().UTC().Truncate(time.Millisecond)
	record := &models.CommandRecord{
		Kind:         models.CommandChangeMode,
		TargetModeID: "1080p",
		Accepted:     true,
		LatencyMs:    131,
		IssuedAt:     issued,
		FinishedAt:   issued.Add(131 * time.Millisecond),
	}
	require.NoError(t, repo.Create(ctx, record))
	require.False(t, record.ID.IsZero(), "create must assign an ID")

	got, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.CommandChangeMode, got.Kind)
	assert.Equal(t, "1080p", got.TargetModeID)
	assert.True(t, got.Accepted)
	assert.Equal(t, int64(131), got.LatencyMs)
	assert.WithinDuration(t, issued, got.IssuedAt, time.Second)
}

func TestCommandRepositoryGetMissingReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommandRepository(db)

	got, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCommandRepositoryListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommandRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	seedCommand(t, repo, models.CommandStartStream, true, base)
	seedCommand(t, repo, models.CommandCapture, true, base.Add(time.Minute))
	newest := seedCommand(t, repo, models.CommandStopStream, true, base.Add(2*time.Minute))

	records, total, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 2)
	assert.Equal(t, newest.ID, records[0].ID)
	assert.Equal(t, models.CommandCapture, records[1].Kind)

	records, total, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 1)
	assert.Equal(t, models.CommandStartStream, records[0].Kind)
}

func TestCommandRepositoryListByKind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommandRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	seedCommand(t, repo, models.CommandCapture, true, base)
	seedCommand(t, repo, models.CommandStartStream, true, base.Add(time.Minute))
	seedCommand(t, repo, models.CommandCapture, false, base.Add(2*time.Minute))

	records, err := repo.ListByKind(ctx, models.CommandCapture, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, records[0].Accepted, "newest capture first")
	assert.True(t, records[1].Accepted)
}

func TestCommandRepositoryCountRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommandRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	seedCommand(t, repo, models.CommandCapture, true, base)
	seedCommand(t, repo, models.CommandCapture, false, base.Add(time.Minute))
	seedCommand(t, repo, models.CommandStartRecording, false, base.Add(2*time.Minute))

	count, err := repo.CountRejected(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCommandRepositoryDeleteBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommandRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-48 * time.Hour)
	seedCommand(t, repo, models.CommandStartStream, true, base)
	seedCommand(t, repo, models.CommandStopStream, true, base.Add(time.Hour))
	kept := seedCommand(t, repo, models.CommandCapture, true, time.Now().UTC())

	deleted, err := repo.DeleteBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	records, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID, records[0].ID)
}
