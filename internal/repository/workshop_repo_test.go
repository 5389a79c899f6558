package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

func setupWorkshopTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestWorkshopRepositoryCompareAndSwapPhase(t *testing.T) {
	db := setupWorkshopTestDB(t)
	repo := NewWorkshopRepository(db)
	ctx := context.Background()

	workshop := models.Workshop{CourseID: 1, Name: "Essays", Phase: models.PhaseSetup}
	require.NoError(t, repo.Create(ctx, &workshop))

	swapped, err := repo.CompareAndSwapPhase(ctx, workshop.ID, models.PhaseSetup, models.PhaseSubmission)
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = repo.CompareAndSwapPhase(ctx, workshop.ID, models.PhaseSetup, models.PhaseClosed)
	require.NoError(t, err)
	require.False(t, swapped, "stale expected phase must not overwrite")

	stored, err := repo.GetByID(ctx, workshop.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseSubmission, stored.Phase)
}

func TestWorkshopRepositoryConsumeAutoSwitchOnce(t *testing.T) {
	db := setupWorkshopTestDB(t)
	repo := NewWorkshopRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := models.Workshop{CourseID: 1, Name: "due", Phase: models.PhaseSubmission, PhaseSwitchAssessment: true, SubmissionEnd: &past}
	notYet := models.Workshop{CourseID: 1, Name: "future", Phase: models.PhaseSubmission, PhaseSwitchAssessment: true, SubmissionEnd: &future}
	noFlag := models.Workshop{CourseID: 1, Name: "manual", Phase: models.PhaseSubmission, SubmissionEnd: &past}
	for _, w := range []*models.Workshop{&due, &notYet, &noFlag} {
		require.NoError(t, repo.Create(ctx, w))
	}

	ids, err := repo.ListAutoSwitchCandidates(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []uint{due.ID}, ids)

	switched, err := repo.ConsumeAutoSwitch(ctx, due.ID, now)
	require.NoError(t, err)
	require.True(t, switched)

	switched, err = repo.ConsumeAutoSwitch(ctx, due.ID, now)
	require.NoError(t, err)
	require.False(t, switched)

	stored, err := repo.GetByID(ctx, due.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseAssessment, stored.Phase)
	require.False(t, stored.PhaseSwitchAssessment)

	switched, err = repo.ConsumeAutoSwitch(ctx, notYet.ID, now)
	require.NoError(t, err)
	require.False(t, switched)
}

func TestWorkshopRepositoryUpdateFieldsMissing(t *testing.T) {
	db := setupWorkshopTestDB(t)
	repo := NewWorkshopRepository(db)

	err := repo.UpdateFields(context.Background(), 404, map[string]interface{}{"name": "ghost"})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.ErrorIs(t, err, ErrWorkshopNotFound)
}

func TestStoreTransactionRollsBack(t *testing.T) {
	db := setupWorkshopTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	err := store.Transaction(ctx, func(tx Store) error {
		if err := tx.Workshops().Create(ctx, &models.Workshop{CourseID: 1, Name: "rolled back"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.Workshop{}).Count(&count).Error)
	require.Zero(t, count)
}
