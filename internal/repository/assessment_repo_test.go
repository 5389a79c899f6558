package repository

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

func seedSubmissions(t *testing.T, store Store, workshopID uint) (models.Submission, models.Submission) {
	t.Helper()
	ctx := context.Background()
	own := models.Submission{WorkshopID: workshopID, AuthorID: 1, Title: "Mine"}
	example := models.Submission{WorkshopID: workshopID, AuthorID: 99, Title: "Example", Example: true}
	require.NoError(t, store.Submissions().Create(ctx, &own))
	require.NoError(t, store.Submissions().Create(ctx, &example))
	return own, example
}

func TestAssessmentRepositoryUpsertKeepsExistingEdge(t *testing.T) {
	store := NewStore(setupWorkshopTestDB(t))
	ctx := context.Background()
	submission, _ := seedSubmissions(t, store, 7)

	edge := models.Assessment{SubmissionID: submission.ID, ReviewerID: 2, Weight: 1}
	created, err := store.Assessments().Upsert(ctx, &edge)
	require.NoError(t, err)
	require.True(t, created)

	grade := 42.0
	edge.Grade = &grade
	require.NoError(t, store.Assessments().Update(ctx, &edge))

	again := models.Assessment{SubmissionID: submission.ID, ReviewerID: 2, Weight: 3}
	created, err = store.Assessments().Upsert(ctx, &again)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, edge.ID, again.ID)
	require.Equal(t, 3, again.Weight)
	require.NotNil(t, again.Grade, "grade must survive an upsert of the same pair")
	require.Equal(t, 42.0, *again.Grade)
}

func TestAssessmentRepositoryFiltersSkipExamples(t *testing.T) {
	store := NewStore(setupWorkshopTestDB(t))
	ctx := context.Background()
	submission, example := seedSubmissions(t, store, 7)

	for _, edge := range []models.Assessment{
		{SubmissionID: submission.ID, ReviewerID: 2, Weight: 1},
		{SubmissionID: submission.ID, ReviewerID: 3, Weight: 1},
		{SubmissionID: example.ID, ReviewerID: 2, Weight: 1},
	} {
		edge := edge
		_, err := store.Assessments().Upsert(ctx, &edge)
		require.NoError(t, err)
	}

	items, err := store.Assessments().List(ctx, AssessmentFilter{WorkshopID: 7})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = store.Assessments().List(ctx, AssessmentFilter{WorkshopID: 7, IncludeExamples: true, ReviewerIDs: []uint{2}})
	require.NoError(t, err)
	require.Len(t, items, 2)

	removed, err := store.Assessments().Delete(ctx, AssessmentFilter{WorkshopID: 7, ReviewerIDs: []uint{3}})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestAssessmentRepositoryUpdateGradingGradeLeavesOverride(t *testing.T) {
	store := NewStore(setupWorkshopTestDB(t))
	ctx := context.Background()
	submission, _ := seedSubmissions(t, store, 7)

	override := 3.5
	edge := models.Assessment{SubmissionID: submission.ID, ReviewerID: 2, Weight: 1, GradingGradeOver: &override}
	_, err := store.Assessments().Upsert(ctx, &edge)
	require.NoError(t, err)
	require.NoError(t, store.Assessments().Update(ctx, &edge))

	computed := 18.0
	require.NoError(t, store.Assessments().UpdateGradingGrade(ctx, edge.ID, &computed, time.Now().UTC()))

	stored, err := store.Assessments().GetByID(ctx, edge.ID)
	require.NoError(t, err)
	require.Equal(t, 18.0, *stored.GradingGrade)
	require.Equal(t, 3.5, *stored.GradingGradeOver)
	require.Equal(t, 3.5, *stored.EffectiveGradingGrade())
	require.NotNil(t, stored.EvaluatedAt)
}

func TestSubmissionRepositoryDeleteRemovesAssessments(t *testing.T) {
	store := NewStore(setupWorkshopTestDB(t))
	ctx := context.Background()
	submission, _ := seedSubmissions(t, store, 7)

	edge := models.Assessment{SubmissionID: submission.ID, ReviewerID: 2, Weight: 1}
	_, err := store.Assessments().Upsert(ctx, &edge)
	require.NoError(t, err)
	require.NoError(t, store.Assessments().SaveGrades(ctx, edge.ID, []models.AssessmentGrade{{DimensionID: 1, Grade: 4}}))

	require.NoError(t, store.Submissions().Delete(ctx, submission.ID))

	items, err := store.Assessments().List(ctx, AssessmentFilter{IncludeExamples: true})
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = store.Assessments().GetByID(ctx, edge.ID)
	require.Error(t, err)
}

func TestAggregationRepositoryUpsert(t *testing.T) {
	store := NewStore(setupWorkshopTestDB(t))
	ctx := context.Background()

	first := 10.0
	require.NoError(t, store.Aggregations().Upsert(ctx, &models.Aggregation{WorkshopID: 1, UserID: 5, GradingGrade: &first}))
	second := 12.5
	require.NoError(t, store.Aggregations().Upsert(ctx, &models.Aggregation{WorkshopID: 1, UserID: 5, GradingGrade: &second}))

	items, err := store.Aggregations().List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 12.5, *items[0].GradingGrade)
}

func TestScheduledAllocationRepositoryListsEnabled(t *testing.T) {
	store := NewStore(setupWorkshopTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.ScheduledAllocations().Save(ctx, &models.ScheduledAllocation{WorkshopID: 3, Enabled: true}))
	disabled := models.ScheduledAllocation{WorkshopID: 4, Enabled: true}
	require.NoError(t, store.ScheduledAllocations().Save(ctx, &disabled))
	disabled.Enabled = false
	require.NoError(t, store.ScheduledAllocations().Save(ctx, &disabled))

	ids, err := store.ScheduledAllocations().ListEnabledWorkshopIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint{3}, ids)
}

func TestAssessmentRepositoryUpsertLogsNothingForNewEdges(t *testing.T) {
	var buf bytes.Buffer
	db := setupWorkshopTestDB(t).Session(&gorm.Session{
		Logger: logger.New(log.New(&buf, "", 0), logger.Config{LogLevel: logger.Error}),
	})
	store := NewStore(db)
	ctx := context.Background()
	submission, _ := seedSubmissions(t, store, 7)

	for reviewer := uint(2); reviewer <= 4; reviewer++ {
		edge := models.Assessment{SubmissionID: submission.ID, ReviewerID: reviewer, Weight: 1}
		created, err := store.Assessments().Upsert(ctx, &edge)
		require.NoError(t, err)
		require.True(t, created)
	}
	require.Empty(t, buf.String())
}
