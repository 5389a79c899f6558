package allocation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

func newTestStore(t *testing.T, suffix string) repository.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + suffix
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return repository.NewStore(db)
}

// seedWorkshop creates a workshop where users 1..students each submitted once.
func seedWorkshop(t *testing.T, store repository.Store, workshop models.Workshop, students int) models.Workshop {
	t.Helper()
	ctx := context.Background()
	if workshop.Name == "" {
		workshop.Name = "Peer review"
	}
	workshop.CourseID = 1
	require.NoError(t, store.Workshops().Create(ctx, &workshop))

	for i := 1; i <= students; i++ {
		userID := uint(i)
		require.NoError(t, store.Participants().Add(ctx, &models.Participant{WorkshopID: workshop.ID, UserID: userID, Role: models.ParticipantRoleStudent}))
		require.NoError(t, store.Submissions().Create(ctx, &models.Submission{WorkshopID: workshop.ID, AuthorID: userID, Title: fmt.Sprintf("work %d", i)}))
	}
	return workshop
}

func newTestAllocator(store repository.Store, sink events.Sink, opts ...Option) *Allocator {
	return NewAllocator(store, sink, nil, zerolog.New(io.Discard), append([]Option{WithSeed(17)}, opts...)...)
}

func TestExecuteRandomTenStudents(t *testing.T) {
	store := newTestStore(t, "")
	workshop := seedWorkshop(t, store, models.Workshop{Phase: models.PhaseAssessment}, 10)
	recorder := &events.Recorder{}
	allocator := newTestAllocator(store, recorder)

	result, err := allocator.ExecuteRandom(context.Background(), workshop.ID, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission}, 99)
	require.NoError(t, err)
	require.Equal(t, models.AllocationStatusExecuted, result.Status)
	require.Len(t, result.Added, 10)
	require.Zero(t, result.Warnings())

	assessments, err := store.Assessments().List(context.Background(), repository.AssessmentFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	require.Len(t, assessments, 10)

	submissions, err := store.Submissions().List(context.Background(), repository.SubmissionFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	authorOf := map[uint]uint{}
	for _, submission := range submissions {
		authorOf[submission.ID] = submission.AuthorID
	}
	for _, assessment := range assessments {
		require.NotEqual(t, authorOf[assessment.SubmissionID], assessment.ReviewerID)
		require.Equal(t, 1, assessment.Weight)
	}

	require.Equal(t, []string{events.AllocationExecuted}, recorder.Names())
	require.Equal(t, uint(99), recorder.Events()[0].ActorID)
}

func TestExecuteRandomRerunWithRemoveCurrentStaysBalanced(t *testing.T) {
	store := newTestStore(t, "")
	workshop := seedWorkshop(t, store, models.Workshop{Phase: models.PhaseAssessment}, 8)
	allocator := newTestAllocator(store, nil)
	settings := RandomSettings{NumOfReviews: 3, NumPer: NumPerSubmission, RemoveCurrent: true}

	_, err := allocator.ExecuteRandom(context.Background(), workshop.ID, settings, 1)
	require.NoError(t, err)
	second, err := newTestAllocator(store, nil, WithSeed(23)).ExecuteRandom(context.Background(), workshop.ID, settings, 1)
	require.NoError(t, err)
	require.Len(t, second.Added, len(second.Removed), "total edge count stays constant")

	assessments, err := store.Assessments().List(context.Background(), repository.AssessmentFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	require.Len(t, assessments, 24)

	perSubmission := map[uint]int{}
	for _, assessment := range assessments {
		perSubmission[assessment.SubmissionID]++
	}
	for _, count := range perSubmission {
		require.Equal(t, 3, count)
	}
}

func TestExecuteRandomSameSeedSamePlan(t *testing.T) {
	settings := RandomSettings{NumOfReviews: 2, NumPer: NumPerSubmission}
	pairs := func(suffix string) []string {
		store := newTestStore(t, suffix)
		workshop := seedWorkshop(t, store, models.Workshop{}, 6)
		result, err := newTestAllocator(store, nil).ExecuteRandom(context.Background(), workshop.ID, settings, 1)
		require.NoError(t, err)
		out := make([]string, 0, len(result.Added))
		for _, edge := range result.Added {
			out = append(out, fmt.Sprintf("%d->%d", edge.ReviewerID, edge.SubmissionID))
		}
		return out
	}
	require.Equal(t, pairs("_a"), pairs("_b"))
}

func TestExecuteRandomConfigurationErrors(t *testing.T) {
	store := newTestStore(t, "")
	workshop := seedWorkshop(t, store, models.Workshop{}, 3)
	allocator := newTestAllocator(store, nil)

	_, err := allocator.ExecuteRandom(context.Background(), workshop.ID, RandomSettings{NumOfReviews: 2, NumPer: "everyone"}, 1)
	require.ErrorIs(t, err, ErrInvalidSettings)

	_, err = allocator.ExecuteRandom(context.Background(), workshop.ID, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission, AddSelfAssessment: true}, 1)
	require.ErrorIs(t, err, ErrSelfAssessmentDisabled)
	require.True(t, IsConfigurationError(err))

	assessments, err := store.Assessments().List(context.Background(), repository.AssessmentFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	require.Empty(t, assessments)

	empty := seedWorkshop(t, store, models.Workshop{Name: "empty"}, 0)
	result, err := allocator.ExecuteRandom(context.Background(), empty.ID, DefaultRandomSettings(), 1)
	require.NoError(t, err)
	require.Equal(t, models.AllocationStatusVoid, result.Status)
}

func TestExecuteRandomAssessWithoutSubmissionWidensPool(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	workshop := seedWorkshop(t, store, models.Workshop{}, 2)
	require.NoError(t, store.Participants().Add(ctx, &models.Participant{WorkshopID: workshop.ID, UserID: 50, Role: models.ParticipantRoleStudent}))

	settings := RandomSettings{NumOfReviews: 2, NumPer: NumPerSubmission}
	result, err := newTestAllocator(store, nil).ExecuteRandom(ctx, workshop.ID, settings, 1)
	require.NoError(t, err)
	require.Equal(t, 2, result.Warnings(), "two submitters cannot give each other two reviews")

	settings.AssessWithoutSubmission = true
	settings.RemoveCurrent = true
	result, err = newTestAllocator(store, nil).ExecuteRandom(ctx, workshop.ID, settings, 1)
	require.NoError(t, err)
	require.Zero(t, result.Warnings())
	reviewers := map[uint]bool{}
	for _, edge := range append(result.Added, result.Removed...) {
		reviewers[edge.ReviewerID] = true
	}
	require.True(t, reviewers[50])
}

func TestExecuteRandomExcludesSameGroupUnderVisibleGroups(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	workshop := seedWorkshop(t, store, models.Workshop{GroupMode: models.GroupModeVisible}, 6)
	for user := uint(1); user <= 6; user++ {
		group := uint(1)
		if user > 3 {
			group = 2
		}
		require.NoError(t, store.Participants().AddGroupMember(ctx, &models.GroupMember{WorkshopID: workshop.ID, GroupID: group, UserID: user}))
	}

	settings := RandomSettings{NumOfReviews: 2, NumPer: NumPerSubmission, ExcludeSameGroup: true}
	result, err := newTestAllocator(store, nil).ExecuteRandom(ctx, workshop.ID, settings, 1)
	require.NoError(t, err)
	require.Len(t, result.Added, 12)
	for _, edge := range result.Added {
		require.NotEqual(t, edge.AuthorID > 3, edge.ReviewerID > 3, "same-group edge %d->%d", edge.ReviewerID, edge.AuthorID)
	}
}

func TestManualAllocation(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	workshop := seedWorkshop(t, store, models.Workshop{}, 3)
	allocator := newTestAllocator(store, nil)

	submissions, err := store.Submissions().List(ctx, repository.SubmissionFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	first := submissions[0]

	assessment, err := allocator.AddManual(ctx, workshop.ID, first.ID, 2, 9)
	require.NoError(t, err)
	require.NotZero(t, assessment.ID)

	_, err = allocator.AddManual(ctx, workshop.ID, first.ID, 2, 9)
	require.ErrorIs(t, err, ErrAllocationExists)

	_, err = allocator.AddManual(ctx, workshop.ID, first.ID, first.AuthorID, 9)
	require.ErrorIs(t, err, ErrSelfAssessmentDisabled)

	_, err = allocator.AddManual(ctx, workshop.ID, first.ID, 77, 9)
	require.ErrorIs(t, err, ErrReviewerNotParticipant)

	_, err = allocator.AddManual(ctx, workshop.ID, 9999, 2, 9)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	grade := 55.0
	assessment.Grade = &grade
	require.NoError(t, store.Assessments().Update(ctx, &assessment))

	require.ErrorIs(t, allocator.RemoveManual(ctx, workshop.ID, assessment.ID, false, 9), ErrAssessmentGraded)
	require.NoError(t, allocator.RemoveManual(ctx, workshop.ID, assessment.ID, true, 9))
	require.ErrorIs(t, allocator.RemoveManual(ctx, workshop.ID, assessment.ID, true, 9), ErrAllocationNotFound)
}

func TestScheduledAllocationRunsOncePerDeadline(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := now.Add(-time.Minute)
	workshop := seedWorkshop(t, store, models.Workshop{Phase: models.PhaseSubmission, SubmissionEnd: &deadline}, 5)

	recorder := &events.Recorder{}
	allocator := newTestAllocator(store, recorder, WithClock(func() time.Time { return now }))

	outcome, err := allocator.CheckScheduled(ctx, workshop.ID, TriggerView)
	require.NoError(t, err)
	require.Equal(t, SkipNotConfigured, outcome.SkipReason)

	_, err = allocator.ConfigureScheduled(ctx, workshop.ID, true, RandomSettings{NumOfReviews: 2, NumPer: NumPerSubmission})
	require.NoError(t, err)

	outcome, err = allocator.CheckScheduled(ctx, workshop.ID, TriggerView)
	require.NoError(t, err)
	require.True(t, outcome.Executed)
	require.Len(t, outcome.Result.Added, 10)

	report, err := allocator.SweepScheduled(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepReport{Checked: 1, Skipped: 1}, report)
	require.Equal(t, 1, recorder.Count(events.AllocationScheduledExecuted))

	record, err := store.ScheduledAllocations().Get(ctx, workshop.ID)
	require.NoError(t, err)
	require.Equal(t, models.AllocationStatusExecuted, record.ResultStatus)
	require.NotNil(t, record.TimeAllocated)
	var issues []Issue
	require.NoError(t, json.Unmarshal(record.ResultLog, &issues))
	require.Empty(t, issues)

	moved := now.Add(-time.Second)
	require.NoError(t, store.Workshops().UpdateFields(ctx, workshop.ID, map[string]interface{}{"submission_end": moved}))

	outcome, err = allocator.CheckScheduled(ctx, workshop.ID, TriggerCron)
	require.NoError(t, err)
	require.True(t, outcome.Executed, "moving the deadline re-arms the schedule")
	require.Equal(t, 2, recorder.Count(events.AllocationScheduledExecuted))
}

func TestScheduledAllocationWaitsForDeadlineAndPhase(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	pending := seedWorkshop(t, store, models.Workshop{Name: "pending", Phase: models.PhaseSubmission, SubmissionEnd: &future}, 3)
	past := now.Add(-time.Hour)
	closed := seedWorkshop(t, store, models.Workshop{Name: "closed", Phase: models.PhaseClosed, SubmissionEnd: &past}, 3)

	allocator := newTestAllocator(store, nil, WithClock(func() time.Time { return now }))
	for _, id := range []uint{pending.ID, closed.ID} {
		_, err := allocator.ConfigureScheduled(ctx, id, true, DefaultRandomSettings())
		require.NoError(t, err)
	}

	outcome, err := allocator.CheckScheduled(ctx, pending.ID, TriggerCron)
	require.NoError(t, err)
	require.Equal(t, SkipDeadlinePending, outcome.SkipReason)

	outcome, err = allocator.CheckScheduled(ctx, closed.ID, TriggerCron)
	require.NoError(t, err)
	require.Equal(t, SkipWrongPhase, outcome.SkipReason)

	_, err = allocator.ConfigureScheduled(ctx, pending.ID, false, RandomSettings{})
	require.NoError(t, err)
	outcome, err = allocator.CheckScheduled(ctx, pending.ID, TriggerCron)
	require.NoError(t, err)
	require.Equal(t, SkipDisabled, outcome.SkipReason)
}

func TestScheduledAllocationReactsToAssessmentPhase(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := now.Add(-time.Minute)
	workshop := seedWorkshop(t, store, models.Workshop{Phase: models.PhaseAssessment, SubmissionEnd: &deadline}, 4)
	allocator := newTestAllocator(store, nil, WithClock(func() time.Time { return now }))
	_, err := allocator.ConfigureScheduled(ctx, workshop.ID, true, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission})
	require.NoError(t, err)

	ignored := events.Event{Name: events.PhaseSwitched, WorkshopID: workshop.ID, Data: map[string]interface{}{"target_phase": int(models.PhaseEvaluation)}}
	require.NoError(t, allocator.HandlePhaseSwitched(ctx, ignored))
	assessments, err := store.Assessments().List(ctx, repository.AssessmentFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	require.Empty(t, assessments)

	entered := events.Event{Name: events.PhaseSwitched, WorkshopID: workshop.ID, Data: map[string]interface{}{"target_phase": int(models.PhaseAssessment)}}
	require.NoError(t, allocator.HandlePhaseSwitched(ctx, entered))
	require.NoError(t, allocator.HandlePhaseSwitched(ctx, entered))
	assessments, err = store.Assessments().List(ctx, repository.AssessmentFilter{WorkshopID: workshop.ID})
	require.NoError(t, err)
	require.Len(t, assessments, 4)
}
