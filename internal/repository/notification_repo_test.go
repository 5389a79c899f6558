package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

func TestNotificationRepositoryInbox(t *testing.T) {
	db := setupWorkshopTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	first, second := uint(1), uint(2)
	require.NoError(t, repo.CreateBatch(ctx, []models.Notification{
		{UserID: 7, WorkshopID: &first, Type: "allocation_report", Message: "one"},
		{UserID: 7, WorkshopID: &second, Type: "allocation_report", Message: "two"},
		{UserID: 7, WorkshopID: &second, Type: "allocation_report", Message: "three"},
		{UserID: 8, WorkshopID: &first, Type: "allocation_report", Message: "other user"},
	}))
	require.NoError(t, repo.CreateBatch(ctx, nil))

	all, err := repo.List(ctx, NotificationQuery{UserID: 7})
	require.NoError(t, err)
	require.Len(t, all, 3)

	scoped, err := repo.List(ctx, NotificationQuery{UserID: 7, WorkshopID: &second, Limit: 1})
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	read, err := repo.MarkRead(ctx, all[0].ID, 7, at)
	require.NoError(t, err)
	require.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	again, err := repo.MarkRead(ctx, all[0].ID, 7, at.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, again.ReadAt.Equal(at))

	_, err = repo.MarkRead(ctx, all[0].ID, 8, at)
	require.Error(t, err)

	unread, err := repo.CountUnread(ctx, 7, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, unread)

	updated, err := repo.MarkAllRead(ctx, 7, &second, at)
	require.NoError(t, err)
	require.LessOrEqual(t, updated, int64(2))

	remaining, err := repo.List(ctx, NotificationQuery{UserID: 7, UnreadOnly: true})
	require.NoError(t, err)
	for _, n := range remaining {
		require.Equal(t, first, *n.WorkshopID)
	}

	others, err := repo.CountUnread(ctx, 8, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, others)
}

func TestActivityLogRepositoryFilters(t *testing.T) {
	db := setupWorkshopTestDB(t)
	repo := NewActivityLogRepository(db)
	ctx := context.Background()

	workshopID := uint(3)
	old := time.Now().Add(-48 * time.Hour)
	entries := []models.ActivityLog{
		{WorkshopID: &workshopID, ActorID: 1, ActorRole: "teacher", Action: "phase_switched", EntityType: "workshop", CreatedAt: old},
		{WorkshopID: &workshopID, ActorID: 1, ActorRole: "teacher", Action: "allocation_executed", EntityType: "workshop"},
		{WorkshopID: &workshopID, ActorID: 2, ActorRole: "student", Action: "submission_created", EntityType: "submission"},
	}
	for i := range entries {
		require.NoError(t, repo.Create(ctx, &entries[i]))
	}

	items, total, err := repo.List(ctx, ActivityLogFilter{WorkshopID: &workshopID, PageSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, items, 2)

	since := time.Now().Add(-time.Hour)
	items, total, err = repo.List(ctx, ActivityLogFilter{WorkshopID: &workshopID, Since: &since})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, items, 2)

	actor := uint(2)
	items, _, err = repo.List(ctx, ActivityLogFilter{ActorID: &actor, EntityType: "submission"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "submission_created", items[0].Action)

	items, total, err = repo.List(ctx, ActivityLogFilter{Action: "missing"})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)
}
