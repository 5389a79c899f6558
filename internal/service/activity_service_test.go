package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksEmail(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    1,
		ActorRole:  "Admin",
		WorkshopID: ptrUint(3),
		Action:     "workshop.updated",
		EntityType: "workshop",
		EntityID:   ptrUint(3),
		Metadata: map[string]interface{}{
			"email": "teacher@example.com",
			"field": "grade",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["email"])
	require.Equal(t, "grade", entry.Metadata["field"])
	require.Equal(t, "admin", entry.ActorRole)
	require.Equal(t, uint(1), entry.ActorID)
}

func ptrUint(v uint) *uint {
	return &v
}

func TestActivityServiceHandleEventAttributesSystem(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	err := svc.HandleEvent(context.Background(), events.Event{
		ID:         "evt-1",
		Name:       events.PhaseAutomaticallySwitched,
		WorkshopID: 7,
		Data:       map[string]interface{}{"target_phase": 30},
	})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)

	entry := repo.entries[0]
	require.Equal(t, "system", entry.ActorRole)
	require.Equal(t, events.EntityWorkshop, entry.EntityType)
	require.Equal(t, uint(7), *entry.WorkshopID)
	require.Equal(t, "evt-1", entry.Metadata["event_id"])
}
