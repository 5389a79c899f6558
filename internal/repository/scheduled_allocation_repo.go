package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// ScheduledAllocationRepository stores per-workshop scheduled allocation records.
type ScheduledAllocationRepository interface {
	Get(ctx context.Context, workshopID uint) (models.ScheduledAllocation, error)
	GetForUpdate(ctx context.Context, workshopID uint) (models.ScheduledAllocation, error)
	Save(ctx context.Context, record *models.ScheduledAllocation) error
	ListEnabledWorkshopIDs(ctx context.Context) ([]uint, error)
}

type scheduledAllocationRepository struct {
	db *gorm.DB
}

// NewScheduledAllocationRepository instantiates the repository.
func NewScheduledAllocationRepository(db *gorm.DB) ScheduledAllocationRepository {
	return &scheduledAllocationRepository{db: db}
}

func (r *scheduledAllocationRepository) Get(ctx context.Context, workshopID uint) (models.ScheduledAllocation, error) {
	var record models.ScheduledAllocation
	if err := r.db.WithContext(ctx).Where("workshop_id = ?", workshopID).First(&record).Error; err != nil {
		return models.ScheduledAllocation{}, err
	}
	return record, nil
}

func (r *scheduledAllocationRepository) GetForUpdate(ctx context.Context, workshopID uint) (models.ScheduledAllocation, error) {
	var record models.ScheduledAllocation
	if err := lockForUpdate(r.db.WithContext(ctx)).Where("workshop_id = ?", workshopID).First(&record).Error; err != nil {
		return models.ScheduledAllocation{}, err
	}
	return record, nil
}

func (r *scheduledAllocationRepository) Save(ctx context.Context, record *models.ScheduledAllocation) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *scheduledAllocationRepository) ListEnabledWorkshopIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.ScheduledAllocation{}).
		Where("enabled = ?", true).
		Order("workshop_id ASC").
		Pluck("workshop_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
