package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// ErrWorkshopNotFound wraps gorm.ErrRecordNotFound for workshop lookups.
var ErrWorkshopNotFound = errors.New("workshop not found")

func workshopLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrWorkshopNotFound, err)
	}
	return err
}

// WorkshopRepository defines data operations for workshops.
type WorkshopRepository interface {
	GetByID(ctx context.Context, id uint) (models.Workshop, error)
	GetForUpdate(ctx context.Context, id uint) (models.Workshop, error)
	Create(ctx context.Context, workshop *models.Workshop) error
	Update(ctx context.Context, workshop *models.Workshop) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	CompareAndSwapPhase(ctx context.Context, id uint, from, to models.Phase) (bool, error)
	ConsumeAutoSwitch(ctx context.Context, id uint, now time.Time) (bool, error)
	ListAutoSwitchCandidates(ctx context.Context, now time.Time) ([]uint, error)
}

type workshopRepository struct {
	db *gorm.DB
}

// NewWorkshopRepository instantiates the repository.
func NewWorkshopRepository(db *gorm.DB) WorkshopRepository {
	return &workshopRepository{db: db}
}

func (r *workshopRepository) GetByID(ctx context.Context, id uint) (models.Workshop, error) {
	var workshop models.Workshop
	if err := r.db.WithContext(ctx).First(&workshop, id).Error; err != nil {
		return models.Workshop{}, workshopLookupError(err)
	}
	return workshop, nil
}

func (r *workshopRepository) GetForUpdate(ctx context.Context, id uint) (models.Workshop, error) {
	var workshop models.Workshop
	if err := lockForUpdate(r.db.WithContext(ctx)).First(&workshop, id).Error; err != nil {
		return models.Workshop{}, workshopLookupError(err)
	}
	return workshop, nil
}

func (r *workshopRepository) Create(ctx context.Context, workshop *models.Workshop) error {
	return r.db.WithContext(ctx).Create(workshop).Error
}

func (r *workshopRepository) Update(ctx context.Context, workshop *models.Workshop) error {
	return r.db.WithContext(ctx).Save(workshop).Error
}

func (r *workshopRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Workshop{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return workshopLookupError(gorm.ErrRecordNotFound)
	}
	return nil
}

// CompareAndSwapPhase moves the workshop to the target phase only if it is still in the expected one.
func (r *workshopRepository) CompareAndSwapPhase(ctx context.Context, id uint, from, to models.Phase) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Workshop{}).
		Where("id = ? AND phase = ?", id, from).
		Update("phase", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ConsumeAutoSwitch performs the automatic submission → assessment switch and
// clears the flag in the same statement, so a second caller finds nothing to do.
func (r *workshopRepository) ConsumeAutoSwitch(ctx context.Context, id uint, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Workshop{}).
		Where("id = ?", id).
		Where("phase = ?", models.PhaseSubmission).
		Where("phase_switch_assessment = ?", true).
		Where("submission_end IS NOT NULL AND submission_end < ?", now).
		Updates(map[string]interface{}{
			"phase":                   models.PhaseAssessment,
			"phase_switch_assessment": false,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *workshopRepository) ListAutoSwitchCandidates(ctx context.Context, now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Workshop{}).
		Where("phase = ?", models.PhaseSubmission).
		Where("phase_switch_assessment = ?", true).
		Where("submission_end IS NOT NULL AND submission_end < ?", now).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
