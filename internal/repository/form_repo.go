package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// FormRepository stores the assessment form definition of a workshop.
type FormRepository interface {
	Dimensions(ctx context.Context, workshopID uint) ([]models.FormDimension, error)
	Mappings(ctx context.Context, workshopID uint) ([]models.NumErrorsMapping, error)
	ReplaceDimensions(ctx context.Context, workshopID uint, dimensions []models.FormDimension) error
	ReplaceMappings(ctx context.Context, workshopID uint, mappings []models.NumErrorsMapping) error
}

type formRepository struct {
	db *gorm.DB
}

// NewFormRepository instantiates the repository.
func NewFormRepository(db *gorm.DB) FormRepository {
	return &formRepository{db: db}
}

func (r *formRepository) Dimensions(ctx context.Context, workshopID uint) ([]models.FormDimension, error) {
	var dimensions []models.FormDimension
	err := r.db.WithContext(ctx).
		Preload("Levels", func(db *gorm.DB) *gorm.DB { return db.Order("grade ASC, id ASC") }).
		Where("workshop_id = ?", workshopID).
		Order("sort ASC, id ASC").
		Find(&dimensions).Error
	if err != nil {
		return nil, err
	}
	return dimensions, nil
}

func (r *formRepository) Mappings(ctx context.Context, workshopID uint) ([]models.NumErrorsMapping, error) {
	var mappings []models.NumErrorsMapping
	if err := r.db.WithContext(ctx).
		Where("workshop_id = ?", workshopID).
		Order("errors ASC").
		Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

// ReplaceDimensions swaps the whole form definition, rubric levels included.
func (r *formRepository) ReplaceDimensions(ctx context.Context, workshopID uint, dimensions []models.FormDimension) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := tx.Model(&models.FormDimension{}).Select("id").Where("workshop_id = ?", workshopID)
		if err := tx.Where("dimension_id IN (?)", existing).Delete(&models.RubricLevel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("workshop_id = ?", workshopID).Delete(&models.FormDimension{}).Error; err != nil {
			return err
		}
		if len(dimensions) == 0 {
			return nil
		}
		for i := range dimensions {
			dimensions[i].ID = 0
			dimensions[i].WorkshopID = workshopID
			if dimensions[i].Sort == 0 {
				dimensions[i].Sort = i + 1
			}
			for j := range dimensions[i].Levels {
				dimensions[i].Levels[j].ID = 0
			}
		}
		return tx.Create(&dimensions).Error
	})
}

func (r *formRepository) ReplaceMappings(ctx context.Context, workshopID uint, mappings []models.NumErrorsMapping) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workshop_id = ?", workshopID).Delete(&models.NumErrorsMapping{}).Error; err != nil {
			return err
		}
		if len(mappings) == 0 {
			return nil
		}
		for i := range mappings {
			mappings[i].ID = 0
			mappings[i].WorkshopID = workshopID
		}
		return tx.Create(&mappings).Error
	})
}
