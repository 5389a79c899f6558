package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// AggregationRepository stores per-reviewer total grades for assessing.
type AggregationRepository interface {
	Upsert(ctx context.Context, aggregation *models.Aggregation) error
	List(ctx context.Context, workshopID uint) ([]models.Aggregation, error)
}

type aggregationRepository struct {
	db *gorm.DB
}

// NewAggregationRepository instantiates the repository.
func NewAggregationRepository(db *gorm.DB) AggregationRepository {
	return &aggregationRepository{db: db}
}

func (r *aggregationRepository) Upsert(ctx context.Context, aggregation *models.Aggregation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workshop_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"grading_grade", "time_graded"}),
	}).Create(aggregation).Error
}

func (r *aggregationRepository) List(ctx context.Context, workshopID uint) ([]models.Aggregation, error) {
	var aggregations []models.Aggregation
	if err := r.db.WithContext(ctx).
		Where("workshop_id = ?", workshopID).
		Order("user_id ASC").
		Find(&aggregations).Error; err != nil {
		return nil, err
	}
	return aggregations, nil
}
