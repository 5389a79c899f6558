package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store groups the workshop repositories so a whole unit of work (a phase
// transition, an allocation batch, an aggregation batch) can run inside one
// transaction.
type Store interface {
	Workshops() WorkshopRepository
	Submissions() SubmissionRepository
	Assessments() AssessmentRepository
	Participants() ParticipantRepository
	Forms() FormRepository
	ScheduledAllocations() ScheduledAllocationRepository
	Aggregations() AggregationRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore builds a Store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Workshops() WorkshopRepository { return &workshopRepository{db: s.db} }

func (s *gormStore) Submissions() SubmissionRepository { return &submissionRepository{db: s.db} }

func (s *gormStore) Assessments() AssessmentRepository { return &assessmentRepository{db: s.db} }

func (s *gormStore) Participants() ParticipantRepository { return &participantRepository{db: s.db} }

func (s *gormStore) Forms() FormRepository { return &formRepository{db: s.db} }

func (s *gormStore) ScheduledAllocations() ScheduledAllocationRepository {
	return &scheduledAllocationRepository{db: s.db}
}

func (s *gormStore) Aggregations() AggregationRepository { return &aggregationRepository{db: s.db} }

// Transaction runs fn with a Store bound to a single database transaction.
// Nested calls reuse the outer transaction through GORM savepoints.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func lockForUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
