package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// ParticipantRepository reads workshop enrolment and group membership.
type ParticipantRepository interface {
	List(ctx context.Context, workshopID uint, role string) ([]models.Participant, error)
	Get(ctx context.Context, workshopID, userID uint) (models.Participant, error)
	Add(ctx context.Context, participant *models.Participant) error
	GroupMemberships(ctx context.Context, workshopID uint) (map[uint][]uint, error)
	AddGroupMember(ctx context.Context, member *models.GroupMember) error
}

type participantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository instantiates the repository.
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

// List returns participants ordered by user id. An empty role returns everybody.
func (r *participantRepository) List(ctx context.Context, workshopID uint, role string) ([]models.Participant, error) {
	query := r.db.WithContext(ctx).Where("workshop_id = ?", workshopID)
	if role != "" {
		query = query.Where("role = ?", role)
	}

	var participants []models.Participant
	if err := query.Order("user_id ASC").Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *participantRepository) Get(ctx context.Context, workshopID, userID uint) (models.Participant, error) {
	var participant models.Participant
	if err := r.db.WithContext(ctx).
		Where("workshop_id = ? AND user_id = ?", workshopID, userID).
		First(&participant).Error; err != nil {
		return models.Participant{}, err
	}
	return participant, nil
}

func (r *participantRepository) Add(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workshop_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(participant).Error
}

// GroupMemberships maps user id to the groups the user belongs to.
func (r *participantRepository) GroupMemberships(ctx context.Context, workshopID uint) (map[uint][]uint, error) {
	var members []models.GroupMember
	if err := r.db.WithContext(ctx).
		Where("workshop_id = ?", workshopID).
		Order("user_id ASC, group_id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}

	memberships := make(map[uint][]uint)
	for _, member := range members {
		memberships[member.UserID] = append(memberships[member.UserID], member.GroupID)
	}
	return memberships, nil
}

func (r *participantRepository) AddGroupMember(ctx context.Context, member *models.GroupMember) error {
	return r.db.WithContext(ctx).Create(member).Error
}
