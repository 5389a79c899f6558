package service

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

var (
	// ErrForbidden indicates the actor may not perform the action on this workshop.
	ErrForbidden = errors.New("insufficient permissions for workshop")
	// ErrWorkshopNotFound indicates the workshop does not exist.
	ErrWorkshopNotFound = repository.ErrWorkshopNotFound
)

// Capabilities answers authorization questions for a workshop. Who counts as
// a manager is decided by the host platform; this predicate only reads the
// enrolment it was given.
type Capabilities interface {
	CanManage(ctx context.Context, workshopID uint, actor ActivityActor) (bool, error)
	IsParticipant(ctx context.Context, workshopID uint, actor ActivityActor) (bool, error)
}

type participantCapabilities struct {
	participants repository.ParticipantRepository
}

// NewCapabilities builds the enrolment backed capability predicate.
func NewCapabilities(participants repository.ParticipantRepository) Capabilities {
	return &participantCapabilities{participants: participants}
}

func (c *participantCapabilities) CanManage(ctx context.Context, workshopID uint, actor ActivityActor) (bool, error) {
	if isAdminRole(actor.Role) {
		return true, nil
	}
	participant, err := c.lookup(ctx, workshopID, actor)
	if err != nil || participant == nil {
		return false, err
	}
	return participant.Role == models.ParticipantRoleTeacher, nil
}

func (c *participantCapabilities) IsParticipant(ctx context.Context, workshopID uint, actor ActivityActor) (bool, error) {
	participant, err := c.lookup(ctx, workshopID, actor)
	if err != nil {
		return false, err
	}
	return participant != nil, nil
}

func (c *participantCapabilities) lookup(ctx context.Context, workshopID uint, actor ActivityActor) (*models.Participant, error) {
	if actor.ID == 0 {
		return nil, nil
	}
	participant, err := c.participants.Get(ctx, workshopID, actor.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func requireManage(ctx context.Context, caps Capabilities, workshopID uint, actor ActivityActor) error {
	allowed, err := caps.CanManage(ctx, workshopID, actor)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func isAdminRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), "admin")
}
