package dto

import (
	"time"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// NotificationListRequest filters the caller's inbox.
type NotificationListRequest struct {
	UserID     uint
	WorkshopID *uint
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationList is one page of the inbox plus the unread total.
type NotificationList struct {
	Items  []NotificationResponse `json:"items"`
	Unread int64                  `json:"unread"`
}

// NotificationResponse represents a notification.
type NotificationResponse struct {
	ID         uint       `json:"id"`
	WorkshopID *uint      `json:"workshop_id,omitempty"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MarkAllReadResponse reports how many notifications were flagged.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         model.ID,
		WorkshopID: model.WorkshopID,
		Type:       model.Type,
		Message:    model.Message,
		Read:       model.Read,
		ReadAt:     model.ReadAt,
		CreatedAt:  model.CreatedAt,
	}
}

func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}
