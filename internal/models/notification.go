package models

import "time"

// Notification is a message delivered to a single user, such as the report of a
// scheduled allocation run sent to the workshop's teachers.
type Notification struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	WorkshopID *uint      `gorm:"index" json:"workshop_id"`
	Type       string     `gorm:"size:64" json:"type"`
	Message    string     `gorm:"type:text" json:"message"`
	Read       bool       `gorm:"not null;default:false;index" json:"read"`
	ReadAt     *time.Time `json:"read_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
