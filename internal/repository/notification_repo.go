package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 100
)

// NotificationQuery selects part of one user's inbox.
type NotificationQuery struct {
	UserID     uint
	WorkshopID *uint
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository stores per-user notifications.
type NotificationRepository interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) error
	List(ctx context.Context, query NotificationQuery) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID uint, workshopID *uint) (int64, error)
	MarkRead(ctx context.Context, id, userID uint, at time.Time) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint, workshopID *uint, at time.Time) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func inbox(userID uint, workshopID *uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", userID)
		if workshopID != nil {
			db = db.Where("workshop_id = ?", *workshopID)
		}
		return db
	}
}

func unread(db *gorm.DB) *gorm.DB {
	return db.Where("read = ?", false)
}

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&notifications, 100).Error
}

func (r *notificationRepository) List(ctx context.Context, query NotificationQuery) ([]models.Notification, error) {
	limit := query.Limit
	if limit <= 0 || limit > maxInboxLimit {
		limit = defaultInboxLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	db := r.db.WithContext(ctx).Scopes(inbox(query.UserID, query.WorkshopID))
	if query.UnreadOnly {
		db = db.Scopes(unread)
	}

	var notifications []models.Notification
	err := db.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&notifications).Error
	return notifications, err
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uint, workshopID *uint) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Scopes(inbox(userID, workshopID), unread).
		Count(&total).Error
	return total, err
}

// MarkRead flags one notification. Already read notifications keep their
// original ReadAt.
func (r *notificationRepository) MarkRead(ctx context.Context, id, userID uint, at time.Time) (models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(inbox(userID, nil)).Where("id = ?", id).First(&notification).Error; err != nil {
			return err
		}
		if notification.Read {
			return nil
		}
		notification.Read = true
		notification.ReadAt = &at
		return tx.Model(&notification).Select("read", "read_at").Updates(&notification).Error
	})
	if err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint, workshopID *uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Notification{}).
		Scopes(inbox(userID, workshopID), unread).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return result.RowsAffected, result.Error
}
