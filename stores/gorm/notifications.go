package gorm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
)

// NotificationStore implements ct.NotificationStore using GORM
type NotificationStore struct {
	db *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) CreateNotification(n *ct.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == "" {
		n.Type = "info"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return s.db.Create(&NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}).Error
}

func (s *NotificationStore) ListNotifications(userID string, unreadOnly bool, p ct.Pagination) ([]*ct.Notification, int64, error) {
	p = ct.NewPagination(p.Page, p.Limit)
	query := s.db.Model(&NotificationModel{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []NotificationModel
	if err := query.Order("created_at DESC").Offset(p.Offset()).Limit(p.Limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*ct.Notification, len(models))
	for i := range models {
		out[i] = models[i].ToNotification()
	}
	return out, total, nil
}

func (s *NotificationStore) MarkNotificationsRead(userID string, ids []string) (int64, error) {
	query := s.db.Model(&NotificationModel{}).Where("user_id = ? AND read = ?", userID, false)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	res := query.Update("read", true)
	return res.RowsAffected, res.Error
}

func (s *NotificationStore) DeleteNotification(userID, id string) error {
	res := s.db.Where("id = ? AND user_id = ?", id, userID).Delete(&NotificationModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ct.ErrNotFound
	}
	return nil
}
