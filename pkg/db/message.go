package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/signaldesk/signaldesk/pkg/models"
)

// CreateMessage persists a message with a server-assigned id and timestamp.
func (s *Store) CreateMessage(msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return s.db.Create(msg).Error
}

// RecentMessages returns the most recent limit messages for a group in
// chronological order.
func (s *Store) RecentMessages(groupID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.
		Where("group_id = ?", groupID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// Reverse into ascending order for consumers.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns the number of messages persisted for a group.
func (s *Store) CountMessages(groupID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Message{}).
		Where("group_id = ?", groupID).
		Count(&count).Error
	return count, err
}
