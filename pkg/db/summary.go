package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/signaldesk/signaldesk/pkg/models"
)

// UpsertSummary overwrites the single summary row for a group, creating it
// on first use. At most one live summary exists per group.
func (s *Store) UpsertSummary(groupID, content string, keyPoints []string) (*models.Summary, error) {
	var summary models.Summary
	err := s.db.First(&summary, "group_id = ?", groupID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		summary = models.Summary{
			ID:        uuid.New().String(),
			GroupID:   groupID,
			Content:   content,
			KeyPoints: keyPoints,
			UpdatedAt: time.Now(),
		}
		if err := s.db.Create(&summary).Error; err != nil {
			return nil, err
		}
		return &summary, nil
	case err != nil:
		return nil, err
	}

	summary.Content = content
	summary.KeyPoints = keyPoints
	summary.UpdatedAt = time.Now()
	if err := s.db.Save(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

// GetSummary returns the group's summary, if any.
func (s *Store) GetSummary(groupID string) (*models.Summary, error) {
	var summary models.Summary
	if err := s.db.First(&summary, "group_id = ?", groupID).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &summary, nil
}
