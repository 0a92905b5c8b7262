package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/signaldesk/signaldesk/pkg/models"
)

// CreateContext persists an extracted signal. Records are write-once.
func (s *Store) CreateContext(ctx *models.Context) error {
	if ctx.ID == "" {
		ctx.ID = uuid.New().String()
	}
	if ctx.ClassifiedAt.IsZero() {
		ctx.ClassifiedAt = time.Now()
	}
	return s.db.Create(ctx).Error
}

// RecentContexts returns the most recent limit signals for a group, newest
// first.
func (s *Store) RecentContexts(groupID string, limit int) ([]models.Context, error) {
	var contexts []models.Context
	err := s.db.
		Where("group_id = ?", groupID).
		Order("classified_at DESC").
		Limit(limit).
		Find(&contexts).Error
	return contexts, err
}

// ContextsByCategory returns signals for a group carrying the given
// canonical category, newest first. Categories are stored as a JSON array,
// so the filter matches the quoted element.
func (s *Store) ContextsByCategory(groupID, category string) ([]models.Context, error) {
	canonical, ok := models.ValidCategory(category)
	if !ok {
		return nil, nil
	}
	var contexts []models.Context
	err := s.db.
		Where("group_id = ?", groupID).
		Where("category LIKE ?", "%\""+canonical+"\"%").
		Order("classified_at DESC").
		Find(&contexts).Error
	return contexts, err
}
