package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/signaldesk/signaldesk/pkg/models"
)

// ========== Users ==========

// CreateUser inserts a user record.
func (s *Store) CreateUser(user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return s.db.Create(user).Error
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &user, nil
}

// ========== Projects ==========

// CreateProject inserts a project and makes the owner a member.
func (s *Store) CreateProject(project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	if err := s.db.Create(project).Error; err != nil {
		return err
	}
	// Invariant: owner is always a member.
	if project.OwnerID != "" {
		return s.AddProjectMember(project.ID, project.OwnerID)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(id string) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &project, nil
}

// AddProjectMember adds a user to a project's member set (idempotent).
func (s *Store) AddProjectMember(projectID, userID string) error {
	return s.db.Exec(
		"INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)",
		projectID, userID,
	).Error
}

// IsProjectMember reports whether userID belongs to the project.
func (s *Store) IsProjectMember(projectID, userID string) (bool, error) {
	var count int64
	err := s.db.Table("project_members").
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	return count > 0, err
}

// ProjectMemberIDs returns the ids of every project member.
func (s *Store) ProjectMemberIDs(projectID string) ([]string, error) {
	var ids []string
	err := s.db.Table("project_members").
		Where("project_id = ?", projectID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ========== Groups ==========

// CreateGroup inserts a group (channel or DM).
func (s *Store) CreateGroup(group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.Type == "" {
		group.Type = models.GroupTypeChannel
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	return s.db.Create(group).Error
}

// GetGroup retrieves a group by id.
func (s *Store) GetGroup(id string) (*models.Group, error) {
	var group models.Group
	if err := s.db.First(&group, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &group, nil
}

// AddGroupMember adds a user to a group's explicit member set (idempotent).
func (s *Store) AddGroupMember(groupID, userID string) error {
	return s.db.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
		groupID, userID,
	).Error
}

// IsGroupMember reports whether userID is in the group's explicit member set.
func (s *Store) IsGroupMember(groupID, userID string) (bool, error) {
	var count int64
	err := s.db.Table("group_members").
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// GroupMemberIDs returns the ids of the group's explicit members.
func (s *Store) GroupMemberIDs(groupID string) ([]string, error) {
	var ids []string
	err := s.db.Table("group_members").
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// DeleteGroup removes a group. The project's default channel is never
// deletable, regardless of the caller.
func (s *Store) DeleteGroup(id string) error {
	group, err := s.GetGroup(id)
	if err != nil {
		return err
	}
	if group.IsDefault {
		return ErrDefaultGroup
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM group_members WHERE group_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, "id = ?", id).Error
	})
}

// FindDirectMessage looks up an existing DM between two users in a project
// with a member-pair query instead of scanning every group.
func (s *Store) FindDirectMessage(projectID, userA, userB string) (*models.Group, error) {
	var group models.Group
	err := s.db.
		Where("project_id = ? AND type = ?", projectID, models.GroupTypeDM).
		Where("(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = groups.id AND gm.user_id IN (?, ?)) = 2", userA, userB).
		First(&group).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &group, nil
}
