package service

import (
	"log/slog"

	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/models"
)

// AccessService decides channel visibility for a principal. It is the single
// authority: room membership is only a delivery list, and callers re-check
// access on every join and send.
type AccessService struct {
	store  *db.Store
	logger *slog.Logger
}

// NewAccessService creates an access gate over the given store.
func NewAccessService(store *db.Store, logger *slog.Logger) *AccessService {
	return &AccessService{store: store, logger: logger}
}

// CanAccess reports whether the user may see the group: project membership
// always, plus explicit group membership when the group is private or a DM.
// It never errors; a failed lookup denies access.
func (s *AccessService) CanAccess(userID string, group *models.Group) bool {
	if group == nil || userID == "" {
		return false
	}

	isMember, err := s.store.IsProjectMember(group.ProjectID, userID)
	if err != nil {
		s.logger.Error("project membership lookup failed", "project", group.ProjectID, "user", userID, "error", err)
		return false
	}
	if !isMember {
		return false
	}

	if !group.Restricted() {
		return true
	}

	inGroup, err := s.store.IsGroupMember(group.ID, userID)
	if err != nil {
		s.logger.Error("group membership lookup failed", "group", group.ID, "user", userID, "error", err)
		return false
	}
	return inGroup
}

// CanAccessProject reports whether the user is a member of the project.
func (s *AccessService) CanAccessProject(userID, projectID string) bool {
	if userID == "" || projectID == "" {
		return false
	}
	isMember, err := s.store.IsProjectMember(projectID, userID)
	if err != nil {
		s.logger.Error("project membership lookup failed", "project", projectID, "user", userID, "error", err)
		return false
	}
	return isMember
}
