// Chat service - session event handling, message fan-out and AI enqueue.
package service

import (
	"encoding/json"
	"log/slog"

	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/event"
	"github.com/signaldesk/signaldesk/pkg/models"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

// Client-facing error strings, delivered as scoped error events.
const (
	msgGroupNotFound    = "Group not found"
	msgNotProjectMember = "Not a member of this project"
	msgNotChannelMember = "Not a member of this private channel"
	msgNotAuthorized    = "Not authorized"
	msgSendFailed       = "Failed to send message"
)

// ChatService binds the connection layer to persistence, presence and the
// AI pipeline. It implements ws.Handler: every decoded socket event lands
// here.
type ChatService struct {
	store    *db.Store
	hub      *ws.Hub
	access   *AccessService
	presence *PresenceRegistry
	queue    *AIQueueRegistry
	logger   *slog.Logger
}

// NewChatService creates the chat service.
func NewChatService(store *db.Store, hub *ws.Hub, access *AccessService, presence *PresenceRegistry, queue *AIQueueRegistry, logger *slog.Logger) *ChatService {
	return &ChatService{
		store:    store,
		hub:      hub,
		access:   access,
		presence: presence,
		queue:    queue,
		logger:   logger,
	}
}

// ========== Inbound payloads ==========

type projectPayload struct {
	ProjectID string `json:"projectId"`
}

type groupPayload struct {
	GroupID string `json:"groupId"`
}

type sendMessagePayload struct {
	GroupID  string `json:"groupId"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type systemMessagePayload struct {
	GroupID    string `json:"groupId"`
	Content    string `json:"content"`
	UserName   string `json:"userName,omitempty"`
	UserAvatar string `json:"userAvatar,omitempty"`
}

type typingPayload struct {
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

type aiThinkingPayload struct {
	GroupID    string `json:"groupId"`
	IsThinking bool   `json:"isThinking"`
}

// ========== Session lifecycle ==========

// HandleConnect moves an authenticated session to active: it joins the
// implicit per-user room, bumps presence and broadcasts the online set.
func (s *ChatService) HandleConnect(c *ws.Client) {
	s.hub.Join(c, ws.UserRoom(c.UserID))
	online, _ := s.presence.Connect(c.UserID)
	s.hub.EmitToAll(event.UsersOnlineEvent{UserIDs: online})
	s.logger.Info("user connected", "user", c.UserID)
}

// HandleDisconnect decrements presence and broadcasts the updated online
// set. Called exactly once per connection by the ws layer.
func (s *ChatService) HandleDisconnect(c *ws.Client) {
	online, _ := s.presence.Disconnect(c.UserID)
	s.hub.EmitToAll(event.UsersOnlineEvent{UserIDs: online})
	s.logger.Info("user disconnected", "user", c.UserID)
}

// HandleEvent dispatches a decoded client event.
func (s *ChatService) HandleEvent(c *ws.Client, name string, data json.RawMessage) {
	switch name {
	case "join-project":
		var p projectPayload
		if s.decode(c, data, &p) {
			s.JoinProject(c, p.ProjectID)
		}
	case "leave-project":
		var p projectPayload
		if s.decode(c, data, &p) {
			s.hub.Leave(c, ws.ProjectRoom(p.ProjectID))
		}
	case "join-group":
		var p groupPayload
		if s.decode(c, data, &p) {
			s.JoinGroup(c, p.GroupID)
		}
	case "leave-group":
		var p groupPayload
		if s.decode(c, data, &p) {
			s.hub.Leave(c, ws.GroupRoom(p.GroupID))
		}
	case "send-message":
		var p sendMessagePayload
		if s.decode(c, data, &p) {
			s.SendMessage(c, p)
		}
	case "send-system-message":
		var p systemMessagePayload
		if s.decode(c, data, &p) {
			s.SendSystemMessage(c, p)
		}
	case "typing":
		var p typingPayload
		if s.decode(c, data, &p) {
			s.hub.EmitToRoomExcept(ws.GroupRoom(p.GroupID), c, event.UserTypingEvent{
				GroupID:  p.GroupID,
				UserID:   c.UserID,
				IsTyping: p.IsTyping,
			})
		}
	case "ai-thinking":
		var p aiThinkingPayload
		if s.decode(c, data, &p) {
			s.hub.EmitToRoomExcept(ws.GroupRoom(p.GroupID), c, event.AIStatusEvent{
				GroupID:    p.GroupID,
				IsThinking: p.IsThinking,
			})
		}
	default:
		s.logger.Warn("unknown client event", "event", name, "user", c.UserID)
	}
}

func (s *ChatService) decode(c *ws.Client, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("invalid event payload", "user", c.UserID, "error", err)
		c.Emit(event.ErrorEvent{Message: "Invalid payload"})
		return false
	}
	return true
}

// ========== Rooms ==========

// JoinProject subscribes the session to a project room after a membership
// check. Failure produces an error event and no state change.
func (s *ChatService) JoinProject(c *ws.Client, projectID string) {
	if !s.access.CanAccessProject(c.UserID, projectID) {
		c.Emit(event.ErrorEvent{Message: msgNotProjectMember})
		return
	}
	s.hub.Join(c, ws.ProjectRoom(projectID))
	s.logger.Debug("joined project room", "user", c.UserID, "project", projectID)
}

// JoinGroup subscribes the session to a group room, gated by the access
// rules. A first-time join announces the member to other occupants.
func (s *ChatService) JoinGroup(c *ws.Client, groupID string) {
	group, err := s.store.GetGroup(groupID)
	if err != nil {
		c.Emit(event.ErrorEvent{Message: msgGroupNotFound})
		return
	}
	if !s.access.CanAccessProject(c.UserID, group.ProjectID) {
		c.Emit(event.ErrorEvent{Message: msgNotProjectMember})
		return
	}
	if !s.access.CanAccess(c.UserID, group) {
		c.Emit(event.ErrorEvent{Message: msgNotChannelMember})
		return
	}

	if s.hub.Join(c, ws.GroupRoom(groupID)) {
		s.hub.EmitToRoomExcept(ws.GroupRoom(groupID), c, event.UserJoinedEvent{
			GroupID:  groupID,
			UserID:   c.UserID,
			UserName: c.UserName,
		})
	}
	s.logger.Debug("joined group room", "user", c.UserID, "group", groupID)
}

// ========== Messages ==========

// SendMessage validates, persists and fans out a message, then feeds the AI
// queue. Access is re-validated here even though joins were gated: room
// membership is a delivery list, never the authority.
func (s *ChatService) SendMessage(c *ws.Client, p sendMessagePayload) {
	group, err := s.store.GetGroup(p.GroupID)
	if err != nil {
		c.Emit(event.ErrorEvent{Message: msgGroupNotFound})
		return
	}
	if !s.access.CanAccess(c.UserID, group) {
		c.Emit(event.ErrorEvent{Message: msgNotAuthorized})
		return
	}

	msg := &models.Message{
		GroupID:  group.ID,
		SenderID: c.UserID,
		Type:     p.Type,
		Content:  p.Content,
	}
	if p.FileURL != "" {
		msg.FileMeta = models.FileMeta{URL: p.FileURL, Name: p.FileName, Size: p.FileSize}
	}
	if err := s.store.CreateMessage(msg); err != nil {
		s.logger.Error("failed to persist message", "group", group.ID, "user", c.UserID, "error", err)
		c.Emit(event.ErrorEvent{Message: msgSendFailed})
		return
	}

	// Persistence completed; broadcast order now follows persistence order.
	s.hub.EmitToRoom(ws.GroupRoom(group.ID), event.NewMessageEvent{
		ID:         msg.ID,
		GroupID:    group.ID,
		UserID:     c.UserID,
		UserName:   c.UserName,
		UserAvatar: c.UserAvatar,
		Content:    msg.Content,
		Type:       msg.Type,
		FileURL:    msg.FileMeta.URL,
		FileName:   msg.FileMeta.Name,
		FileSize:   msg.FileMeta.Size,
		CreatedAt:  msg.CreatedAt,
	})

	s.notify(c, group, msg)

	if msg.Type == models.MessageTypeText {
		s.queue.Enqueue(group.ID, QueuedMessage{
			ID:        msg.ID,
			UserID:    c.UserID,
			UserName:  c.UserName,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
	}
}

// SendSystemMessage persists and broadcasts a message attributed to the
// reserved system identity. The caller still needs access to the group.
func (s *ChatService) SendSystemMessage(c *ws.Client, p systemMessagePayload) {
	group, err := s.store.GetGroup(p.GroupID)
	if err != nil {
		c.Emit(event.ErrorEvent{Message: msgGroupNotFound})
		return
	}
	if !s.access.CanAccess(c.UserID, group) {
		c.Emit(event.ErrorEvent{Message: msgNotAuthorized})
		return
	}

	msg := &models.Message{
		GroupID:  group.ID,
		SenderID: models.SystemSenderID,
		Type:     models.MessageTypeSystem,
		Content:  p.Content,
	}
	if err := s.store.CreateMessage(msg); err != nil {
		s.logger.Error("failed to persist system message", "group", group.ID, "error", err)
		c.Emit(event.ErrorEvent{Message: msgSendFailed})
		return
	}

	name := p.UserName
	if name == "" {
		name = "SignalDesk"
	}
	s.hub.EmitToRoom(ws.GroupRoom(group.ID), event.NewMessageEvent{
		ID:         msg.ID,
		GroupID:    group.ID,
		UserID:     models.SystemSenderID,
		UserName:   name,
		UserAvatar: p.UserAvatar,
		Content:    msg.Content,
		Type:       msg.Type,
		CreatedAt:  msg.CreatedAt,
	})
}

// notify delivers the compact toast payload to interested users who are not
// necessarily viewing the channel. Restricted groups address each member's
// private room; public channels address the whole project room. The sender
// is always excluded.
func (s *ChatService) notify(c *ws.Client, group *models.Group, msg *models.Message) {
	project, err := s.store.GetProject(group.ProjectID)
	if err != nil {
		s.logger.Warn("notification fan-out skipped, project lookup failed", "project", group.ProjectID, "error", err)
		return
	}

	notif := event.NotificationEvent{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		GroupID:     group.ID,
		GroupName:   group.Name,
		GroupType:   group.Type,
		SenderID:    c.UserID,
		SenderName:  c.UserName,
		Content:     preview(msg.Content),
		Type:        msg.Type,
	}

	if group.Restricted() {
		memberIDs, err := s.store.GroupMemberIDs(group.ID)
		if err != nil {
			s.logger.Warn("notification fan-out skipped, member lookup failed", "group", group.ID, "error", err)
			return
		}
		for _, id := range memberIDs {
			if id == c.UserID {
				continue
			}
			s.hub.EmitToRoom(ws.UserRoom(id), notif)
		}
		return
	}

	s.hub.EmitToRoomExcept(ws.ProjectRoom(project.ID), c, notif)
}

// preview truncates message content for toast payloads.
func preview(content string) string {
	const max = 120
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}
