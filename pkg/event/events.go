// Package event defines the typed events carried over the websocket wire.
// Each event type is a separate Go type for type safety; EventName returns
// the wire name clients subscribe to.
package event

import "time"

// Event is the interface all event types must implement.
type Event interface {
	// EventName returns the unique wire name for this event type.
	EventName() string
}

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	NewMessage     = "new-message"
	Notification   = "notification"
	UserTyping     = "user-typing"
	AIStatus       = "ai-status"
	SignalsUpdated = "signals-updated"
	SummaryUpdated = "summary-updated"
	UsersOnline    = "users:online"
	UserJoined     = "user-joined"
	Error          = "error"
)

// ============================================================================
// Message Events
// ============================================================================

// NewMessageEvent carries a fully-populated persisted message, including the
// resolved sender display identity.
type NewMessageEvent struct {
	ID         string    `json:"_id"`
	GroupID    string    `json:"groupId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserAvatar string    `json:"userAvatar,omitempty"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	FileURL    string    `json:"fileUrl,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	FileSize   int64     `json:"fileSize,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (e NewMessageEvent) EventName() string { return NewMessage }

// NotificationEvent is the compact toast payload delivered to users who are
// interested in a channel but not currently viewing it.
type NotificationEvent struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName"`
	GroupType   string `json:"groupType"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	Content     string `json:"content"`
	Type        string `json:"type"`
}

func (e NotificationEvent) EventName() string { return Notification }

// UserTypingEvent relays typing state to other room occupants.
type UserTypingEvent struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func (e UserTypingEvent) EventName() string { return UserTyping }

// UserJoinedEvent announces a first-time room join to other occupants.
type UserJoinedEvent struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func (e UserJoinedEvent) EventName() string { return UserJoined }

// ============================================================================
// AI Pipeline Events
// ============================================================================

// AIStatusEvent relays the AI layer's thinking indicator for a group.
type AIStatusEvent struct {
	GroupID    string `json:"groupId"`
	IsThinking bool   `json:"isThinking"`
}

func (e AIStatusEvent) EventName() string { return AIStatus }

// SignalsUpdatedEvent notifies a room that new extracted signals were saved.
type SignalsUpdatedEvent struct {
	GroupID string `json:"groupId"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

func (e SignalsUpdatedEvent) EventName() string { return SignalsUpdated }

// SummaryUpdatedEvent carries the refreshed rolling summary for a group.
type SummaryUpdatedEvent struct {
	GroupID   string    `json:"groupId"`
	Summary   string    `json:"summary"`
	KeyPoints []string  `json:"keyPoints"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (e SummaryUpdatedEvent) EventName() string { return SummaryUpdated }

// ============================================================================
// Presence & Errors
// ============================================================================

// UsersOnlineEvent carries the full online-user-id set after each delta.
type UsersOnlineEvent struct {
	UserIDs []string `json:"userIds"`
}

func (e UsersOnlineEvent) EventName() string { return UsersOnline }

// ErrorEvent is delivered only to the session whose request failed.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (e ErrorEvent) EventName() string { return Error }
