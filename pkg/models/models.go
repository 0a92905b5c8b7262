// Database models for the SignalDesk realtime backend.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message kinds.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Group kinds.
const (
	GroupTypeChannel = "channel"
	GroupTypeDM      = "dm"
)

// SystemSenderID is the reserved sender id for system-authored messages
// (AI warnings, join announcements). It never collides with a real user id
// because user ids are UUIDs.
const SystemSenderID = "system"

// Signal categories form a fixed vocabulary; anything else returned by the
// classifier is dropped.
const (
	CategoryDecision   = "DECISION"
	CategoryAction     = "ACTION"
	CategorySuggestion = "SUGGESTION"
	CategoryQuestion   = "QUESTION"
	CategoryConstraint = "CONSTRAINT"
	CategoryAssumption = "ASSUMPTION"
)

var categoryVocabulary = map[string]bool{
	CategoryDecision:   true,
	CategoryAction:     true,
	CategorySuggestion: true,
	CategoryQuestion:   true,
	CategoryConstraint: true,
	CategoryAssumption: true,
}

// NormalizeCategories upper-cases the given labels and keeps only those in
// the fixed vocabulary. Duplicates are collapsed, input order is preserved.
func NormalizeCategories(labels []string) []string {
	var out []string
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		c := strings.ToUpper(strings.TrimSpace(l))
		if categoryVocabulary[c] && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// ValidCategory reports whether c (case-insensitively) is in the vocabulary
// and returns its canonical upper-case form.
func ValidCategory(c string) (string, bool) {
	up := strings.ToUpper(strings.TrimSpace(c))
	return up, categoryVocabulary[up]
}

// StringList is stored as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, l)
}

// User is the chat principal. Credentials live in the auth service; this
// backend only reads identity fields.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Email     string    `json:"email" gorm:"size:255;uniqueIndex"`
	Avatar    string    `json:"avatar" gorm:"size:500"`
	CreatedAt time.Time `json:"created_at"`
}

func (*User) TableName() string { return "users" }

// Project owns channels and a member set. The owner is always a member.
type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Name        string    `json:"name" gorm:"size:100;not null"`
	JoinCode    string    `json:"join_code" gorm:"size:20;uniqueIndex"`
	Description string    `json:"description" gorm:"size:500"`
	OwnerID     string    `json:"owner_id" gorm:"size:36;index;not null"`
	AccentColor string    `json:"accent_color" gorm:"size:20;default:'#7C3AED'"`
	Members     []User    `json:"members,omitempty" gorm:"many2many:project_members"`
	CreatedAt   time.Time `json:"created_at"`
}

func (*Project) TableName() string { return "projects" }

// Group is a channel or DM inside a project. The member set is only
// meaningful when the group is private or a DM; public channels are visible
// to every project member.
type Group struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	ProjectID   string    `json:"project_id" gorm:"size:36;index;not null"`
	Name        string    `json:"name" gorm:"size:100;not null"`
	Description string    `json:"description" gorm:"size:500"`
	Type        string    `json:"type" gorm:"size:10;default:'channel'"` // channel, dm
	IsDefault   bool      `json:"is_default" gorm:"default:false"`
	IsPrivate   bool      `json:"is_private" gorm:"default:false"`
	Members     []User    `json:"members,omitempty" gorm:"many2many:group_members"`
	CreatedAt   time.Time `json:"created_at"`
}

func (*Group) TableName() string { return "groups" }

// Restricted reports whether delivery and visibility are limited to the
// group's explicit member set.
func (g *Group) Restricted() bool {
	return g.IsPrivate || g.Type == GroupTypeDM
}

// FileMeta describes an uploaded file attached to a message.
type FileMeta struct {
	Name string `json:"name,omitempty" gorm:"size:255"`
	Size int64  `json:"size,omitempty"`
	Mime string `json:"mime,omitempty" gorm:"size:100"`
	URL  string `json:"url,omitempty" gorm:"size:500"`
}

// Message is immutable once created; there is no edit or delete path.
type Message struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	GroupID   string    `json:"group_id" gorm:"size:36;index:idx_messages_group_created;not null"`
	SenderID  string    `json:"sender_id" gorm:"size:36;index"` // SystemSenderID for system messages
	Type      string    `json:"type" gorm:"size:10;default:'text'"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	FileMeta  FileMeta  `json:"file_meta,omitempty" gorm:"embedded;embeddedPrefix:file_"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_messages_group_created"`
}

func (*Message) TableName() string { return "messages" }

// Context is an AI-extracted signal: a message snippet tagged with one or
// more categories from the fixed vocabulary. Written only by the classify
// flush (or the debug injection path), never mutated.
type Context struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	MessageID       string     `json:"message_id" gorm:"size:36;index;not null"`
	GroupID         string     `json:"group_id" gorm:"size:36;index;not null"`
	UserID          string     `json:"user_id" gorm:"size:36"`
	Content         string     `json:"content" gorm:"type:text;not null"`
	Category        StringList `json:"category" gorm:"type:text;not null"`
	ConfidenceScore float64    `json:"confidence_score"`
	ConfidenceNote  string     `json:"confidence_reason" gorm:"size:500"`
	ClassifiedAt    time.Time  `json:"classified_at"`
}

func (*Context) TableName() string { return "contexts" }

// Summary is the single rolling synthesis for a group. Upserted in place,
// never appended.
type Summary struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	GroupID   string     `json:"group_id" gorm:"size:36;uniqueIndex;not null"`
	Content   string     `json:"content" gorm:"type:text;not null"`
	KeyPoints StringList `json:"key_points" gorm:"type:text"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (*Summary) TableName() string { return "summaries" }
