package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	LanguageEnglish = "english"
	LanguageItalian = "italian"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is addressed by clients through Key, which changes when the
// conversation is cleared. ID is internal and stable.
type Conversation struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_user_key,priority:1" json:"-"`
	Key            string    `gorm:"column:conversation_key;size:64;not null;uniqueIndex:idx_conversations_user_key,priority:2" json:"conversation_id"`
	Language       string    `gorm:"size:20;not null;default:'english';index" json:"language"`
	Country        string    `gorm:"size:50;not null;default:'italy'" json:"country"`
	Title          string    `gorm:"size:80" json:"title"`
	LastActivityAt time.Time `gorm:"not null;index" json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Messages       []Message `gorm:"foreignKey:ConversationID" json:"messages"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Message is immutable once written. Seq orders messages inside a
// conversation; ClientID is the id the client sees and reconciles on.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_messages_conv_seq,priority:1;uniqueIndex:idx_messages_conv_client,priority:1" json:"-"`
	ClientID       string    `gorm:"size:100;not null;uniqueIndex:idx_messages_conv_client,priority:2" json:"id"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_messages_conv_seq,priority:2" json:"seq"`
	Role           string    `gorm:"size:20;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"not null" json:"timestamp"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
