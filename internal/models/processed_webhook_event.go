package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessedWebhookEvent records billing events already applied, keyed by the
// provider's event id.
type ProcessedWebhookEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID     string    `gorm:"size:255;not null;uniqueIndex" json:"event_id"`
	EventType   string    `gorm:"size:100" json:"event_type"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}

func (e *ProcessedWebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
