package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionActive     = "active"
	SubscriptionCanceled   = "canceled"
	SubscriptionExpired    = "expired"
	SubscriptionIncomplete = "incomplete"
)

// Subscription is the local snapshot of a Stripe subscription. A user keeps
// every historical row; EndDate is nil while the plan auto-renews.
type Subscription struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	StripeSubscriptionID string     `gorm:"size:255;not null;uniqueIndex" json:"stripe_subscription_id"`
	PlanType             string     `gorm:"size:50;not null" json:"plan_type"`
	Status               string     `gorm:"size:30;not null;default:'incomplete';index" json:"status"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              *time.Time `json:"end_date"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
