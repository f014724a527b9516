package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AuthProviderEmail  = "email"
	AuthProviderGoogle = "google"
)

// User owns the lifetime question counter; rows are deactivated, never deleted.
type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string    `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password         string    `gorm:"not null" json:"-"`
	AuthProvider     string    `gorm:"size:20;default:'email'" json:"auth_provider"`
	GoogleSubject    *string   `gorm:"size:255;index" json:"-"`
	StripeCustomerID *string   `gorm:"size:255;index" json:"-"`
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	QuestionsUsed    int       `gorm:"not null;default:0" json:"questions_used"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
