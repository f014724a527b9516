// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/onir-world/legal-chat-backend/internal/database"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory SQLite database with every model migrated.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// CreateUser inserts an active email user with the given usage count.
func CreateUser(t *testing.T, db *gorm.DB, email string, questionsUsed int) *models.User {
	t.Helper()

	user := &models.User{
		Email:         email,
		Password:      "$2a$10$placeholderplaceholderplaceholderplaceholderpl",
		AuthProvider:  models.AuthProviderEmail,
		IsActive:      true,
		QuestionsUsed: questionsUsed,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateSubscription inserts a subscription row for user.
func CreateSubscription(t *testing.T, db *gorm.DB, user *models.User, status string, end *time.Time) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: "sub_" + uuid.NewString()[:8],
		PlanType:             "monthly",
		Status:               status,
		StartDate:            time.Now().Add(-30 * 24 * time.Hour),
		EndDate:              end,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}
