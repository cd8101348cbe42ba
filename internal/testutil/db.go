package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/speakloop/speakloop/app/models"
)

// SetupTestDB creates an in-memory SQLite database with all models migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.UserSettings{},
		&models.Subscription{},
		&models.GatewayWebhookEvent{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the underlying connection.
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("Warning: Failed to get underlying DB: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		t.Logf("Warning: Failed to close test database: %v", err)
	}
}

// TestUser creates a persisted active user.
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*models.User)) *models.User {
	t.Helper()

	nano := time.Now().UnixNano()
	user := &models.User{
		Name:     fmt.Sprintf("testuser_%d", nano%100000),
		Email:    fmt.Sprintf("test_%d@example.com", nano),
		Password: "$2a$10$abcdefghijklmnopqrstuvwxyz123456",
		Role:     models.ROLE_USER,
		Status:   models.STATUS_ACTIVE,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// WithEmail sets the user email
func WithEmail(email string) func(*models.User) {
	return func(u *models.User) {
		u.Email = email
	}
}

// WithStatus sets the user status
func WithStatus(status string) func(*models.User) {
	return func(u *models.User) {
		u.Status = status
	}
}

// TestSubscription creates a persisted subscription record for the user.
func TestSubscription(t *testing.T, db *gorm.DB, userID uint, opts ...func(*models.Subscription)) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		UserID: userID,
		Status: models.SubscriptionStatusFree,
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}
	return sub
}

// WithTrial puts the record into trial state ending at trialEnd.
func WithTrial(plan string, trialEnd time.Time) func(*models.Subscription) {
	return func(s *models.Subscription) {
		start := trialEnd.Add(-7 * 24 * time.Hour)
		s.Status = models.SubscriptionStatusTrial
		s.Plan = plan
		s.StartDate = &start
		s.EndDate = &trialEnd
		s.TrialEndDate = &trialEnd
		s.GatewayCustomerID = "cus_test"
		s.GatewayCardID = "card_test"
		s.AutoRenew = true
	}
}

// WithSubscriptionStatus overrides the record status.
func WithSubscriptionStatus(status string) func(*models.Subscription) {
	return func(s *models.Subscription) {
		s.Status = status
	}
}
