package repository

import (
	"errors"
	"time"

	"github.com/speakloop/speakloop/app/models"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned when an optimistic-concurrency update lost
// against a concurrent mutation of the same subscription record.
var ErrVersionConflict = errors.New("subscription record was modified concurrently")

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
	Count() (int64, error)
}

// SubscriptionRepository is the record store for the per-user subscription
// sub-document. All mutations go through UpdateWithVersion, which performs an
// atomic compare-and-swap on the record's version column.
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.Subscription, error)
	GetOrCreate(userID uint) (*models.Subscription, error)
	GetByGatewaySubscriptionID(gatewaySubscriptionID string) (*models.Subscription, error)
	// UpdateWithVersion persists sub only if the stored version still equals
	// expectedVersion; on success the record's version is bumped by one.
	// Returns ErrVersionConflict when another mutation won the race.
	UpdateWithVersion(sub *models.Subscription, expectedVersion uint64) error
	// FindDueTrials returns every trial whose window has elapsed and whose
	// auto-renew flag is still set.
	FindDueTrials(now time.Time) ([]models.Subscription, error)
	// FindStaleTrials returns expired trials with auto-renew disabled. Only
	// the optional cleanup sweep consumes this.
	FindStaleTrials(now time.Time) ([]models.Subscription, error)
}

// WebhookEventRepository persists gateway webhook deliveries with
// deduplication so replayed events become no-ops.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
