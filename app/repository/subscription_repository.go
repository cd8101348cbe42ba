package repository

import (
	"errors"
	"time"

	"github.com/speakloop/speakloop/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// GetByUserID retrieves the subscription record for a user
func (r *subscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetOrCreate returns the user's record, creating the initial free record if needed
func (r *subscriptionRepository) GetOrCreate(userID uint) (*models.Subscription, error) {
	return models.GetOrCreateSubscription(r.db, userID)
}

// GetByGatewaySubscriptionID resolves a gateway subscription id to the local record
func (r *subscriptionRepository) GetByGatewaySubscriptionID(gatewaySubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("gateway_subscription_id = ?", gatewaySubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateWithVersion applies all mutable fields of sub as a single
// compare-and-swap against the stored version. The explicit column map is
// deliberate: zero values (cleared dates, disabled auto-renew) must be
// written, which a struct update would silently skip.
func (r *subscriptionRepository) UpdateWithVersion(sub *models.Subscription, expectedVersion uint64) error {
	newVersion := expectedVersion + 1
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":                  sub.Status,
			"plan":                    sub.Plan,
			"start_date":              sub.StartDate,
			"end_date":                sub.EndDate,
			"trial_end_date":          sub.TrialEndDate,
			"gateway_customer_id":     sub.GatewayCustomerID,
			"gateway_card_id":         sub.GatewayCardID,
			"gateway_subscription_id": sub.GatewaySubscriptionID,
			"promo_code":              sub.PromoCode,
			"auto_renew":              sub.AutoRenew,
			"failed_at":               sub.FailedAt,
			"version":                 newVersion,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		var count int64
		if err := r.db.Model(&models.Subscription{}).Where("id = ?", sub.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return ErrVersionConflict
	}
	sub.Version = newVersion
	return nil
}

// FindDueTrials returns all trials whose window has elapsed with auto-renew set
func (r *subscriptionRepository) FindDueTrials(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND trial_end_date IS NOT NULL AND trial_end_date <= ? AND auto_renew = ?",
			models.SubscriptionStatusTrial, now, true).
		Order("trial_end_date ASC").
		Find(&subs).Error
	return subs, err
}

// FindStaleTrials returns expired trials that will never convert because
// auto-renew is disabled
func (r *subscriptionRepository) FindStaleTrials(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND trial_end_date IS NOT NULL AND trial_end_date <= ? AND auto_renew = ?",
			models.SubscriptionStatusTrial, now, false).
		Order("trial_end_date ASC").
		Find(&subs).Error
	return subs, err
}

// IsNotFound reports whether err is the record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
