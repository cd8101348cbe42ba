package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription status values. A record is created as "free" together with the
// user account and is mutated in place for the lifetime of the account.
const (
	SubscriptionStatusFree          = "free"
	SubscriptionStatusTrial         = "trial"
	SubscriptionStatusActive        = "active"
	SubscriptionStatusCancelled     = "cancelled"
	SubscriptionStatusPaymentFailed = "payment_failed"
	SubscriptionStatusLifetime      = "lifetime"
)

// Billing plans. Plan is empty while the record is in "free" status.
const (
	SubscriptionPlanMonthly = "monthly"
	SubscriptionPlanAnnual  = "annual"
)

// Subscription is the per-user subscription record. There is exactly one row
// per user; it carries the gateway identifiers needed to convert a trial into
// a paid subscription without a second card-entry step.
//
// EndDate is the trial expiry while status=trial and the next billing date
// while status=active. TrialEndDate is set once at trial creation and is the
// authoritative conversion trigger. Version backs the optimistic-concurrency
// check in the repository; every mutation must go through a CAS update.
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	Status                string     `gorm:"type:varchar(32);not null;default:'free';index:idx_subscriptions_status_trial_end,priority:1" json:"status"`
	Plan                  string     `gorm:"type:varchar(16);not null;default:''" json:"plan,omitempty"`
	StartDate             *time.Time `gorm:"type:timestamp;default:null" json:"start_date,omitempty"`
	EndDate               *time.Time `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	TrialEndDate          *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_trial_end,priority:2" json:"trial_end_date,omitempty"`
	GatewayCustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"-"`
	GatewayCardID         string     `gorm:"type:varchar(191);not null;default:''" json:"-"`
	GatewaySubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"-"`
	PromoCode             string     `gorm:"type:varchar(64);not null;default:''" json:"promo_code,omitempty"`
	AutoRenew             bool       `gorm:"not null;default:false" json:"auto_renew"`
	FailedAt              *time.Time `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	Version               uint64     `gorm:"not null;default:0" json:"-"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// IsSubscribed reports whether the record already grants access, i.e. a new
// trial or promo grant must be rejected with AlreadySubscribed.
func (s *Subscription) IsSubscribed() bool {
	switch s.Status {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusLifetime:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether a user-initiated cancellation is valid.
func (s *Subscription) IsCancellable() bool {
	return s.Status == SubscriptionStatusTrial || s.Status == SubscriptionStatusActive
}

// HasGatewaySubscription reports whether a live gateway subscription exists
// that must be cancelled remotely before local state changes.
func (s *Subscription) HasGatewaySubscription() bool {
	return s.GatewaySubscriptionID != ""
}

// TrialElapsed reports whether the trial window has passed at the given time.
func (s *Subscription) TrialElapsed(now time.Time) bool {
	return s.Status == SubscriptionStatusTrial &&
		s.TrialEndDate != nil &&
		!s.TrialEndDate.After(now)
}

// ValidPlan reports whether p is a known billing plan.
func ValidPlan(p string) bool {
	return p == SubscriptionPlanMonthly || p == SubscriptionPlanAnnual
}

// GetOrCreateSubscription returns the user's subscription record, creating
// the initial free record if none exists yet.
func GetOrCreateSubscription(db *gorm.DB, userID uint) (*Subscription, error) {
	var sub Subscription
	if err := db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			sub = Subscription{UserID: userID, Status: SubscriptionStatusFree}
			if err := db.Create(&sub).Error; err != nil {
				return nil, err
			}
			return &sub, nil
		}
		return nil, err
	}
	return &sub, nil
}
