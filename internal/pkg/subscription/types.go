package subscription

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/speakloop/speakloop/app/models"
)

// Error taxonomy surfaced to API callers. Gateway failures are returned as
// *gateway.Error and never wrapped into one of these.
var (
	// ErrAlreadySubscribed is returned when trial or promo issuance is
	// attempted while a trial, active or lifetime subscription exists.
	ErrAlreadySubscribed = errors.New("an active subscription already exists for this account")
	// ErrNoActiveSubscription is returned when cancellation is attempted
	// with nothing cancellable on the record.
	ErrNoActiveSubscription = errors.New("no active subscription to cancel")
	// ErrInvalidPromoCode is returned for unknown or malformed promo codes.
	ErrInvalidPromoCode = errors.New("unknown promo code")
	// ErrNotPaymentFailed is returned when a conversion retry is requested
	// for a record that is not in payment_failed state.
	ErrNotPaymentFailed = errors.New("subscription is not in payment_failed state")
)

// TrialResult is the success payload of IssueTrial.
type TrialResult struct {
	Plan         string    `json:"plan"`
	TrialEndDate time.Time `json:"trial_end_date"`
}

// Notifier delivers best-effort user notifications for lifecycle events.
// A nil Notifier disables notifications entirely.
type Notifier interface {
	TrialStarted(email, plan string, trialDays int)
	PaymentFailed(email string)
}

// NextBillingDate computes the end of the billing period that starts at from.
func NextBillingDate(plan string, from time.Time) time.Time {
	if plan == models.SubscriptionPlanAnnual {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// ConversionKey derives the deterministic idempotency key for converting one
// expired trial. It is stable across scanner re-runs of the same unchanged
// record (crash between gateway call and local write), and changes once the
// record is mutated (version bump), so an explicit retry after a recorded
// failure reaches the gateway as a fresh attempt.
func ConversionKey(userID uint, trialEnd time.Time, version uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("convert:%d:%d:%d", userID, trialEnd.UTC().Unix(), version)))
	return "conv_" + hex.EncodeToString(sum[:16])
}
