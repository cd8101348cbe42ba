package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/gateway"
)

// Converter turns one expired trial into a paid gateway subscription. It is
// the only component that creates gateway subscriptions, so all idempotency
// handling for that call lives here.
type Converter struct {
	subs    repository.SubscriptionRepository
	users   repository.UserRepository
	gateway gateway.Client
	notify  Notifier
	now     func() time.Time
}

// NewConverter creates a converter from injected collaborators. notify may be
// nil to disable notifications.
func NewConverter(repos *repository.Repositories, gw gateway.Client, notify Notifier) *Converter {
	return &Converter{
		subs:    repos.Subscription,
		users:   repos.User,
		gateway: gw,
		notify:  notify,
		now:     time.Now,
	}
}

// Convert converts a single expired trial. The gateway call carries a
// deterministic idempotency key derived from the record, so a crash between
// the gateway call and the local write cannot double-bill: the re-run replays
// the same key and the gateway returns the already-created subscription.
//
// On gateway failure the record moves to payment_failed with the stored card
// and customer kept, so an explicit retry can run without re-entering payment
// details. A version conflict on the success write means another actor
// mutated the record mid-flight (typically a cancellation); the fresh gateway
// subscription is cancelled again to keep the two systems consistent.
func (c *Converter) Convert(ctx context.Context, sub *models.Subscription) error {
	if sub.Status != models.SubscriptionStatusTrial {
		return nil
	}
	if sub.TrialEndDate == nil {
		log.Warnf("[Converter] subscription user=%d is in trial without a trial end date, skipping", sub.UserID)
		return nil
	}

	key := ConversionKey(sub.UserID, *sub.TrialEndDate, sub.Version)
	gatewaySubID, gwErr := c.gateway.CreateSubscription(ctx, gateway.CreateSubscriptionRequest{
		CustomerID:     sub.GatewayCustomerID,
		CardID:         sub.GatewayCardID,
		Plan:           sub.Plan,
		IdempotencyKey: key,
	})
	if gwErr != nil {
		return c.markFailed(sub, gwErr)
	}

	now := c.now()
	nextBilling := NextBillingDate(sub.Plan, now)

	updated := *sub
	updated.Status = models.SubscriptionStatusActive
	updated.GatewaySubscriptionID = gatewaySubID
	updated.StartDate = &now
	updated.EndDate = &nextBilling
	updated.FailedAt = nil

	if err := c.subs.UpdateWithVersion(&updated, sub.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// Lost the race against a concurrent mutation. The local record
			// wins; undo the gateway subscription we just created.
			log.Warnf("[Converter] version conflict converting user=%d, cancelling gateway subscription %s", sub.UserID, gatewaySubID)
			if cancelErr := c.gateway.CancelSubscription(ctx, gatewaySubID); cancelErr != nil {
				log.Errorf("[Converter] failed to cancel orphaned gateway subscription %s: %v", gatewaySubID, cancelErr)
			}
			return err
		}
		return err
	}

	*sub = updated
	log.Infof("[Converter] converted trial user=%d plan=%s gateway_subscription=%s", sub.UserID, sub.Plan, gatewaySubID)
	return nil
}

// markFailed records a conversion failure. The payment method stays on the
// record so a later retry does not need a new card-entry step.
func (c *Converter) markFailed(sub *models.Subscription, cause error) error {
	now := c.now()

	updated := *sub
	updated.Status = models.SubscriptionStatusPaymentFailed
	updated.FailedAt = &now

	if err := c.subs.UpdateWithVersion(&updated, sub.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// Someone else changed the record while the gateway call was in
			// flight; their state wins and the failure is not recorded.
			log.Warnf("[Converter] version conflict recording payment failure for user=%d: %v", sub.UserID, cause)
			return cause
		}
		return err
	}
	*sub = updated

	log.Warnf("[Converter] conversion failed for user=%d plan=%s: %v", sub.UserID, sub.Plan, cause)
	if c.notify != nil {
		if user, err := c.users.GetByID(sub.UserID); err == nil {
			c.notify.PaymentFailed(user.Email)
		}
	}
	return cause
}

// RetryConversion re-runs conversion for a record stuck in payment_failed.
// It first resets the record to trial under CAS; the reset bumps the version,
// which gives the gateway call a fresh idempotency key.
func (c *Converter) RetryConversion(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := c.subs.GetByUserID(userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotPaymentFailed
		}
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusPaymentFailed {
		return nil, ErrNotPaymentFailed
	}

	updated := *sub
	updated.Status = models.SubscriptionStatusTrial
	updated.FailedAt = nil
	if err := c.subs.UpdateWithVersion(&updated, sub.Version); err != nil {
		return nil, err
	}

	if err := c.Convert(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
