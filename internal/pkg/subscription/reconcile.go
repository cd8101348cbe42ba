package subscription

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/app/repository"
)

// Gateway webhook event types the reconciler understands. Anything else is
// stored and acknowledged without touching local state.
const (
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPaymentUpdated       = "payment.updated"
)

// Reconciler applies gateway webhook events to local subscription records.
// The gateway is the source of truth for billing outcomes: a state change it
// reports overrides whatever the local record says, but only through a CAS
// write so it never clobbers a newer local mutation blindly.
type Reconciler struct {
	subs   repository.SubscriptionRepository
	events repository.WebhookEventRepository
	now    func() time.Time
}

// NewReconciler creates a reconciler over the given repositories.
func NewReconciler(repos *repository.Repositories) *Reconciler {
	return &Reconciler{
		subs:   repos.Subscription,
		events: repos.WebhookEvent,
		now:    time.Now,
	}
}

// webhookEnvelope is the common shape of gateway webhook payloads.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SubscriptionID   string     `json:"subscription_id"`
		Status           string     `json:"status"`
		Plan             string     `json:"plan"`
		CurrentPeriodEnd *time.Time `json:"current_period_end"`
	} `json:"data"`
}

// RecordEvent stores a delivery for dedup and audit. It returns the stored
// row and whether this is the first time the event was seen. Deliveries
// without an event id are keyed by a payload hash so replays of those
// deduplicate too.
func (r *Reconciler) RecordEvent(eventID, eventType string, payload []byte, signatureValid bool) (bool, *models.GatewayWebhookEvent, error) {
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	event := &models.GatewayWebhookEvent{
		EventID:        eventID,
		EventType:      eventType,
		PayloadJSON:    string(payload),
		SignatureValid: signatureValid,
	}
	return r.events.CreateIfNotExists(event)
}

// Apply processes one webhook payload against the local record. Unknown event
// types and events for unknown subscriptions are logged and acknowledged;
// returning an error would only make the gateway redeliver something we can
// never handle.
func (r *Reconciler) Apply(eventType string, payload []byte) error {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return err
	}
	if envelope.Data.SubscriptionID == "" {
		log.Warnf("[Reconciler] event type=%s carries no subscription id, ignoring", eventType)
		return nil
	}

	sub, err := r.subs.GetByGatewaySubscriptionID(envelope.Data.SubscriptionID)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Warnf("[Reconciler] no local record for gateway subscription %s, ignoring event type=%s", envelope.Data.SubscriptionID, eventType)
			return nil
		}
		return err
	}

	switch eventType {
	case EventSubscriptionUpdated, EventPaymentUpdated:
		return r.applyUpdate(sub, &envelope)
	case EventSubscriptionCanceled:
		return r.applyCancel(sub)
	default:
		log.Infof("[Reconciler] unhandled event type=%s for user=%d, ignoring", eventType, sub.UserID)
		return nil
	}
}

// applyUpdate mirrors the gateway's reported status onto the local record.
func (r *Reconciler) applyUpdate(sub *models.Subscription, envelope *webhookEnvelope) error {
	switch envelope.Data.Status {
	case "active":
		changed := sub.Status != models.SubscriptionStatusActive
		if envelope.Data.CurrentPeriodEnd != nil &&
			(sub.EndDate == nil || !sub.EndDate.Equal(*envelope.Data.CurrentPeriodEnd)) {
			changed = true
		}
		if !changed {
			return nil
		}
		sub.Status = models.SubscriptionStatusActive
		sub.FailedAt = nil
		if envelope.Data.CurrentPeriodEnd != nil {
			sub.EndDate = envelope.Data.CurrentPeriodEnd
		}
	case "past_due", "unpaid":
		if sub.Status == models.SubscriptionStatusPaymentFailed {
			return nil
		}
		now := r.now()
		sub.Status = models.SubscriptionStatusPaymentFailed
		sub.FailedAt = &now
	case "canceled", "cancelled":
		return r.applyCancel(sub)
	default:
		log.Infof("[Reconciler] unhandled gateway status=%q for user=%d, ignoring", envelope.Data.Status, sub.UserID)
		return nil
	}

	if err := r.subs.UpdateWithVersion(sub, sub.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			log.Warnf("[Reconciler] version conflict applying update for user=%d, event will be retried by redelivery", sub.UserID)
		}
		return err
	}
	log.Infof("[Reconciler] reconciled user=%d to status=%s", sub.UserID, sub.Status)
	return nil
}

// applyCancel marks the record cancelled. A replayed cancellation is a no-op.
func (r *Reconciler) applyCancel(sub *models.Subscription) error {
	if sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}
	now := r.now()
	sub.Status = models.SubscriptionStatusCancelled
	sub.EndDate = &now
	sub.AutoRenew = false

	if err := r.subs.UpdateWithVersion(sub, sub.Version); err != nil {
		return err
	}
	log.Infof("[Reconciler] reconciled user=%d to status=cancelled", sub.UserID)
	return nil
}
