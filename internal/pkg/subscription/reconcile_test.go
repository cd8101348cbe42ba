package subscription

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/internal/testutil"
)

func eventPayload(eventID, eventType, subscriptionID, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"data":{"subscription_id":%q,"status":%q}}`,
		eventID, eventType, subscriptionID, status,
	))
}

func TestRecordEventDeduplicates(t *testing.T) {
	repos, _ := newTestRepos(t)
	rec := NewReconciler(repos)

	payload := eventPayload("evt_1", EventSubscriptionUpdated, "sub_1", "active")

	created, stored, err := rec.RecordEvent("evt_1", EventSubscriptionUpdated, payload, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "evt_1", stored.EventID)

	created, replay, err := rec.RecordEvent("evt_1", EventSubscriptionUpdated, payload, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, replay.ID)
}

func TestRecordEventFallsBackToPayloadHash(t *testing.T) {
	repos, _ := newTestRepos(t)
	rec := NewReconciler(repos)

	payload := eventPayload("", EventSubscriptionCanceled, "sub_9", "canceled")

	created, stored, err := rec.RecordEvent("", EventSubscriptionCanceled, payload, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, stored.EventID, "hash:")

	created, _, err = rec.RecordEvent("", EventSubscriptionCanceled, payload, true)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestApplyCancellation(t *testing.T) {
	repos, db := newTestRepos(t)
	rec := NewReconciler(repos)
	now := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)
	rec.now = fixedClock(now)

	user := testutil.TestUser(t, db)
	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusActive))
	sub.GatewaySubscriptionID = "sub_live"
	require.NoError(t, db.Save(sub).Error)

	payload := eventPayload("evt_c1", EventSubscriptionCanceled, "sub_live", "canceled")
	require.NoError(t, rec.Apply(EventSubscriptionCanceled, payload))

	stored, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, stored.Status)
	assert.False(t, stored.AutoRenew)
	version := stored.Version

	// Replaying the cancellation is a no-op.
	require.NoError(t, rec.Apply(EventSubscriptionCanceled, payload))
	stored, err = repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, version, stored.Version)
}

func TestApplyPaymentFailure(t *testing.T) {
	repos, db := newTestRepos(t)
	rec := NewReconciler(repos)
	rec.now = fixedClock(time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC))

	user := testutil.TestUser(t, db)
	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusActive))
	sub.GatewaySubscriptionID = "sub_live"
	require.NoError(t, db.Save(sub).Error)

	payload := eventPayload("evt_p1", EventPaymentUpdated, "sub_live", "past_due")
	require.NoError(t, rec.Apply(EventPaymentUpdated, payload))

	stored, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaymentFailed, stored.Status)
	assert.NotNil(t, stored.FailedAt)
}

func TestApplyReactivation(t *testing.T) {
	repos, db := newTestRepos(t)
	rec := NewReconciler(repos)

	user := testutil.TestUser(t, db)
	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusPaymentFailed))
	sub.GatewaySubscriptionID = "sub_live"
	require.NoError(t, db.Save(sub).Error)

	payload := eventPayload("evt_a1", EventSubscriptionUpdated, "sub_live", "active")
	require.NoError(t, rec.Apply(EventSubscriptionUpdated, payload))

	stored, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, stored.Status)
	assert.Nil(t, stored.FailedAt)
}

func TestApplyIgnoresUnknownSubscription(t *testing.T) {
	repos, _ := newTestRepos(t)
	rec := NewReconciler(repos)

	payload := eventPayload("evt_u1", EventSubscriptionUpdated, "sub_nobody", "active")
	assert.NoError(t, rec.Apply(EventSubscriptionUpdated, payload))
}

func TestApplyIgnoresUnknownEventType(t *testing.T) {
	repos, db := newTestRepos(t)
	rec := NewReconciler(repos)

	user := testutil.TestUser(t, db)
	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusActive))
	sub.GatewaySubscriptionID = "sub_live"
	require.NoError(t, db.Save(sub).Error)

	payload := eventPayload("evt_x1", "invoice.finalized", "sub_live", "active")
	assert.NoError(t, rec.Apply("invoice.finalized", payload))

	stored, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, stored.Status)
}

func TestApplyRejectsMalformedPayload(t *testing.T) {
	repos, _ := newTestRepos(t)
	rec := NewReconciler(repos)

	assert.Error(t, rec.Apply(EventSubscriptionUpdated, []byte("{not json")))
}
