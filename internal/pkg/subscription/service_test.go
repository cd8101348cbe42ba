package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/testutil"
)

func TestIssueTrial(t *testing.T) {
	repos, db := newTestRepos(t)
	fg := &fakeGateway{}
	notifier := &recordingNotifier{}
	svc := NewService(repos, fg, notifier)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	user := testutil.TestUser(t, db)

	result, err := svc.IssueTrial(context.Background(), user.ID, models.SubscriptionPlanMonthly, "tok_visa", 7)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPlanMonthly, result.Plan)
	assert.Equal(t, now.Add(7*24*time.Hour), result.TrialEndDate)

	sub, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTrial, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, "cus_1", sub.GatewayCustomerID)
	assert.Equal(t, "card_1", sub.GatewayCardID)
	assert.Empty(t, sub.GatewaySubscriptionID)
	require.NotNil(t, sub.TrialEndDate)
	assert.Equal(t, now.Add(7*24*time.Hour).Unix(), sub.TrialEndDate.Unix())
	assert.Equal(t, uint64(1), sub.Version)

	assert.Equal(t, []string{user.Email}, notifier.trialStarted)
}

func TestIssueTrialRejectsExistingSubscription(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)

	for _, status := range []string{
		models.SubscriptionStatusTrial,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusLifetime,
	} {
		user := testutil.TestUser(t, db)
		testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(status))

		_, err := svc.IssueTrial(context.Background(), user.ID, models.SubscriptionPlanMonthly, "tok_visa", 7)
		assert.ErrorIs(t, err, ErrAlreadySubscribed, "status %s must reject a new trial", status)
	}
}

func TestIssueTrialValidation(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	user := testutil.TestUser(t, db)

	_, err := svc.IssueTrial(context.Background(), user.ID, "weekly", "tok_visa", 7)
	assert.Error(t, err)

	_, err = svc.IssueTrial(context.Background(), user.ID, models.SubscriptionPlanMonthly, "", 7)
	assert.Error(t, err)

	_, err = svc.IssueTrial(context.Background(), user.ID, models.SubscriptionPlanMonthly, "tok_visa", 0)
	assert.Error(t, err)
}

func TestIssueTrialReusesGatewayCustomer(t *testing.T) {
	repos, db := newTestRepos(t)
	fg := &fakeGateway{}
	svc := NewService(repos, fg, nil)
	user := testutil.TestUser(t, db)

	// A previously cancelled subscriber keeps the gateway customer.
	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusCancelled))
	sub.GatewayCustomerID = "cus_existing"
	require.NoError(t, db.Save(sub).Error)

	_, err := svc.IssueTrial(context.Background(), user.ID, models.SubscriptionPlanAnnual, "tok_visa", 14)
	require.NoError(t, err)

	stored, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", stored.GatewayCustomerID)
	assert.Equal(t, 0, fg.customerSeq)
	assert.Equal(t, 1, fg.cardSeq)
}

func TestIssueTrialClearsStaleGatewaySubscription(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	user := testutil.TestUser(t, db)

	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusCancelled))
	sub.GatewayCustomerID = "cus_existing"
	sub.GatewaySubscriptionID = "sub_old"
	require.NoError(t, db.Save(sub).Error)

	_, err := svc.IssueTrial(context.Background(), user.ID, models.SubscriptionPlanMonthly, "tok_visa", 7)
	require.NoError(t, err)

	stored, err := repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GatewaySubscriptionID)

	// A late cancellation event for the dead gateway subscription must not
	// touch the fresh trial.
	rec := NewReconciler(repos)
	payload := []byte(`{"id":"evt_late","type":"subscription.canceled","data":{"subscription_id":"sub_old","status":"canceled"}}`)
	require.NoError(t, rec.Apply(EventSubscriptionCanceled, payload))

	stored, err = repos.Subscription.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTrial, stored.Status)
	assert.True(t, stored.AutoRenew)
}

func TestCancelActiveSubscription(t *testing.T) {
	repos, db := newTestRepos(t)
	fg := &fakeGateway{}
	svc := NewService(repos, fg, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	user := testutil.TestUser(t, db)
	sub := testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusActive))
	sub.GatewaySubscriptionID = "sub_live"
	require.NoError(t, db.Save(sub).Error)

	cancelled, err := svc.Cancel(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.AutoRenew)
	require.NotNil(t, cancelled.EndDate)
	assert.Equal(t, now.Unix(), cancelled.EndDate.Unix())

	assert.Equal(t, []string{"sub_live"}, fg.cancelledSubs)
}

func TestCancelTrialDoesNotCallGateway(t *testing.T) {
	repos, db := newTestRepos(t)
	fg := &fakeGateway{}
	svc := NewService(repos, fg, nil)

	user := testutil.TestUser(t, db)
	trialEnd := time.Now().Add(3 * 24 * time.Hour)
	testutil.TestSubscription(t, db, user.ID, testutil.WithTrial(models.SubscriptionPlanMonthly, trialEnd))

	cancelled, err := svc.CancelTrial(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.AutoRenew)
	assert.Empty(t, fg.cancelledSubs)
}

func TestCancelWithoutSubscription(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	user := testutil.TestUser(t, db)

	_, err := svc.Cancel(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusCancelled))
	_, err = svc.Cancel(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestCancelTrialRequiresTrialStatus(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	user := testutil.TestUser(t, db)
	testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusActive))

	_, err := svc.CancelTrial(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

// raceSubscriptionRepo lets a test mutate the record between the service's
// read and its CAS write.
type raceSubscriptionRepo struct {
	repository.SubscriptionRepository
	afterGet func(*models.Subscription)
}

func (r *raceSubscriptionRepo) GetByUserID(userID uint) (*models.Subscription, error) {
	sub, err := r.SubscriptionRepository.GetByUserID(userID)
	if err == nil && r.afterGet != nil {
		r.afterGet(sub)
	}
	return sub, err
}

func TestCancelTrialConflictsWithConcurrentConversion(t *testing.T) {
	repos, db := newTestRepos(t)
	user := testutil.TestUser(t, db)
	trialEnd := time.Now().Add(-time.Hour)
	testutil.TestSubscription(t, db, user.ID, testutil.WithTrial(models.SubscriptionPlanMonthly, trialEnd))

	base := repos.Subscription
	repos.Subscription = &raceSubscriptionRepo{
		SubscriptionRepository: base,
		afterGet: func(stale *models.Subscription) {
			// The scanner converts the trial right after the cancel read it.
			fresh := *stale
			fresh.Status = models.SubscriptionStatusActive
			fresh.GatewaySubscriptionID = "sub_converted"
			require.NoError(t, base.UpdateWithVersion(&fresh, stale.Version))
		},
	}
	svc := NewService(repos, &fakeGateway{}, nil)

	_, err := svc.CancelTrial(context.Background(), user.ID)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	stored, err := base.GetByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, stored.Status)
}

func TestStatusCreatesInitialRecord(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	user := testutil.TestUser(t, db)

	sub, err := svc.Status(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusFree, sub.Status)
	assert.Equal(t, user.ID, sub.UserID)
}

func TestApplyPromoGrantsLifetime(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)
	user := testutil.TestUser(t, db)

	sub, err := svc.ApplyPromo(context.Background(), user.ID, "testing2025")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusLifetime, sub.Status)
	assert.Equal(t, "TESTING2025", sub.PromoCode)
	assert.Nil(t, sub.EndDate)
	assert.Nil(t, sub.TrialEndDate)
	assert.False(t, sub.AutoRenew)
}

func TestApplyPromoRejections(t *testing.T) {
	repos, db := newTestRepos(t)
	svc := NewService(repos, &fakeGateway{}, nil)
	user := testutil.TestUser(t, db)

	_, err := svc.ApplyPromo(context.Background(), user.ID, "NOT-A-CODE")
	assert.ErrorIs(t, err, ErrInvalidPromoCode)

	testutil.TestSubscription(t, db, user.ID, testutil.WithSubscriptionStatus(models.SubscriptionStatusActive))
	_, err = svc.ApplyPromo(context.Background(), user.ID, "FOUNDERS")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}
