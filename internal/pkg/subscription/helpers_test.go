package subscription

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/gateway"
	"github.com/speakloop/speakloop/internal/testutil"
)

func newTestRepos(t *testing.T) (*repository.Repositories, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return repository.NewRepositories(db), db
}

// fakeGateway is an in-memory gateway.Client that records every call.
type fakeGateway struct {
	mu sync.Mutex

	customerSeq int
	cardSeq     int
	subSeq      int

	createSubErr   error
	failCustomerID string

	idempotencyKeys []string
	createdSubs     []string
	cancelledSubs   []string
}

func (f *fakeGateway) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerSeq++
	return fmt.Sprintf("cus_%d", f.customerSeq), nil
}

func (f *fakeGateway) CreateCard(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cardSeq++
	return fmt.Sprintf("card_%d", f.cardSeq), nil
}

func (f *fakeGateway) CreateSubscription(_ context.Context, req gateway.CreateSubscriptionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idempotencyKeys = append(f.idempotencyKeys, req.IdempotencyKey)
	if f.createSubErr != nil && (f.failCustomerID == "" || f.failCustomerID == req.CustomerID) {
		return "", f.createSubErr
	}
	f.subSeq++
	id := fmt.Sprintf("sub_%d", f.subSeq)
	f.createdSubs = append(f.createdSubs, id)
	return id, nil
}

func (f *fakeGateway) CancelSubscription(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledSubs = append(f.cancelledSubs, subscriptionID)
	return nil
}

func (f *fakeGateway) RetrieveSubscription(_ context.Context, subscriptionID string) (*gateway.SubscriptionInfo, error) {
	return &gateway.SubscriptionInfo{ID: subscriptionID, Status: "active"}, nil
}

// recordingNotifier captures notification calls.
type recordingNotifier struct {
	mu            sync.Mutex
	trialStarted  []string
	paymentFailed []string
}

func (n *recordingNotifier) TrialStarted(email, _ string, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trialStarted = append(n.trialStarted, email)
}

func (n *recordingNotifier) PaymentFailed(email string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentFailed = append(n.paymentFailed, email)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
