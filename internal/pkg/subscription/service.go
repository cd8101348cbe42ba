package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/gateway"
)

// Service drives the request-facing side of the subscription lifecycle:
// trial issuance, cancellation, promo grants and status queries. The
// time-driven side lives in Scanner/Converter.
//
// Every state change performs the external gateway side effect first and the
// local CAS write second; a gateway failure therefore never leaves a partial
// local mutation behind.
type Service struct {
	subs    repository.SubscriptionRepository
	users   repository.UserRepository
	gateway gateway.Client
	notify  Notifier
	now     func() time.Time
}

// NewService creates a subscription service from injected collaborators.
// notify may be nil to disable notifications.
func NewService(repos *repository.Repositories, gw gateway.Client, notify Notifier) *Service {
	return &Service{
		subs:    repos.Subscription,
		users:   repos.User,
		gateway: gw,
		notify:  notify,
		now:     time.Now,
	}
}

// IssueTrial registers the payment token with the gateway and opens a trial
// window for the account. The gateway customer is reused when the record
// already carries one, so a retried call never creates a second customer.
func (s *Service) IssueTrial(ctx context.Context, userID uint, plan, paymentToken string, trialDays int) (*TrialResult, error) {
	if !models.ValidPlan(plan) {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}
	if paymentToken == "" {
		return nil, errors.New("payment token is required")
	}
	if trialDays <= 0 || trialDays > 90 {
		return nil, fmt.Errorf("trial days must be between 1 and 90, got %d", trialDays)
	}

	sub, err := s.subs.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}
	if sub.IsSubscribed() {
		return nil, ErrAlreadySubscribed
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}

	customerID := sub.GatewayCustomerID
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, user.Name, user.Email)
		if err != nil {
			return nil, err
		}
	}

	cardID, err := s.gateway.CreateCard(ctx, customerID, paymentToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	trialEnd := now.Add(time.Duration(trialDays) * 24 * time.Hour)

	sub.Status = models.SubscriptionStatusTrial
	sub.Plan = plan
	sub.StartDate = &now
	sub.EndDate = &trialEnd
	sub.TrialEndDate = &trialEnd
	sub.GatewayCustomerID = customerID
	sub.GatewayCardID = cardID
	// A cancelled record may still point at its dead gateway subscription;
	// clear it so a late webhook for that subscription no longer resolves here.
	sub.GatewaySubscriptionID = ""
	sub.AutoRenew = true
	sub.PromoCode = ""
	sub.FailedAt = nil

	if err := s.subs.UpdateWithVersion(sub, sub.Version); err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.TrialStarted(user.Email, plan, trialDays)
	}

	return &TrialResult{Plan: plan, TrialEndDate: trialEnd}, nil
}

// Cancel ends a trial or active subscription. An active subscription is
// cancelled at the gateway first; a trial has no gateway subscription yet and
// only flips local state, which removes it from the scanner's scope.
func (s *Service) Cancel(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.subs.GetByUserID(userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if !sub.IsCancellable() {
		return nil, ErrNoActiveSubscription
	}

	if sub.Status == models.SubscriptionStatusActive && sub.HasGatewaySubscription() {
		if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusCancelled
	sub.EndDate = &now
	sub.AutoRenew = false

	if err := s.subs.UpdateWithVersion(sub, sub.Version); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelTrial cancels only while the record is still in its trial window. The
// status check and the write run against the same version, so a conversion
// racing the cancel surfaces as a conflict instead of slipping through.
func (s *Service) CancelTrial(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.subs.GetByUserID(userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusTrial {
		return nil, ErrNoActiveSubscription
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusCancelled
	sub.EndDate = &now
	sub.AutoRenew = false

	if err := s.subs.UpdateWithVersion(sub, sub.Version); err != nil {
		return nil, err
	}
	return sub, nil
}

// Status returns the account's subscription record, creating the initial
// free record for accounts that predate it.
func (s *Service) Status(userID uint) (*models.Subscription, error) {
	return s.subs.GetOrCreate(userID)
}

// ApplyPromo grants the benefit behind a promo code, bypassing trial and
// payment entirely. Only lifetime benefits exist today.
func (s *Service) ApplyPromo(ctx context.Context, userID uint, code string) (*models.Subscription, error) {
	canonical, benefit, err := ResolvePromo(code)
	if err != nil {
		return nil, err
	}
	if benefit.Type != BenefitLifetime {
		return nil, ErrInvalidPromoCode
	}

	sub, err := s.subs.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}
	if sub.IsSubscribed() {
		return nil, ErrAlreadySubscribed
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusLifetime
	sub.Plan = ""
	sub.PromoCode = canonical
	sub.StartDate = &now
	sub.EndDate = nil
	sub.TrialEndDate = nil
	sub.AutoRenew = false
	sub.FailedAt = nil

	if err := s.subs.UpdateWithVersion(sub, sub.Version); err != nil {
		return nil, err
	}
	return sub, nil
}
