package subscription

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/speakloop/speakloop/app/models"
	"github.com/speakloop/speakloop/app/repository"
	"github.com/speakloop/speakloop/internal/pkg/cache"
	"github.com/speakloop/speakloop/internal/pkg/env"
)

const (
	scannerLeaseKey = "subscription:scanner:lease"
	scannerLeaseTTL = 10 * time.Minute
)

// Stats summarizes one scanner pass.
type Stats struct {
	Scanned   int
	Converted int
	Failed    int
	CleanedUp int
}

// Scanner periodically sweeps expired trials and hands each one to the
// Converter. A sweep is skipped while a previous one is still running, and a
// Redis lease keeps concurrent deployments from sweeping simultaneously.
type Scanner struct {
	subs      repository.SubscriptionRepository
	converter *Converter
	now       func() time.Time

	interval     time.Duration
	workers      int
	holderID     string
	leaseEnabled bool

	running  int32
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScanner creates a scanner over the given repositories and converter.
func NewScanner(repos *repository.Repositories, converter *Converter) *Scanner {
	interval := 5 * time.Minute
	if raw := env.GetEnv("SCAN_INTERVAL_MINUTES", ""); raw != "" {
		if mins, err := strconv.Atoi(raw); err == nil && mins > 0 {
			interval = time.Duration(mins) * time.Minute
		}
	}
	workers := 4
	if raw := env.GetEnv("SCAN_WORKERS", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			workers = n
		}
	}
	return &Scanner{
		subs:         repos.Subscription,
		converter:    converter,
		now:          time.Now,
		interval:     interval,
		workers:      workers,
		holderID:     uuid.NewString(),
		leaseEnabled: env.GetEnv("SCANNER_LEASE_ENABLED", "true") == "true",
		stopChan:     make(chan struct{}),
	}
}

// Start launches the periodic sweep loop. Outside live mode the scanner stays
// dormant so development setups never bill anyone.
func (s *Scanner) Start() {
	if !env.IsLive() {
		log.Info("[Scanner] not in live mode, scanner disabled")
		return
	}
	log.Infof("[Scanner] starting, interval=%s workers=%d", s.interval, s.workers)
	go s.loop()
}

// Stop terminates the sweep loop. Safe to call more than once.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Scanner) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			log.Info("[Scanner] stopped")
			return
		}
	}
}

// RunNow triggers an immediate sweep, used by operational tooling.
func (s *Scanner) RunNow() Stats {
	return s.RunOnce(context.Background())
}

// RunOnce performs a single sweep. Overlapping calls return immediately: the
// sweep is not re-entrant, and a sweep holding the cross-instance lease is
// the only one doing work.
func (s *Scanner) RunOnce(ctx context.Context) Stats {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		log.Debug("[Scanner] sweep already in progress, skipping")
		return Stats{}
	}
	defer atomic.StoreInt32(&s.running, 0)

	if s.leaseEnabled {
		acquired, err := cache.AcquireLease(scannerLeaseKey, s.holderID, scannerLeaseTTL)
		if err != nil {
			log.Errorf("[Scanner] lease acquisition failed: %v", err)
			return Stats{}
		}
		if !acquired {
			log.Debug("[Scanner] lease held by another instance, skipping")
			return Stats{}
		}
		defer func() {
			if err := cache.ReleaseLease(scannerLeaseKey, s.holderID); err != nil {
				log.Warnf("[Scanner] lease release failed: %v", err)
			}
		}()
	}

	return s.sweep(ctx)
}

func (s *Scanner) sweep(ctx context.Context) Stats {
	now := s.now()
	due, err := s.subs.FindDueTrials(now)
	if err != nil {
		log.Errorf("[Scanner] query for due trials failed: %v", err)
		return Stats{}
	}

	stats := Stats{Scanned: len(due)}
	if len(due) > 0 {
		log.Infof("[Scanner] found %d expired trials", len(due))

		var mu sync.Mutex
		var wg sync.WaitGroup
		sem := make(chan struct{}, s.workers)

		for i := range due {
			wg.Add(1)
			sem <- struct{}{}
			go func(sub *models.Subscription) {
				defer wg.Done()
				defer func() { <-sem }()

				err := s.converter.Convert(ctx, sub)
				mu.Lock()
				if err != nil {
					stats.Failed++
				} else {
					stats.Converted++
				}
				mu.Unlock()
			}(&due[i])
		}
		wg.Wait()
	}

	stats.CleanedUp = s.cleanupStaleTrials(now)

	if stats.Scanned > 0 || stats.CleanedUp > 0 {
		log.Infof("[Scanner] sweep done: scanned=%d converted=%d failed=%d cleaned=%d",
			stats.Scanned, stats.Converted, stats.Failed, stats.CleanedUp)
	}
	return stats
}

// cleanupStaleTrials moves expired trials whose auto-renew was switched off to
// cancelled. Disabled by default: a trial with auto-renew off normally goes
// through the cancellation path, which sets the final state itself.
func (s *Scanner) cleanupStaleTrials(now time.Time) int {
	if env.GetEnv("TRIAL_CLEANUP_ENABLED", "false") != "true" {
		return 0
	}

	stale, err := s.subs.FindStaleTrials(now)
	if err != nil {
		log.Errorf("[Scanner] query for stale trials failed: %v", err)
		return 0
	}

	cleaned := 0
	for i := range stale {
		sub := stale[i]
		end := now
		sub.Status = models.SubscriptionStatusCancelled
		sub.EndDate = &end
		if err := s.subs.UpdateWithVersion(&sub, sub.Version); err != nil {
			log.Warnf("[Scanner] stale trial cleanup for user=%d failed: %v", sub.UserID, err)
			continue
		}
		cleaned++
	}
	return cleaned
}
