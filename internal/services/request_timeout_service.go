package services

import (
	"context"
	"sync"
	"time"

	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// RequestTimeoutService flags risk requests the oracle left unanswered past the timeout window.
// Each newly timed-out request counts as one circuit breaker failure.
type RequestTimeoutService struct {
	txm           *TxManager
	breaker       *CircuitBreaker
	timeoutWindow time.Duration
	checkInterval time.Duration
	now           func() time.Time
	log           *logrus.Entry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewRequestTimeoutService creates a new RequestTimeoutService
func NewRequestTimeoutService(txm *TxManager, breaker *CircuitBreaker, timeoutWindow, checkInterval time.Duration) *RequestTimeoutService {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &RequestTimeoutService{
		txm:           txm,
		breaker:       breaker,
		timeoutWindow: timeoutWindow,
		checkInterval: checkInterval,
		now:           time.Now,
		log:           logrus.WithField("component", "request_timeout"),
	}
}

// SetClock overrides the sweeper clock
func (s *RequestTimeoutService) SetClock(now func() time.Time) {
	s.now = now
}

// Start begins the timeout check loop
func (s *RequestTimeoutService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.log.Infof("🚀 Starting RequestTimeoutService (check interval: %v, timeout: %v)", s.checkInterval, s.timeoutWindow)
	go s.timeoutCheckLoop(s.stopCh)
}

// Stop gracefully stops the timeout check loop
func (s *RequestTimeoutService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.log.Info("🛑 RequestTimeoutService stopped")
}

func (s *RequestTimeoutService) timeoutCheckLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-stopCh:
			return
		}
	}
}

// Sweep marks every open request older than the timeout window and returns how many it marked
func (s *RequestTimeoutService) Sweep(ctx context.Context) int {
	open, err := s.txm.Repos().Requests.FindOpen(ctx)
	if err != nil {
		s.log.WithError(err).Error("❌ Failed to query open risk requests")
		return 0
	}

	now := s.now()
	count := 0
	for _, request := range open {
		elapsed := now.Sub(request.SubmittedAt)
		if elapsed <= s.timeoutWindow {
			continue
		}

		marked := false
		err := s.txm.Do(ctx, func(tx *Tx) error {
			ok, err := tx.Repos.Requests.MarkTimedOut(ctx, request.ID)
			if err != nil || !ok {
				return err
			}
			marked = true
			return tx.Record(ctx, "request.timed_out", request.User, requestSubject(request.ID), map[string]interface{}{
				"request_id": request.ID,
				"elapsed":    elapsed.String(),
			})
		})
		if err != nil {
			s.log.WithError(err).WithField("request_id", request.ID).Error("❌ Failed to mark request timed out")
			continue
		}
		if !marked {
			continue
		}

		count++
		metrics.RiskRequestsTimedOut.Inc()
		if countsAgainstBreaker(request) {
			s.breaker.RecordFailure()
		}
		s.log.WithFields(logrus.Fields{
			"request_id": request.ID,
			"elapsed":    elapsed.String(),
		}).Warn("⏰ Risk request timed out")
	}
	return count
}

// countsAgainstBreaker reports whether an unanswered request is a new breaker failure.
// Test requests never touch the breaker; a failed dispatch was counted when it failed.
func countsAgainstBreaker(request *models.RiskRequest) bool {
	return request.Engine != models.EngineTestTimeout && !request.DispatchFailed
}
