package services

import (
	"context"
	"sync"
	"time"

	"collateral-backend/internal/metrics"

	"github.com/sirupsen/logrus"
)

// PriceUpdateService periodically refreshes feed prices for every asset held in custody,
// so valuations on deposit hit a warm cache
type PriceUpdateService struct {
	txm      *TxManager
	prices   *PriceService
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPriceUpdateService creates a new price update service
func NewPriceUpdateService(txm *TxManager, prices *PriceService, interval time.Duration) *PriceUpdateService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PriceUpdateService{
		txm:      txm,
		prices:   prices,
		interval: interval,
		log:      logrus.WithField("component", "price_update"),
	}
}

// Start begins the price update loop
func (s *PriceUpdateService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.done)
	s.log.Infof("✅ Price Update Service started (%v interval)", s.interval)
}

// Stop stops the price update loop
func (s *PriceUpdateService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("🛑 Price Update Service stopped")
}

func (s *PriceUpdateService) loop(done chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.UpdatePrices(context.Background())
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.UpdatePrices(context.Background())
		}
	}
}

// UpdatePrices refreshes every held asset and returns how many were updated
func (s *PriceUpdateService) UpdatePrices(ctx context.Context) int {
	assets, err := s.txm.Repos().Custody.HeldAssets(ctx)
	if err != nil {
		s.log.WithError(err).Error("❌ Error fetching held assets")
		return 0
	}

	updated := 0
	for _, asset := range assets {
		price, refreshed, err := s.prices.Refresh(ctx, asset)
		if err != nil {
			metrics.PriceRefreshFailures.Inc()
			s.log.WithError(err).WithField("asset", asset).Warn("⚠️ Price refresh failed")
			continue
		}
		if !refreshed {
			continue
		}
		f, _ := price.Float64()
		metrics.CollateralPriceUSD.WithLabelValues(asset).Set(f)
		updated++
	}
	if updated > 0 {
		s.log.Debugf("📈 Refreshed %d collateral prices", updated)
	}
	return updated
}
