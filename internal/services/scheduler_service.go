// Scheduler Service
// Drives the emergency withdrawal automation and the bridge relay loop
package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SchedulerService manages periodic background tasks
type SchedulerService struct {
	automation      *EmergencyWithdrawalScheduler
	bridge          *BridgeService
	automationEvery time.Duration
	relayEvery      time.Duration
	stopChan        chan struct{}
	wg              sync.WaitGroup
	log             *logrus.Entry
}

// NewSchedulerService creates a new SchedulerService instance. A nil task or a zero interval disables that loop.
func NewSchedulerService(automation *EmergencyWithdrawalScheduler, bridge *BridgeService, automationEvery, relayEvery time.Duration) *SchedulerService {
	return &SchedulerService{
		automation:      automation,
		bridge:          bridge,
		automationEvery: automationEvery,
		relayEvery:      relayEvery,
		stopChan:        make(chan struct{}),
		log:             logrus.WithField("component", "scheduler"),
	}
}

// Start begins all scheduled tasks
func (s *SchedulerService) Start() {
	s.log.Info("🚀 Scheduler service starting...")

	if s.automation != nil && s.automationEvery > 0 {
		s.log.Infof("📅 Automation interval: %v", s.automationEvery)
		s.wg.Add(1)
		go s.loop("automation", s.automationEvery, s.runAutomation)
	} else {
		s.log.Warn("⚠️  Automation loop disabled, skipping")
	}

	if s.bridge != nil && s.relayEvery > 0 {
		s.log.Infof("📅 Bridge relay interval: %v", s.relayEvery)
		s.wg.Add(1)
		go s.loop("bridge_relay", s.relayEvery, s.runRelay)
	}

	s.log.Info("✅ Scheduler service started")
}

// Stop gracefully stops all scheduled tasks
func (s *SchedulerService) Stop() {
	s.log.Info("🛑 Stopping scheduler service...")
	close(s.stopChan)
	s.wg.Wait()
	s.log.Info("✅ Scheduler service stopped")
}

func (s *SchedulerService) loop(name string, every time.Duration, task func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			task(ctx)
			cancel()
		case <-s.stopChan:
			s.log.WithField("task", name).Info("🛑 Scheduled task stopped")
			return
		}
	}
}

func (s *SchedulerService) runAutomation(ctx context.Context) {
	report, err := s.automation.RunCycle(ctx)
	if err != nil {
		s.log.WithError(err).Error("❌ Automation cycle failed")
		return
	}
	if report == nil || report.Attempted == 0 {
		return
	}
	s.log.WithFields(logrus.Fields{
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"cursor":    report.Cursor,
	}).Info("⏰ Automation cycle applied")
}

func (s *SchedulerService) runRelay(ctx context.Context) {
	n, err := s.bridge.RelayPending(ctx)
	if err != nil {
		s.log.WithError(err).Error("❌ Bridge relay failed")
		return
	}
	if n > 0 {
		s.log.WithField("relayed", n).Info("🌐 Relayed pending bridge messages")
	}
}

// RunAutomationNow runs one automation cycle outside the ticker
func (s *SchedulerService) RunAutomationNow(ctx context.Context) (*ApplyReport, error) {
	return s.automation.RunCycle(ctx)
}
