package services

import (
	"sync"
	"time"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MonitoringService keeps the connection gauges in Prometheus current
type MonitoringService struct {
	db       *gorm.DB
	nats     *clients.NATSClient
	breaker  *CircuitBreaker
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// NewMonitoringService creates the monitor. nats and breaker may be nil.
func NewMonitoringService(db *gorm.DB, nats *clients.NATSClient, breaker *CircuitBreaker) *MonitoringService {
	return &MonitoringService{
		db:       db,
		nats:     nats,
		breaker:  breaker,
		interval: 10 * time.Second,
		stopCh:   make(chan struct{}),
		log:      logrus.WithField("component", "monitoring"),
	}
}

// Start starts the monitor loop
func (m *MonitoringService) Start() {
	m.log.Info("🚀 Starting monitoring service...")
	m.wg.Add(1)
	go m.monitor()
}

// Stop stops the monitor loop
func (m *MonitoringService) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info("✅ Monitoring service stopped")
}

func (m *MonitoringService) monitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *MonitoringService) collect() {
	m.updateDatabaseMetrics()

	if m.nats != nil {
		if m.nats.IsConnected() {
			metrics.NATSConnectionStatus.Set(1)
		} else {
			metrics.NATSConnectionStatus.Set(0)
		}
	}

	if m.breaker != nil {
		state, _ := m.breaker.State()
		if state == BreakerOpen {
			metrics.CircuitBreakerOpen.Set(1)
		} else {
			metrics.CircuitBreakerOpen.Set(0)
		}
	}
}

func (m *MonitoringService) updateDatabaseMetrics() {
	sqlDB, err := m.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}

	stats := sqlDB.Stats()
	metrics.DBConnectionPoolSize.Set(float64(stats.MaxOpenConnections))
	metrics.DBConnectionActive.Set(float64(stats.OpenConnections - stats.Idle))
	metrics.DBConnectionIdle.Set(float64(stats.Idle))

	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
	} else {
		metrics.DBConnectionStatus.Set(1)
	}
}
