package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/config"
	"collateral-backend/internal/events"
	"collateral-backend/internal/handlers"
	"collateral-backend/internal/metrics"
	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"
	"collateral-backend/internal/router"
	"collateral-backend/internal/services"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ServiceContainer wires repositories, services and background workers
type ServiceContainer struct {
	Config *config.Config
	DB     *gorm.DB

	// Repositories
	Repos repository.Repositories

	// Core Services
	TxManager   *services.TxManager
	Access      *services.AccessControl
	Breaker     *services.CircuitBreaker
	Prices      *services.PriceService
	Ledger      *services.PositionLedger
	Coordinator *services.RiskRequestCoordinator
	Deposits    *services.DepositService
	Automation  *services.EmergencyWithdrawalScheduler
	Bridge      *services.BridgeService
	Admin       *services.AdminService

	// Background workers
	TimeoutService    *services.RequestTimeoutService
	SchedulerService  *services.SchedulerService
	MonitoringService *services.MonitoringService
	PriceUpdater      *services.PriceUpdateService // nil without a price feed

	// Event & push
	NATSClient           *clients.NATSClient
	Consumer             *events.Consumer
	WebSocketPushService *services.WebSocketPushService

	RedisClient *redis.Client

	startOnce sync.Once
}

// NewServiceContainer builds every component. External connections that fail are logged and
// left out; the database is the only hard dependency.
func NewServiceContainer(ctx context.Context, cfg *config.Config, db *gorm.DB) (*ServiceContainer, error) {
	log.Println("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		Config: cfg,
		DB:     db,
		Repos:  repository.NewRepositories(db),
	}

	c.initEventServices()

	if err := c.initCoreServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize core services: %w", err)
	}
	if err := c.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap persisted settings: %w", err)
	}

	log.Println("✅ Service Container initialized successfully")
	return c, nil
}

// initEventServices connects NATS and Redis when configured
func (c *ServiceContainer) initEventServices() {
	if c.Config.NATS.URL != "" {
		natsClient, err := clients.NewNATSClient(c.Config.NATS)
		if err != nil {
			log.Printf("⚠️ NATS unavailable at %s: %v", c.Config.NATS.URL, err)
			log.Printf("   → bridge envelopes stay pending_relay until NATS is reachable")
		} else {
			c.NATSClient = natsClient
		}
	} else {
		log.Println("⚠️ NATS not configured, event fan-out and bridge transport disabled")
	}

	if c.Config.Redis.Host != "" {
		addr := fmt.Sprintf("%s:%d", c.Config.Redis.Host, c.Config.Redis.Port)
		rdb, err := clients.NewRedisClient(context.Background(), addr, c.Config.Redis.Password, c.Config.Redis.DB, config.Seconds(c.Config.Redis.Timeout))
		if err != nil {
			log.Printf("⚠️ Redis unavailable at %s: %v", addr, err)
		} else {
			c.RedisClient = rdb
		}
	}
}

func (c *ServiceContainer) initCoreServices(ctx context.Context) error {
	cfg := c.Config
	log.Println("🔧 Initializing Core Services...")

	c.TxManager = services.NewTxManager(c.DB, c.Repos)
	c.WebSocketPushService = services.NewWebSocketPushService()
	c.TxManager.AddSink(c.WebSocketPushService)
	if c.NATSClient != nil {
		c.TxManager.AddSink(events.NewPublisher(c.NATSClient))
	}

	c.Access = services.NewAccessControl(c.TxManager, cfg.Admin.Operators)

	c.Breaker = services.NewCircuitBreaker(cfg.Coordinator.BreakerThreshold, config.Seconds(cfg.Coordinator.BreakerCooldown))
	c.Breaker.OnStateChange(func(from, to services.BreakerState) {
		log.Printf("🔌 Oracle circuit breaker %s -> %s", from, to)
		if to == services.BreakerOpen {
			metrics.CircuitBreakerOpen.Set(1)
		} else {
			metrics.CircuitBreakerOpen.Set(0)
		}
	})

	var cache services.PriceStore
	if c.RedisClient != nil {
		cache = clients.NewPriceCache(c.RedisClient, config.Seconds(cfg.Prices.CacheTTL))
	}
	var feed services.PriceFeed
	if cfg.Prices.FeedURL != "" {
		feed = clients.NewPriceFeedClient(cfg.Prices.FeedURL)
	}
	prices, err := services.NewPriceService(cfg.Prices.Static, cache, feed)
	if err != nil {
		return err
	}
	c.Prices = prices

	c.Ledger = services.NewPositionLedger(c.TxManager, c.Prices)

	var oracle services.RiskOracle
	if cfg.Oracle.BaseURL != "" {
		oracle = clients.NewRiskOracleClient(cfg.Oracle.BaseURL, config.Seconds(cfg.Oracle.Timeout))
	} else {
		log.Println("⚠️ Risk oracle base_url not set, requests resolve only through callbacks or manual processing")
	}
	fixedFee, err := decimal.NewFromString(cfg.Oracle.FixedFee)
	if err != nil {
		return fmt.Errorf("oracle.fixed_fee: %w", err)
	}
	c.Coordinator = services.NewRiskRequestCoordinator(c.TxManager, c.Ledger, oracle, c.Breaker, c.Access, services.CoordinatorConfig{
		TimeoutWindow:       config.Seconds(cfg.Coordinator.TimeoutWindow),
		OwnerManualDelay:    config.Seconds(cfg.Coordinator.OwnerManualDelay),
		MinRatio:            cfg.Coordinator.MinRatio,
		MaxRatio:            cfg.Coordinator.MaxRatio,
		ConfidenceThreshold: cfg.Oracle.ConfidenceThreshold,
		FixedFee:            fixedFee,
		UseQuotedFee:        cfg.Oracle.UseQuotedFee,
		CallbackURL:         cfg.Oracle.CallbackURL,
		FeeAsset:            cfg.Chain.NativeAsset,
		DispatchTimeout:     config.Seconds(cfg.Oracle.Timeout),
	})

	c.Deposits = services.NewDepositService(c.TxManager, c.Ledger, c.Coordinator)

	c.Automation = services.NewEmergencyWithdrawalScheduler(c.TxManager, c.Ledger, services.SchedulerConfig{
		EmergencyDelay: config.Seconds(cfg.Automation.EmergencyDelay),
		MaxBatch:       cfg.Automation.MaxBatch,
		DefaultEnabled: cfg.Automation.Enabled,
	})

	fees, err := bridgeFees(cfg.Bridge.Fees)
	if err != nil {
		return err
	}
	var transport services.BridgeTransport
	if c.NATSClient != nil {
		transport = c.NATSClient
	}
	c.Bridge = services.NewBridgeService(c.TxManager, c.Access, transport, services.BridgeConfig{
		LocalDomain:  cfg.Chain.Domain,
		LocalAddress: cfg.Bridge.LocalAddress,
		NativeAsset:  cfg.Chain.NativeAsset,
		Fees:         fees,
	})

	c.Admin = services.NewAdminService(c.TxManager, c.Access, c.Breaker, cfg.Automation.Enabled)

	c.TimeoutService = services.NewRequestTimeoutService(c.TxManager, c.Breaker,
		config.Seconds(cfg.Coordinator.TimeoutWindow), config.Seconds(cfg.Coordinator.SweepInterval))
	c.SchedulerService = services.NewSchedulerService(c.Automation, c.Bridge,
		config.Seconds(cfg.Automation.Interval), config.Seconds(cfg.Bridge.RelayInterval))
	c.MonitoringService = services.NewMonitoringService(c.DB, c.NATSClient, c.Breaker)
	if feed != nil {
		c.PriceUpdater = services.NewPriceUpdateService(c.TxManager, c.Prices, config.Seconds(cfg.Prices.RefreshInterval))
	}

	if c.NATSClient != nil {
		c.Consumer = events.NewConsumer(c.NATSClient, c.Coordinator, c.Bridge)
	}

	log.Println("✅ Core Services initialized")
	return nil
}

// bootstrap seeds owner, vault, router and fee token from configuration on first start
func (c *ServiceContainer) bootstrap(ctx context.Context) error {
	if err := c.Access.Bootstrap(ctx, c.Config.Admin.Owner); err != nil {
		return err
	}
	if err := c.Admin.Bootstrap(ctx, c.Config.Chain.Vault); err != nil {
		return err
	}
	return c.Bridge.Bootstrap(ctx, c.Config.Bridge.Router, c.Config.Bridge.FeeToken)
}

// Start launches background workers and NATS consumers
func (c *ServiceContainer) Start() error {
	var err error
	c.startOnce.Do(func() {
		c.TimeoutService.Start()
		c.SchedulerService.Start()
		c.MonitoringService.Start()
		if c.PriceUpdater != nil {
			c.PriceUpdater.Start()
		}
		if c.Consumer != nil {
			if err = c.Consumer.Start(); err != nil {
				err = fmt.Errorf("failed to start NATS consumer: %w", err)
			}
		}
	})
	return err
}

// Cleanup stops workers and closes connections
func (c *ServiceContainer) Cleanup() {
	log.Println("🧹 Cleaning up Service Container...")

	if c.Consumer != nil {
		c.Consumer.Stop()
	}
	c.SchedulerService.Stop()
	c.TimeoutService.Stop()
	c.MonitoringService.Stop()
	if c.PriceUpdater != nil {
		c.PriceUpdater.Stop()
	}

	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.RedisClient != nil {
		c.RedisClient.Close()
	}

	log.Println("✅ Service Container cleaned up")
}

// Handlers builds the HTTP handler set for the router
func (c *ServiceContainer) Handlers() router.Handlers {
	cfg := c.Config
	auth := handlers.NewAuthHandler(cfg.Auth.JWTSecret, config.Seconds(cfg.Auth.TokenTTL), config.Seconds(cfg.Auth.SignatureSkew))
	return router.Handlers{
		Auth:       auth,
		AdminAuth:  handlers.NewAdminAuthHandler(cfg.Admin),
		Positions:  handlers.NewPositionHandler(c.Deposits, c.Ledger, c.Coordinator),
		Oracle:     handlers.NewOracleHandler(c.Coordinator),
		Automation: handlers.NewAutomationHandler(c.Automation),
		Bridge:     handlers.NewBridgeHandler(c.Bridge),
		Admin:      handlers.NewAdminHandler(c.Admin, c.Access, c.Bridge, c.Coordinator, c.SchedulerService),
		WebSocket:  handlers.NewWebSocketHandler(c.WebSocketPushService, auth),
	}
}

func bridgeFees(raw map[string]config.FeeSchedule) (map[models.FeeCurrency]services.FeeSchedule, error) {
	fees := make(map[models.FeeCurrency]services.FeeSchedule, len(raw))
	for currency, schedule := range raw {
		base, err := parseFee(schedule.Base)
		if err != nil {
			return nil, fmt.Errorf("bridge.fees.%s.base: %w", currency, err)
		}
		perByte, err := parseFee(schedule.PerByte)
		if err != nil {
			return nil, fmt.Errorf("bridge.fees.%s.perByte: %w", currency, err)
		}
		fees[models.FeeCurrency(strings.ToUpper(currency))] = services.FeeSchedule{Base: base, PerByte: perByte}
	}
	return fees, nil
}

func parseFee(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative fee %s", s)
	}
	return d, nil
}

// ShutdownTimeout bounds graceful HTTP shutdown
const ShutdownTimeout = 10 * time.Second
