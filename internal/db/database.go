package db

import (
	"fmt"
	"log"
	"time"

	"collateral-backend/internal/config"
	"collateral-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens config.AppConfig's database, migrates the schema and sets DB
func InitDB() {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	conn, err := Open(config.AppConfig.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("✅ Database connected successfully")

	if err := Migrate(conn); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	if config.AppConfig.Database.Driver == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			log.Fatalf("Failed to get database handle: %v", err)
		}
		if err := RunDataMigrations(sqlDB); err != nil {
			log.Fatalf("Data migrations failed: %v", err)
		}
	}

	DB = conn
	log.Println("✅ Database schema migrated successfully")
}

// Open connects with the configured driver
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}

	switch cfg.Driver {
	case "", "postgres":
		gormCfg.PrepareStmt = true
		conn, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		return conn, nil
	case "sqlite":
		conn, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		// one writer; shared in-memory databases vanish with their last connection
		sqlDB.SetMaxOpenConns(1)
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate creates or updates every table the service owns
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.Position{},
		&models.RiskRequest{},
		&models.AutomationUser{},
		&models.BridgeRoute{},
		&models.BridgeMessage{},
		&models.TokenBalance{},
		&models.CustodyBalance{},
		&models.GlobalConfig{},
		&models.AuditEvent{},
	)
}
