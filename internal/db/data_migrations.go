package db

import (
	"database/sql"
	"log"
	"strings"

	"collateral-backend/internal/models"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Backfill positions.vault from the global vault_ref",
			Up:          backfillPositionVault,
		},
	}
}

// backfillPositionVault positions opened before the vault column existed custody in the current vault
func backfillPositionVault(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE positions SET vault = (
			SELECT config_value FROM global_configs WHERE config_key = $1
		)
		WHERE (vault IS NULL OR vault = '')
		AND EXISTS (SELECT 1 FROM global_configs WHERE config_key = $1)
	`, models.ConfigKeyVault)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	log.Printf("📋 Backfilled vault on %d positions", n)
	return nil
}

// RunDataMigrations applies every data migration not yet logged in schema_migrations_log
func RunDataMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations_log (
			id SERIAL PRIMARY KEY,
			version VARCHAR(50) NOT NULL UNIQUE,
			description TEXT,
			executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(20) DEFAULT 'completed'
		)
	`); err != nil {
		return err
	}

	for _, migration := range GetDataMigrations() {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		log.Printf("🚀 Running data migration: %s", migration.Description)
		if err := migration.Up(db); err != nil {
			if strings.Contains(err.Error(), "does not exist") {
				log.Printf("⚠️ Data migration %s skipped: %v", migration.Version, err)
				continue
			}
			return err
		}

		if _, err := db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			return err
		}
		log.Printf("✅ Data migration %s completed", migration.Version)
	}
	return nil
}
