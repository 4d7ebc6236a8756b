package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"

	"collateral-backend/internal/config"

	_ "github.com/lib/pq"
)

var requiredTables = []string{
	"positions",
	"risk_requests",
	"automation_users",
	"bridge_routes",
	"bridge_messages",
	"token_balances",
	"custody_balances",
	"global_configs",
	"audit_events",
}

// Checks the configured postgres database is reachable and carries the migrated schema.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and schema...")
	fmt.Println(strings.Repeat("=", 60))

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if config.AppConfig.Database.Driver != "postgres" {
		log.Fatalf("verify-db-connection only supports postgres, got driver %q", config.AppConfig.Database.Driver)
	}

	sqlDB, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	missing := 0
	for _, table := range requiredTables {
		var exists bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to inspect table %s: %v", table, err)
		}
		if !exists {
			fmt.Printf("❌ %s missing\n", table)
			missing++
			continue
		}
		var rows int64
		if err := sqlDB.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&rows); err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}
		fmt.Printf("✅ %s (%d rows)\n", table, rows)
	}

	var applied sql.NullInt64
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations_log").Scan(&applied); err == nil && applied.Valid {
		fmt.Printf("📋 Data migrations applied: %d\n", applied.Int64)
	}

	if missing > 0 {
		log.Fatalf("❌ %d tables missing, start the server once to run migrations", missing)
	}
	fmt.Println("✅ Schema looks good")
}
