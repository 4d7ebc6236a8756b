package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"collateral-backend/internal/app"
	"collateral-backend/internal/config"
	"collateral-backend/internal/db"
)

// Runs one emergency-withdrawal automation cycle against the configured database and exits.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	fmt.Println("🤖 Running one automation cycle...")

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db.InitDB()

	ctx := context.Background()
	container, err := app.NewServiceContainer(ctx, config.AppConfig, db.DB)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer container.Cleanup()

	report, err := container.SchedulerService.RunAutomationNow(ctx)
	if err != nil {
		log.Fatalf("❌ Automation cycle failed: %v", err)
	}
	if report == nil {
		fmt.Println("✅ Nothing to do")
		return
	}
	fmt.Printf("✅ Cycle done: attempted=%d succeeded=%d cursor %d -> %d\n",
		report.Attempted, report.Succeeded, report.PreviousCursor, report.Cursor)
	for _, f := range report.Failures {
		fmt.Printf("   ❌ %+v\n", f)
	}
}
