package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"collateral-backend/internal/config"
	"collateral-backend/internal/handlers"
)

// Issues a user JWT signed with the configured secret, or prints a bcrypt hash for admin.password_hash.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	address := flag.String("address", "0x742d35Cc6634C0532925a3b0F26750C66d78EB66", "user address the token is issued for")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash of this admin password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := handlers.HashAdminPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.AppConfig

	auth := handlers.NewAuthHandler(cfg.Auth.JWTSecret, config.Seconds(cfg.Auth.TokenTTL), config.Seconds(cfg.Auth.SignatureSkew))
	token, err := auth.IssueToken(*address)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  User Address: %s\n", *address)
	fmt.Printf("  Expires: %s\n", time.Now().Add(config.Seconds(cfg.Auth.TokenTTL)).Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:%d/api/v1/positions\n", token, cfg.Server.Port)
}
