package main

import (
	"fmt"
	"log"

	"soltybet/internal/config"
	"soltybet/internal/database"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	for i, group := range database.Models() {
		for _, model := range group {
			log.Printf("Migrating group %d: %T", i+1, model)
		}
	}

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	fmt.Println("✅ Schema is up to date")
}
