package database

import (
	"fmt"
	"log"

	"soltybet/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Error),
		DisableForeignKeyConstraintWhenMigrating: true,
	})

	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established successfully")
	return nil
}

// Models lists every persisted model, grouped in migration order
func Models() [][]interface{} {
	return [][]interface{}{
		// users first, bets reference them
		{
			&models.User{},
		},
		// match models
		{
			&models.Fighter{},
			&models.Match{},
			&models.Bet{},
		},
		// settlement models
		{
			&models.MatchPayout{},
			&models.PayoutTransfer{},
			&models.ReconciliationFailure{},
		},
	}
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate runs the grouped migrations against db
func Migrate(db *gorm.DB) error {
	var failed int
	for _, group := range Models() {
		for _, model := range group {
			if err := db.AutoMigrate(model); err != nil {
				log.Printf("Warning: migration issue for %T: %v", model, err)
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d models failed to migrate", failed)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
