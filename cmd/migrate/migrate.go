package main

import (
	"log"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
)

// Standalone schema migration, useful for deploy hooks where the API
// container must not own DDL.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	logger.Info("database migration completed")
}
