// internal/store/db.go
package store

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sheetsync-service/internal/config"
	"sheetsync-service/pkg/models"
)

var db *gorm.DB

func InitDB(cfg *config.Config) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBSSLMode,
	)

	var err error
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}

	// Auto-migrate (safe in dev; use migrations in prod)
	if err := Migrate(db); err != nil {
		log.Fatalf("❌ Failed to migrate: %v", err)
	}

	log.Println("✅ Sync DB connected & migrated")
}

// Migrate applies the schema; split out so tests can run it against an
// in-memory database.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.SyncConfig{},
		&models.FieldMapping{},
		&models.RowSnapshot{},
		&models.SyncLogEntry{},
		&models.ConflictRecord{},
		&models.WebhookEvent{},
	)
}

func GetDB() *gorm.DB {
	return db
}
