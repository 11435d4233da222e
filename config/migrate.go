package config

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/JerryLinyx/feedrefresh/models"
)

// MigrateDB runs database migrations
func MigrateDB(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Feed{},
		&models.Category{},
		&models.Post{},
		&models.Enclosure{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info("Database migration completed successfully")
	return nil
}
