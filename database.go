package main

import (
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB(cfg *Config) error {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		logger.Error("database connection failed",
			zap.String("host", cfg.DB.Host),
			zap.String("port", cfg.DB.Port),
			zap.String("database", cfg.DB.Name),
			zap.String("user", cfg.DB.User),
			zap.Error(err),
		)
		return err
	}

	DB = db
	return Migrate(db)
}

// Migrate applies the schema. Shared with the test setup, which runs it
// against an in-memory sqlite database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Event{}, &CustomField{}, &Rsvp{}, &CustomFieldResponse{})
}
