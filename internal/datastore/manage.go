package datastore

import (
	"gorm.io/gorm"
)

// performAutoMigration migrates the schema for all models.
func performAutoMigration(db *gorm.DB) error {
	if err := db.AutoMigrate(&ImageRecord{}, &BlockedURL{}); err != nil {
		return dbError(err, "auto-migrate")
	}
	return nil
}
