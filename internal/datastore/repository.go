// repository.go: CRUD operations shared by all store backends
package datastore

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Save inserts a new image record. A URL uniqueness conflict is not an
// error: the racing insert won and this record is treated as already
// present.
func (ds *DataStore) Save(record *ImageRecord) error {
	if ds.DB == nil {
		return validationError("database connection is not initialized", "db", nil)
	}
	if record.URL == "" {
		return validationError("record URL must not be empty", "url", record.URL)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	result := ds.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if result.Error != nil {
		return dbError(result.Error, "save", "url", record.URL)
	}
	return nil
}

// Get retrieves a record by id.
func (ds *DataStore) Get(id string) (ImageRecord, error) {
	var record ImageRecord
	if err := ds.DB.First(&record, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ImageRecord{}, notFoundError(id)
		}
		return ImageRecord{}, dbError(err, "get", "id", id)
	}
	return record, nil
}

// GetAll returns all records, newest first.
func (ds *DataStore) GetAll() ([]ImageRecord, error) {
	var records []ImageRecord
	if err := ds.DB.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, dbError(err, "get-all")
	}
	return records, nil
}

// GetByURL retrieves a record by its source URL.
func (ds *DataStore) GetByURL(url string) (ImageRecord, error) {
	var record ImageRecord
	if err := ds.DB.First(&record, "url = ?", url).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ImageRecord{}, notFoundError(url)
		}
		return ImageRecord{}, dbError(err, "get-by-url", "url", url)
	}
	return record, nil
}

// URLExists reports whether a URL is present as a live record or tombstone.
func (ds *DataStore) URLExists(url string) (bool, error) {
	var count int64
	if err := ds.DB.Model(&ImageRecord{}).Where("url = ?", url).Count(&count).Error; err != nil {
		return false, dbError(err, "url-exists", "url", url)
	}
	if count > 0 {
		return true, nil
	}
	if err := ds.DB.Model(&BlockedURL{}).Where("url = ?", url).Count(&count).Error; err != nil {
		return false, dbError(err, "url-exists", "url", url)
	}
	return count > 0, nil
}

// CountRecords returns the number of live records.
func (ds *DataStore) CountRecords() (int64, error) {
	var count int64
	if err := ds.DB.Model(&ImageRecord{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count")
	}
	return count, nil
}

// UpdateAnalysis stores inference output and marks the record processed.
// Empty caption or nil tags leave the corresponding field untouched.
func (ds *DataStore) UpdateAnalysis(id, caption string, tags []string) error {
	updates := map[string]any{"vision_processed": true}
	if caption != "" {
		updates["caption"] = caption
	}
	if tags != nil {
		encoded, err := json.Marshal(tags)
		if err != nil {
			return dbError(err, "update-analysis", "id", id)
		}
		updates["tags"] = string(encoded)
	}

	result := ds.DB.Model(&ImageRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, "update-analysis", "id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError(id)
	}
	return nil
}

// UpdateCaption overwrites the free-text caption.
func (ds *DataStore) UpdateCaption(id, caption string) error {
	result := ds.DB.Model(&ImageRecord{}).Where("id = ?", id).Update("caption", caption)
	if result.Error != nil {
		return dbError(result.Error, "update-caption", "id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError(id)
	}
	return nil
}

// UpdateTags overwrites the ordered tag list.
func (ds *DataStore) UpdateTags(id string, tags []string) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return dbError(err, "update-tags", "id", id)
	}
	result := ds.DB.Model(&ImageRecord{}).Where("id = ?", id).Update("tags", string(encoded))
	if result.Error != nil {
		return dbError(result.Error, "update-tags", "id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError(id)
	}
	return nil
}

// Delete removes a record and tombstones its URL so it is never fetched
// again. Record removal and tombstone insert commit atomically.
func (ds *DataStore) Delete(id string) (ImageRecord, error) {
	record, err := ds.Get(id)
	if err != nil {
		return ImageRecord{}, err
	}

	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ImageRecord{}, "id = ?", id).Error; err != nil {
			return err
		}
		tombstone := BlockedURL{URL: record.URL, Source: record.Source, BlockedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tombstone).Error
	})
	if err != nil {
		return ImageRecord{}, dbError(err, "delete", "id", id)
	}
	return record, nil
}

// AllURLs returns every URL known to the system, live and tombstoned.
func (ds *DataStore) AllURLs() ([]string, error) {
	var live []string
	if err := ds.DB.Model(&ImageRecord{}).Pluck("url", &live).Error; err != nil {
		return nil, dbError(err, "all-urls")
	}
	var blocked []string
	if err := ds.DB.Model(&BlockedURL{}).Pluck("url", &blocked).Error; err != nil {
		return nil, dbError(err, "all-urls")
	}
	return append(live, blocked...), nil
}

// AllBlocked returns every tombstone.
func (ds *DataStore) AllBlocked() ([]BlockedURL, error) {
	var blocked []BlockedURL
	if err := ds.DB.Find(&blocked).Error; err != nil {
		return nil, dbError(err, "all-blocked")
	}
	return blocked, nil
}
