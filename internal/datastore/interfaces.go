// Package datastore persists detection results and recording processing
// status in a relational store through GORM.
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
)

// Interface is the storage surface used by the persistence layer.
type Interface interface {
	Open() error
	Close() error
	// MarkProcessed flips the sound event detection completion flag on the
	// recording row for one unit. It reports whether a row matched; a
	// missing row is not an error, the caller decides how loudly to warn.
	MarkProcessed(deviceID, date, slot string) (bool, error)
	// SaveDetections stores the thresholded events for one unit, replacing
	// any previous rows for the same unit so reruns stay idempotent.
	SaveDetections(deviceID, date, slot string, detections []Detection) error
	// GetDetections returns the stored events for one device and date,
	// ordered by slot then event start time.
	GetDetections(deviceID, date string) ([]Detection, error)
}

// Recording is one half-hour recording unit and its processing status. Rows
// are created by the ingest side; this service only updates SEDProcessed.
type Recording struct {
	ID           uint   `gorm:"primaryKey"`
	DeviceID     string `gorm:"index:idx_recordings_unit,unique"`
	Date         string `gorm:"index:idx_recordings_unit,unique"` // YYYY-MM-DD
	Slot         string `gorm:"index:idx_recordings_unit,unique"` // HH-MM, half-hour grid
	SEDProcessed bool   `gorm:"column:sed_processed"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Detection is one thresholded sound event for a recording unit.
type Detection struct {
	ID          uint    `gorm:"primaryKey"`
	DeviceID    string  `gorm:"index:idx_detections_unit"`
	Date        string  `gorm:"index:idx_detections_unit"`
	Slot        string  `gorm:"index:idx_detections_unit"`
	Label       string  `gorm:"index"`
	Probability float64 `gorm:"type:real"`
	StartTime   float64 `gorm:"type:real"` // seconds from clip start
	EndTime     float64 `gorm:"type:real"`
	CreatedAt   time.Time
}

// DataStore implements the store operations against an open gorm handle.
// Driver-specific open logic lives in the concrete store types.
type DataStore struct {
	DB *gorm.DB
}

// MarkProcessed updates the completion flag for one recording row.
func (ds *DataStore) MarkProcessed(deviceID, date, slot string) (bool, error) {
	result := ds.DB.Model(&Recording{}).
		Where("device_id = ? AND date = ? AND slot = ?", deviceID, date, slot).
		Update("sed_processed", true)
	if result.Error != nil {
		return false, errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("device_id", deviceID).
			Context("slot", slot).
			Build()
	}
	return result.RowsAffected > 0, nil
}

// SaveDetections replaces the stored events for one unit in a transaction.
func (ds *DataStore) SaveDetections(deviceID, date, slot string, detections []Detection) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ? AND date = ? AND slot = ?", deviceID, date, slot).
			Delete(&Detection{}).Error; err != nil {
			return err
		}
		if len(detections) == 0 {
			return nil
		}
		for i := range detections {
			detections[i].DeviceID = deviceID
			detections[i].Date = date
			detections[i].Slot = slot
		}
		return tx.Create(&detections).Error
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("device_id", deviceID).
			Context("slot", slot).
			Context("detections", len(detections)).
			Build()
	}
	return nil
}

// GetDetections returns all stored events for a device and date.
func (ds *DataStore) GetDetections(deviceID, date string) ([]Detection, error) {
	var detections []Detection
	err := ds.DB.Where("device_id = ? AND date = ?", deviceID, date).
		Order("slot, start_time").
		Find(&detections).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("device_id", deviceID).
			Context("date", date).
			Build()
	}
	return detections, nil
}

// performAutoMigration creates or updates the schema.
func performAutoMigration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Recording{}, &Detection{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	logging.ForService("datastore").Debug("Schema migration complete")
	return nil
}
