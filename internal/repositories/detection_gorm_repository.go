package repositories

import (
	"errors"
	"fmt"
	"time"

	"kulit/internal/models"

	"gorm.io/gorm"
)

// GORMDetectionRepository is a GORM implementation of DetectionRepository.
type GORMDetectionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGORMDetectionRepository creates a new instance of GORMDetectionRepository.
func NewGORMDetectionRepository(db *gorm.DB, opts ...Option) *GORMDetectionRepository {
	o := applyOptions(opts)
	return &GORMDetectionRepository{
		db:  db,
		now: o.now,
	}
}

// Create stores a detection record, stamping it with the current time.
func (r *GORMDetectionRepository) Create(record *models.DetectionHistory) error {
	if record.DetectedAt.IsZero() {
		record.DetectedAt = models.NewTimestamp(r.now())
	}
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to create detection history: %w", err)
	}
	return nil
}

// GetByID retrieves a single detection record.
func (r *GORMDetectionRepository) GetByID(id uint) (*models.DetectionHistory, error) {
	var record models.DetectionHistory
	if err := r.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("detection %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get detection %d: %w", id, err)
	}
	return &record, nil
}

// ListByUsername returns the user's records, most recent first.
func (r *GORMDetectionRepository) ListByUsername(username string) ([]models.DetectionHistory, error) {
	records := []models.DetectionHistory{}
	err := r.db.Where("username = ?", username).
		Order("tanggal_deteksi DESC").
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list detections for %s: %w", username, err)
	}
	return records, nil
}

// ListOlderThan returns every record stamped strictly before cutoff.
func (r *GORMDetectionRepository) ListOlderThan(cutoff time.Time) ([]models.DetectionHistory, error) {
	var records []models.DetectionHistory
	if err := r.db.Where("tanggal_deteksi < ?", models.NewTimestamp(cutoff)).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list detections older than %s: %w", cutoff, err)
	}
	return records, nil
}

// Delete removes a record by id and returns the number of rows removed.
func (r *GORMDetectionRepository) Delete(id uint) (int64, error) {
	res := r.db.Where("id = ?", id).Delete(&models.DetectionHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete detection %d: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteOlderThan removes every record stamped strictly before cutoff in one statement.
func (r *GORMDetectionRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Where("tanggal_deteksi < ?", models.NewTimestamp(cutoff)).Delete(&models.DetectionHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete detections older than %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}
