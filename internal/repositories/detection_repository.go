package repositories

import (
	"time"

	"kulit/internal/models"
)

// DetectionRepository defines the interface for detection history data access.
type DetectionRepository interface {
	Create(record *models.DetectionHistory) error
	GetByID(id uint) (*models.DetectionHistory, error)
	ListByUsername(username string) ([]models.DetectionHistory, error)
	ListOlderThan(cutoff time.Time) ([]models.DetectionHistory, error)
	Delete(id uint) (int64, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}
