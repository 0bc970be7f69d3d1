package repositories

import "kulit/internal/models"

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(user *models.User) error
	GetByUsername(username string) (*models.User, error)
	Exists(username string) (bool, error)
	Verify(username, passwordHash string) (bool, error)
	UpdatePassword(username, passwordHash string) (int64, error)
}
