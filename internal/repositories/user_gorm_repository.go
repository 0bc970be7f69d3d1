package repositories

import (
	"errors"
	"fmt"
	"time"

	"kulit/internal/models"

	"gorm.io/gorm"
)

// GORMUserRepository is a GORM implementation of UserRepository.
type GORMUserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGORMUserRepository creates a new instance of GORMUserRepository.
func NewGORMUserRepository(db *gorm.DB, opts ...Option) *GORMUserRepository {
	o := applyOptions(opts)
	return &GORMUserRepository{
		db:  db,
		now: o.now,
	}
}

// Create inserts a new user. The uniqueness of username is enforced by the
// table constraint, so two racing inserts cannot both succeed.
func (r *GORMUserRepository) Create(user *models.User) error {
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = models.NewTimestamp(r.now())
	}
	if err := r.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("user %s: %w", user.Username, ErrDuplicateUsername)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByUsername retrieves a user by their username from the database.
func (r *GORMUserRepository) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user with username %s: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by username %s: %w", username, err)
	}
	return &user, nil
}

// Exists reports whether a user with the given username is registered.
func (r *GORMUserRepository) Exists(username string) (bool, error) {
	var count int64
	if err := r.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", username, err)
	}
	return count > 0, nil
}

// Verify reports whether a row matches both username and password digest.
func (r *GORMUserRepository) Verify(username, passwordHash string) (bool, error) {
	var count int64
	err := r.db.Model(&models.User{}).
		Where("username = ? AND password = ?", username, passwordHash).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to verify user %s: %w", username, err)
	}
	return count > 0, nil
}

// UpdatePassword overwrites the stored digest and returns the number of rows changed.
func (r *GORMUserRepository) UpdatePassword(username, passwordHash string) (int64, error) {
	res := r.db.Model(&models.User{}).Where("username = ?", username).Update("password", passwordHash)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update password for %s: %w", username, res.Error)
	}
	return res.RowsAffected, nil
}
