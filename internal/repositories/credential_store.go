package repositories

import (
	"errors"
	"log"
	"os"
	"time"

	"kulit/internal/models"

	"github.com/spf13/afero"
	"gorm.io/gorm"
)

// CredentialStore owns the durable state of users and detection history.
// Every operation runs a single auto-committing statement (or a lookup
// followed by one) and reports failure through its return value: a storage
// error and a "not found" look the same to the caller. The cause is logged.
type CredentialStore struct {
	db         *gorm.DB
	users      UserRepository
	detections DetectionRepository
	fs         afero.Fs
	now        func() time.Time
}

// NewCredentialStore creates a CredentialStore backed by GORM repositories.
// fs is the filesystem that holds the retained detection images.
func NewCredentialStore(db *gorm.DB, fs afero.Fs, opts ...Option) *CredentialStore {
	o := applyOptions(opts)
	return &CredentialStore{
		db:         db,
		users:      NewGORMUserRepository(db, opts...),
		detections: NewGORMDetectionRepository(db, opts...),
		fs:         fs,
		now:        o.now,
	}
}

// NewCredentialStoreWithRepositories creates a CredentialStore over arbitrary
// repositories. InitializeSchema is a no-op for stores built this way.
func NewCredentialStoreWithRepositories(users UserRepository, detections DetectionRepository, fs afero.Fs, opts ...Option) *CredentialStore {
	o := applyOptions(opts)
	return &CredentialStore{
		users:      users,
		detections: detections,
		fs:         fs,
		now:        o.now,
	}
}

// InitializeSchema creates the tables if they are absent.
func (s *CredentialStore) InitializeSchema() bool {
	if s.db == nil {
		return true
	}
	if err := InitializeSchema(s.db); err != nil {
		log.Printf("Error initializing database schema: %v", err)
		return false
	}
	log.Println("Database schema initialized")
	return true
}

// UserExists reports whether username is registered.
func (s *CredentialStore) UserExists(username string) bool {
	exists, err := s.users.Exists(username)
	if err != nil {
		log.Printf("Error checking user %s: %v", username, err)
		return false
	}
	return exists
}

// CreateUser inserts a user. It returns false when the username is taken or
// the insert fails for any other reason.
func (s *CredentialStore) CreateUser(fullName, username, passwordHash string) bool {
	user := &models.User{
		FullName: fullName,
		Username: username,
		Password: passwordHash,
	}
	if err := s.users.Create(user); err != nil {
		if !errors.Is(err, ErrDuplicateUsername) {
			log.Printf("Error creating user %s: %v", username, err)
		}
		return false
	}
	return true
}

// VerifyUser reports whether username and passwordHash match a stored row exactly.
func (s *CredentialStore) VerifyUser(username, passwordHash string) bool {
	ok, err := s.users.Verify(username, passwordHash)
	if err != nil {
		log.Printf("Error verifying user %s: %v", username, err)
		return false
	}
	return ok
}

// UpdatePassword overwrites the stored digest. It returns true iff a row changed.
func (s *CredentialStore) UpdatePassword(username, newPasswordHash string) bool {
	affected, err := s.users.UpdatePassword(username, newPasswordHash)
	if err != nil {
		log.Printf("Error updating password for %s: %v", username, err)
		return false
	}
	return affected > 0
}

// GetUserInfo returns the stored user or nil.
func (s *CredentialStore) GetUserInfo(username string) *models.User {
	user, err := s.users.GetByUsername(username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("Error getting user info for %s: %v", username, err)
		}
		return nil
	}
	return user
}

// SaveDetectionHistory stores a detection outcome for username.
func (s *CredentialStore) SaveDetectionHistory(username, filename, filepath, resultPayload string) bool {
	_, ok := s.SaveDetection(username, filename, filepath, resultPayload)
	return ok
}

// SaveDetection is SaveDetectionHistory returning the stored record.
func (s *CredentialStore) SaveDetection(username, filename, filepath, resultPayload string) (*models.DetectionHistory, bool) {
	record := &models.DetectionHistory{
		Username: username,
		Filename: filename,
		Filepath: filepath,
		Result:   resultPayload,
	}
	if err := s.detections.Create(record); err != nil {
		log.Printf("Error saving detection history for %s: %v", username, err)
		return nil, false
	}
	return record, true
}

// GetDetectionHistory returns the user's records, most recent first. It never
// returns nil.
func (s *CredentialStore) GetDetectionHistory(username string) []models.DetectionHistory {
	records, err := s.detections.ListByUsername(username)
	if err != nil {
		log.Printf("Error getting detection history for %s: %v", username, err)
		return []models.DetectionHistory{}
	}
	if records == nil {
		return []models.DetectionHistory{}
	}
	return records
}

// CountDetections returns how many records the user has.
func (s *CredentialStore) CountDetections(username string) int {
	return len(s.GetDetectionHistory(username))
}

// GetDetection returns a single record or nil.
func (s *CredentialStore) GetDetection(id uint) *models.DetectionHistory {
	record, err := s.detections.GetByID(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("Error getting detection %d: %v", id, err)
		}
		return nil
	}
	return record
}

// DeleteDetectionHistory removes the record and its retained image. A missing
// or undeletable file does not stop the row from being removed. It returns
// true iff the row existed and was removed.
func (s *CredentialStore) DeleteDetectionHistory(id uint) bool {
	record, err := s.detections.GetByID(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("Error looking up detection %d: %v", id, err)
		}
		return false
	}
	s.removeFile(record.Filepath)

	affected, err := s.detections.Delete(id)
	if err != nil {
		log.Printf("Error deleting detection %d: %v", id, err)
		return false
	}
	return affected > 0
}

// DeleteOldDetections removes every record stamped more than maxAgeDays ago,
// together with its retained image. It returns true when the bulk delete
// succeeded, even if nothing matched.
func (s *CredentialStore) DeleteOldDetections(maxAgeDays int) bool {
	cutoff := s.now().AddDate(0, 0, -maxAgeDays)

	old, err := s.detections.ListOlderThan(cutoff)
	if err != nil {
		log.Printf("Error listing old detections: %v", err)
		return false
	}
	for _, record := range old {
		s.removeFile(record.Filepath)
	}

	deleted, err := s.detections.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("Error deleting old detections: %v", err)
		return false
	}
	log.Printf("Deleted %d old detection records", deleted)
	return true
}

func (s *CredentialStore) removeFile(path string) {
	if path == "" {
		return
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to remove retained image %s: %v", path, err)
	}
}
