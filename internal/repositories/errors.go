package repositories

import "errors"

var (
	// ErrDuplicateUsername is returned when the users.username uniqueness
	// constraint rejects an insert.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
)
