package repositories

import (
	"fmt"

	"gorm.io/gorm"
)

// The sqlite statements match the layout of databases created by earlier
// releases of the app, so an existing skin_cancer_app.db opens unchanged.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nama_lengkap TEXT NOT NULL,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		tanggal_dibuat TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS detection_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		filename TEXT NOT NULL,
		filepath TEXT NOT NULL,
		tanggal_deteksi TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		hasil_deteksi TEXT,
		FOREIGN KEY (username) REFERENCES users (username)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		nama_lengkap TEXT NOT NULL,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		tanggal_dibuat TIMESTAMP DEFAULT (NOW() AT TIME ZONE 'UTC')
	)`,
	`CREATE TABLE IF NOT EXISTS detection_history (
		id SERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		filename TEXT NOT NULL,
		filepath TEXT NOT NULL,
		tanggal_deteksi TIMESTAMP DEFAULT (NOW() AT TIME ZONE 'UTC'),
		hasil_deteksi TEXT
	)`,
}

// InitializeSchema creates the users and detection_history tables if they do
// not exist yet. It is safe to call on every start.
func InitializeSchema(db *gorm.DB) error {
	statements := sqliteSchema
	if db.Dialector.Name() == "postgres" {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
