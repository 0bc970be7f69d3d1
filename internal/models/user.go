package models

// User represents a registered account of the screening app.
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	FullName     string    `json:"full_name" gorm:"column:nama_lengkap;not null"`
	Username     string    `json:"username" gorm:"column:username;uniqueIndex;not null"`
	Password     string    `json:"-" gorm:"column:password;not null"` // hex-encoded SHA-256 digest, never serialized
	RegisteredAt Timestamp `json:"registered_at" gorm:"column:tanggal_dibuat"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}
