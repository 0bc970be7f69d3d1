package models

// DetectionHistory is one stored outcome of running the detector on an
// uploaded image.
type DetectionHistory struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Username   string    `json:"username" gorm:"column:username;not null"`
	Filename   string    `json:"filename" gorm:"column:filename;not null"`
	Filepath   string    `json:"-" gorm:"column:filepath;not null"` // retained copy of the submitted image
	DetectedAt Timestamp `json:"detected_at" gorm:"column:tanggal_deteksi"`
	Result     string    `json:"-" gorm:"column:hasil_deteksi"` // encoded prediction list, see EncodePredictions
}

// TableName returns the table name for GORM.
func (DetectionHistory) TableName() string {
	return "detection_history"
}
