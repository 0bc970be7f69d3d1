package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"kulit/internal/detection"
	"kulit/internal/models"
	"kulit/pkg/rabbitmq"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	// ErrInvalidUpload is returned when an upload is rejected before detection.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrDetectionFailed wraps every engine failure; the engine sentinel is
	// wrapped alongside it.
	ErrDetectionFailed = errors.New("detection failed")
	// ErrHistoryNotFound is returned for records that are missing or owned by
	// another user.
	ErrHistoryNotFound = errors.New("detection history not found")
	// ErrImageUnavailable is returned when a record's retained image is gone.
	ErrImageUnavailable = errors.New("image unavailable")
)

// AllowedExtensions lists the accepted upload file extensions.
var AllowedExtensions = []string{"jpg", "jpeg", "png", "bmp", "tiff"}

const (
	thumbnailSize   = 256
	retainedNameFmt = "20060102_150405"
)

// DetectionStore is the part of the credential store the DetectionService
// needs.
type DetectionStore interface {
	SaveDetection(username, filename, filepath, resultPayload string) (*models.DetectionHistory, bool)
	GetDetectionHistory(username string) []models.DetectionHistory
	GetDetection(id uint) *models.DetectionHistory
	DeleteDetectionHistory(id uint) bool
	DeleteOldDetections(maxAgeDays int) bool
	CountDetections(username string) int
}

// Detector runs the detection model. *detection.Engine implements it.
type Detector interface {
	Detect(ctx context.Context, imagePath string, threshold float64) (*image.RGBA, []models.Prediction, error)
	ModelInfo() detection.ModelInfo
}

// DetectionConfig configures a DetectionService.
type DetectionConfig struct {
	HistoryDir       string
	MaxUploadBytes   int64
	DefaultThreshold float64
}

// DetectionResult is the outcome of one detection request.
type DetectionResult struct {
	// Record is nil when the history row could not be saved.
	Record       *models.DetectionHistory
	Predictions  []models.Prediction
	AnnotatedPNG []byte
}

// Saved reports whether the detection was recorded in the history.
func (r *DetectionResult) Saved() bool {
	return r.Record != nil
}

// HistoryEntry is a history record with its payload decoded.
type HistoryEntry struct {
	ID             uint                `json:"id"`
	Filename       string              `json:"filename"`
	DetectedAt     models.Timestamp    `json:"detected_at"`
	Predictions    []models.Prediction `json:"predictions"`
	Valid          bool                `json:"valid"`
	ImageAvailable bool                `json:"image_available"`
}

// DetectionService runs detections on uploads and manages their history.
type DetectionService struct {
	store     DetectionStore
	detector  Detector
	fs        afero.Fs
	publisher EventPublisher
	cfg       DetectionConfig
	now       func() time.Time
}

// NewDetectionService creates a new DetectionService. publisher may be nil.
func NewDetectionService(store DetectionStore, detector Detector, fs afero.Fs, cfg DetectionConfig, publisher EventPublisher) *DetectionService {
	if cfg.DefaultThreshold == 0 {
		cfg.DefaultThreshold = detection.DefaultConfidenceThreshold
	}
	return &DetectionService{
		store:     store,
		detector:  detector,
		fs:        fs,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// DefaultThreshold is the confidence threshold used when a request names none.
func (s *DetectionService) DefaultThreshold() float64 {
	return s.cfg.DefaultThreshold
}

// ModelInfo describes the detection model.
func (s *DetectionService) ModelInfo() detection.ModelInfo {
	return s.detector.ModelInfo()
}

// ValidateUpload checks the extension, size and content of an uploaded file.
func (s *DetectionService) ValidateUpload(filename string, data []byte) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedExtension(ext) {
		return fmt.Errorf("%w: unsupported file type %q, expected one of %s", ErrInvalidUpload, ext, strings.Join(AllowedExtensions, ", "))
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(data)) > s.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: file is larger than %d bytes", ErrInvalidUpload, s.cfg.MaxUploadBytes)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: not a readable image: %v", ErrInvalidUpload, err)
	}
	return nil
}

func allowedExtension(ext string) bool {
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Detect stores a retained copy of the upload, runs the model on it and
// records the result. When the model fails the copy is removed and nothing
// is recorded. A failure to record the result is logged and reported through
// DetectionResult.Saved.
func (s *DetectionService) Detect(ctx context.Context, username, filename string, data []byte, threshold float64) (*DetectionResult, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold must be within [0, 1]", ErrInvalidUpload)
	}
	if err := s.ValidateUpload(filename, data); err != nil {
		return nil, err
	}

	base := filepath.Base(filepath.Clean("/" + filename))
	retained := filepath.Join(s.cfg.HistoryDir, retainedName(s.now(), base))
	if err := s.fs.MkdirAll(s.cfg.HistoryDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, retained, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store uploaded image: %w", err)
	}

	annotated, predictions, err := s.detector.Detect(ctx, retained, threshold)
	if err != nil {
		s.discard(retained)
		log.Printf("Detection failed for %s (%s): %v", username, base, err)
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	png, err := detection.EncodePNG(annotated)
	if err != nil {
		s.discard(retained)
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	payload, err := models.EncodePredictions(predictions)
	if err != nil {
		s.discard(retained)
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	result := &DetectionResult{Predictions: predictions, AnnotatedPNG: png}
	record, saved := s.store.SaveDetection(username, base, retained, payload)
	if !saved {
		log.Printf("Warning: detection for %s (%s) was not saved to history", username, base)
		s.discard(retained)
		return result, nil
	}
	result.Record = record

	publish(s.publisher, rabbitmq.EventDetectionComplete, username,
		fmt.Sprintf("%d lesion(s) detected in %s", len(predictions), base), s.now())
	return result, nil
}

func retainedName(at time.Time, base string) string {
	return fmt.Sprintf("%s_%s_%s", at.Format(retainedNameFmt), uuid.New().String()[:8], base)
}

func (s *DetectionService) discard(path string) {
	if err := s.fs.Remove(path); err != nil {
		log.Printf("Warning: failed to remove %s: %v", path, err)
	}
}

// History returns the user's detections, most recent first.
func (s *DetectionService) History(username string) []HistoryEntry {
	records := s.store.GetDetectionHistory(username)
	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entry := HistoryEntry{
			ID:         r.ID,
			Filename:   r.Filename,
			DetectedAt: r.DetectedAt,
		}
		predictions, err := models.DecodePredictions(r.Result)
		if err != nil {
			log.Printf("Detection %d has no valid data: %v", r.ID, err)
			entry.Predictions = []models.Prediction{}
		} else {
			entry.Predictions = predictions
			entry.Valid = true
		}
		entry.ImageAvailable, _ = afero.Exists(s.fs, r.Filepath)
		entries = append(entries, entry)
	}
	return entries
}

// CountDetections returns the number of detections recorded for username.
func (s *DetectionService) CountDetections(username string) int {
	return s.store.CountDetections(username)
}

// Delete removes one of the user's detections and its retained image.
func (s *DetectionService) Delete(username string, id uint) error {
	record, err := s.owned(username, id)
	if err != nil {
		return err
	}
	if !s.store.DeleteDetectionHistory(id) {
		return ErrHistoryNotFound
	}
	publish(s.publisher, rabbitmq.EventDetectionDeleted, username,
		fmt.Sprintf("removed %s", record.Filename), s.now())
	return nil
}

// Image returns the retained image of one of the user's detections and its
// content type. With thumb set it returns a PNG thumbnail instead.
func (s *DetectionService) Image(username string, id uint, thumb bool) ([]byte, string, error) {
	record, err := s.owned(username, id)
	if err != nil {
		return nil, "", err
	}
	data, err := afero.ReadFile(s.fs, record.Filepath)
	if err != nil {
		return nil, "", ErrImageUnavailable
	}
	if !thumb {
		return data, http.DetectContentType(data), nil
	}

	img, err := detection.DecodeRGBA(data)
	if err != nil {
		return nil, "", ErrImageUnavailable
	}
	out, err := detection.EncodePNG(detection.Thumbnail(img, thumbnailSize, thumbnailSize))
	if err != nil {
		return nil, "", err
	}
	return out, "image/png", nil
}

func (s *DetectionService) owned(username string, id uint) (*models.DetectionHistory, error) {
	record := s.store.GetDetection(id)
	if record == nil || record.Username != username {
		return nil, ErrHistoryNotFound
	}
	return record, nil
}

// Sweep deletes detections older than days.
func (s *DetectionService) Sweep(days int) bool {
	return s.store.DeleteOldDetections(days)
}
