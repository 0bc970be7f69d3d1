package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sort"
	"sync"

	"kulit/internal/models"

	"github.com/spf13/afero"
)

var (
	// ErrModelUnavailable is returned by Detect when no model is loaded.
	ErrModelUnavailable = errors.New("detection model unavailable")
	// ErrImageDecode is returned when the submitted file is not a readable image.
	ErrImageDecode = errors.New("failed to read image")
	// ErrInference is returned when the model fails while predicting.
	ErrInference = errors.New("inference failed")
)

// DefaultConfidenceThreshold is the minimum score used when callers do not
// pick one.
const DefaultConfidenceThreshold = 0.25

// State is the lifecycle state of an Engine.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "uninitialized"
	}
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	Available bool     `json:"available"`
	Status    string   `json:"status"`
	Path      string   `json:"model_path,omitempty"`
	Type      string   `json:"model_type,omitempty"`
	Classes   []string `json:"classes,omitempty"`
}

// UnavailableModelInfo is reported while no model is loaded.
var UnavailableModelInfo = ModelInfo{Available: false, Status: "model unavailable"}

// Engine runs a pretrained detection model on single images and draws the
// results. An Engine is loaded once; a failed load is permanent for the life
// of the Engine.
type Engine struct {
	fs     afero.Fs
	loader Loader

	mu        sync.RWMutex
	state     State
	modelPath string
	model     Model
	names     map[int]string // embedded names, nil when the model has none
	loadErr   error
}

// NewEngine creates an uninitialized Engine that reads images from fs and
// loads models with loader.
func NewEngine(fs afero.Fs, loader Loader) *Engine {
	return &Engine{
		fs:     fs,
		loader: loader,
	}
}

// Initialize loads the model at modelPath. It never fails: a missing or
// broken artifact moves the Engine to StateUnavailable and the reason is
// kept in Err. Calls after the first are ignored.
func (e *Engine) Initialize(modelPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUninitialized {
		return
	}
	e.modelPath = modelPath

	model, err := e.load(modelPath)
	if err != nil {
		e.state = StateUnavailable
		e.loadErr = err
		log.Printf("Detection model unavailable: %v", err)
		return
	}

	e.model = model
	if labeled, ok := model.(LabeledModel); ok {
		e.names = labeled.Names()
	}
	e.state = StateReady
	log.Printf("Detection model loaded from %s", modelPath)
}

func (e *Engine) load(modelPath string) (model Model, err error) {
	if e.loader == nil {
		return nil, errors.New("no model loader configured")
	}
	defer func() {
		if r := recover(); r != nil {
			model, err = nil, fmt.Errorf("model loader panicked: %v", r)
		}
	}()
	model, err = e.loader(modelPath)
	if err == nil && model == nil {
		err = errors.New("model loader returned no model")
	}
	return model, err
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Err returns why the model could not be loaded, or nil.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadErr
}

// Detect runs the model on the image at imagePath. It returns the decoded
// image with every detection drawn on it, and one prediction per detection
// whose confidence is at least threshold.
func (e *Engine) Detect(ctx context.Context, imagePath string, threshold float64) (*image.RGBA, []models.Prediction, error) {
	e.mu.RLock()
	model, state := e.model, e.state
	e.mu.RUnlock()

	if state != StateReady {
		return nil, nil, ErrModelUnavailable
	}

	data, err := afero.ReadFile(e.fs, imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	annotated, err := DecodeRGBA(data)
	if err != nil {
		return nil, nil, err
	}

	boxes, err := e.predict(ctx, model, data, threshold)
	if err != nil {
		return nil, nil, err
	}

	predictions := make([]models.Prediction, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence < threshold {
			continue
		}
		label := e.ClassName(b.ClassID)
		x1, y1, x2, y2 := int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)

		predictions = append(predictions, models.Prediction{
			Label:       label,
			Confidence:  b.Confidence,
			BoundingBox: []int{x1, y1, x2, y2},
		})
		annotate(annotated, image.Rect(x1, y1, x2, y2), LabelText(label, b.Confidence), ColorFor(label))
	}
	return annotated, predictions, nil
}

func (e *Engine) predict(ctx context.Context, model Model, data []byte, threshold float64) (boxes []Box, err error) {
	defer func() {
		if r := recover(); r != nil {
			boxes, err = nil, fmt.Errorf("%w: model panicked: %v", ErrInference, r)
		}
	}()
	boxes, err = model.Predict(ctx, data, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return boxes, nil
}

// ClassName maps a class id to a label. The model's embedded names win,
// then the built-in lesion table, then a synthesized name.
func (e *Engine) ClassName(classID int) string {
	e.mu.RLock()
	names := e.names
	e.mu.RUnlock()

	if name, ok := names[classID]; ok {
		return name
	}
	if name, ok := defaultClassNames[classID]; ok {
		return name
	}
	return unknownClassName(classID)
}

// ModelInfo summarizes the loaded model, or returns UnavailableModelInfo.
func (e *Engine) ModelInfo() ModelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return UnavailableModelInfo
	}
	names := e.names
	if names == nil {
		names = defaultClassNames
	}
	return ModelInfo{
		Available: true,
		Status:    "ready",
		Path:      e.modelPath,
		Type:      e.model.Type(),
		Classes:   sortedNames(names),
	}
}

func sortedNames(names map[int]string) []string {
	ids := make([]int, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, names[id])
	}
	return out
}
