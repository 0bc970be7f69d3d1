package detection

import "context"

// Box is one raw detection as reported by a model, in absolute pixel
// coordinates of the submitted image.
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// Model runs inference on an encoded image. Implementations are opaque: box
// regression, classification and non-max suppression all happen inside.
type Model interface {
	Predict(ctx context.Context, image []byte, confidence float64) ([]Box, error)
	Type() string
}

// LabeledModel is a Model that carries its own class-id to name mapping.
type LabeledModel interface {
	Model
	Names() map[int]string
}

// Loader loads a model artifact from a filesystem path.
type Loader func(path string) (Model, error)
