package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload is returned when a stored prediction list cannot be decoded.
var ErrInvalidPayload = errors.New("invalid prediction payload")

var validate = validator.New()

// Prediction is a single detected lesion.
type Prediction struct {
	Label       string  `json:"class" validate:"required"`
	Confidence  float64 `json:"confidence" validate:"gte=0,lte=1"`
	BoundingBox []int   `json:"bbox" validate:"len=4"` // left, top, right, bottom in pixels
}

// EncodePredictions serializes predictions into the hasil_deteksi column format.
func EncodePredictions(predictions []Prediction) (string, error) {
	if predictions == nil {
		predictions = []Prediction{}
	}
	b, err := json.Marshal(predictions)
	if err != nil {
		return "", fmt.Errorf("failed to encode predictions: %w", err)
	}
	return string(b), nil
}

// DecodePredictions parses a stored payload. An empty payload decodes to an
// empty list; anything that is not a well-formed prediction list fails.
func DecodePredictions(payload string) ([]Prediction, error) {
	trimmed := strings.TrimSpace(payload)
	switch trimmed {
	case "", "None", "null", "[]":
		return []Prediction{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}

	predictions := make([]Prediction, 0, len(raw))
	for i, item := range raw {
		var p Prediction
		itemDec := json.NewDecoder(bytes.NewReader(item))
		itemDec.DisallowUnknownFields()
		if err := itemDec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidPayload, i, err)
		}
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidPayload, i, err)
		}
		predictions = append(predictions, p)
	}
	return predictions, nil
}
