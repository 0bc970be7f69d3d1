package detection

import (
	"fmt"
	"image/color"
)

// defaultClassNames is used when the loaded model has no embedded names.
var defaultClassNames = map[int]string{
	0: "Melanoma",
	1: "Basal Cell Carcinoma",
	2: "Squamous Cell Carcinoma",
	3: "Seborrheic Keratosis",
	4: "Actinic Keratosis",
	5: "Benign Lesion",
}

var classColors = map[string]color.RGBA{
	"Melanoma":                {R: 255, G: 0, B: 0, A: 255},
	"Basal Cell Carcinoma":    {R: 255, G: 165, B: 0, A: 255},
	"Squamous Cell Carcinoma": {R: 255, G: 255, B: 0, A: 255},
	"Seborrheic Keratosis":    {R: 0, G: 255, B: 0, A: 255},
	"Actinic Keratosis":       {R: 0, G: 0, B: 255, A: 255},
	"Benign Lesion":           {R: 128, G: 0, B: 128, A: 255},
}

// DefaultColor is drawn for labels without an entry in the color table.
var DefaultColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// ColorFor returns the annotation color of a class label.
func ColorFor(label string) color.RGBA {
	if c, ok := classColors[label]; ok {
		return c
	}
	return DefaultColor
}

func unknownClassName(classID int) string {
	return fmt.Sprintf("Unknown_Class_%d", classID)
}
