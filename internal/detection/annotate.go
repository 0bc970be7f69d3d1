package detection

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	outlineThickness = 2
	labelPadding     = 10
	labelBaseline    = 5
)

var labelFace font.Face = basicfont.Face7x13

// LabelText is the caption drawn above a box.
func LabelText(label string, confidence float64) string {
	return fmt.Sprintf("%s: %.2f", label, confidence)
}

// annotate draws the outline and caption of one detection onto img.
func annotate(img *image.RGBA, box image.Rectangle, caption string, c color.RGBA) {
	drawOutline(img, box, c)

	textWidth := font.MeasureString(labelFace, caption).Ceil()
	textHeight := labelFace.Metrics().Ascent.Ceil()
	background := image.Rect(box.Min.X, box.Min.Y-textHeight-labelPadding, box.Min.X+textWidth, box.Min.Y)
	fill(img, background, c)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: labelFace,
		Dot:  fixed.P(box.Min.X, box.Min.Y-labelBaseline),
	}
	d.DrawString(caption)
}

// drawOutline strokes the inside edge of r, which spans x1..x2 and y1..y2
// inclusive.
func drawOutline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	x1, y1, x2, y2 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y
	for t := 0; t < outlineThickness; t++ {
		fill(img, image.Rect(x1, y1+t, x2+1, y1+t+1), c)
		fill(img, image.Rect(x1, y2-t, x2+1, y2-t+1), c)
		fill(img, image.Rect(x1+t, y1, x1+t+1, y2+1), c)
		fill(img, image.Rect(x2-t, y1, x2-t+1, y2+1), c)
	}
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}
