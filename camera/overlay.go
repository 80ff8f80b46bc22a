package camera

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"tankctl/detection"
)

// Resize scales img to the given target width, preserving aspect ratio; used
// to match a consumer's requested stream resolution (§6 camera resolution).
func Resize(img image.Image, width int) image.Image {
	if width <= 0 {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

// boxColor and labelColor keep the overlay legible against arbitrary frame
// content.
var (
	boxColor   = color.RGBA{R: 255, G: 64, B: 64, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DrawDetections composites boxes onto a copy of img; the stored latest
// frame itself is never mutated (§4.4).
func DrawDetections(img image.Image, boxes []detection.Box) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	for _, b := range boxes {
		w := float64(b.X2 - b.X1)
		h := float64(b.Y2 - b.Y1)
		dc.SetColor(boxColor)
		dc.DrawRectangle(float64(b.X1), float64(b.Y1), w, h)
		dc.Stroke()

		dc.SetColor(labelColor)
		dc.DrawString(labelText(b), float64(b.X1)+2, float64(b.Y1)+12)
	}
	return dc.Image()
}

func labelText(b detection.Box) string {
	if b.Label == "" {
		return "detection"
	}
	return b.Label
}
