package camera

import (
	"context"
	"image"
	"image/color"
)

// SimSource is a placeholder Source that synthesizes a flat-colored frame of
// fixed resolution. Real camera integration (webcam, CSI, RTSP) is
// out-of-scope hardware detail (§1); this stands in so the capture loop,
// streaming sinks, and tests have something to drive end to end.
type SimSource struct {
	Width, Height int
	fill          color.RGBA
}

// NewSimSource returns a SimSource producing width x height frames.
func NewSimSource(width, height int) *SimSource {
	return &SimSource{Width: width, Height: height, fill: color.RGBA{R: 30, G: 30, B: 30, A: 255}}
}

// Capture implements Source.
func (s *SimSource) Capture(ctx context.Context) (Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.Set(x, y, s.fill)
		}
	}
	return Frame{Image: img}, nil
}
