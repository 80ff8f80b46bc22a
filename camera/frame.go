// Package camera implements the capture loop and latest-frame slot (§4.4):
// a dedicated goroutine producing frames, a single mutex-protected slot
// holding only the latest one, and on-demand JPEG encoding (optionally with
// a detection overlay) for the streaming sinks.
package camera

import (
	"image"
)

// Frame wraps a captured image; it carries no capture timestamp. Holding the
// decoded image.Image directly (rather than re-decoding bytes per consumer)
// is what lets overlay.go and encode.go share one in-memory representation.
type Frame struct {
	Image image.Image
}

// Width implements detection.Frame.
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height implements detection.Frame.
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Bytes implements detection.Frame by JPEG-encoding on demand. Detectors
// that need raw bytes (rather than the image.Image) pay the encode cost;
// this core never calls it on its own hot path.
func (f Frame) Bytes() []byte {
	b, err := Encode(f.Image, 85)
	if err != nil {
		return nil
	}
	return b
}
