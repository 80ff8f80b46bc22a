// Package detection defines the object detector boundary (§4.5): the core
// only cares about a box's class and confidence, never the model behind it.
package detection

import "context"

// Box is a single detection result (§3 DetectionBox).
type Box struct {
	X1, Y1, X2, Y2 int
	Label          string
	Confidence     float64
	ClassID        int
}

// CentroidX returns the horizontal center of the box, used by the
// person-following policy (§4.6).
func (b Box) CentroidX() float64 {
	return float64(b.X1+b.X2) / 2
}

// Frame is the minimal surface a Detector needs from a captured image; kept
// separate from the camera package's Frame type so this package stays
// import-free of image decoding concerns.
type Frame interface {
	Width() int
	Height() int
	Bytes() []byte
}

// Detector infers a list of boxes from a frame (§4.5). Implementations must
// be safe to call from the capture loop's goroutine.
type Detector interface {
	Infer(ctx context.Context, frame Frame) ([]Box, error)
}

// Variant is the "dynamic optional detector" of §9: Present(d) or Absent, so
// call sites never branch on a runtime flag. Absent.Infer always returns an
// empty, error-free result.
type Variant struct {
	detector Detector
}

// Present wraps a real Detector.
func Present(d Detector) Variant {
	return Variant{detector: d}
}

// Absent is the zero-value Variant: no model loaded (§4.5 "If model not
// loaded, returns empty list").
var Absent = Variant{}

// Infer delegates to the wrapped detector, or returns an empty list if Absent.
func (v Variant) Infer(ctx context.Context, frame Frame) ([]Box, error) {
	if v.detector == nil {
		return nil, nil
	}
	return v.detector.Infer(ctx, frame)
}

// Loaded reports whether a real detector is present.
func (v Variant) Loaded() bool {
	return v.detector != nil
}
