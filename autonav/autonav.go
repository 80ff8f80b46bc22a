// Package autonav implements the person-following auto-navigation policy
// (§4.6): turn toward whichever qualifying detection is most confident,
// emitting through the arbiter under source auto_nav so joystick input
// always preempts it.
package autonav

import (
	"context"
	"sync"

	"tankctl/command"
	"tankctl/detection"
)

// Dispatcher is the subset of command.Arbiter the policy needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command, source command.Source) error
}

// leftFraction and rightFraction are the centroid thresholds of §4.6.
const (
	leftFraction  = 0.40
	rightFraction = 0.60
)

// Policy holds the enable flag and class filter for person-following.
// Enabling/disabling is the only mutable state; it has no in-flight plan to
// cancel (a single emit per inference, never multi-step), so it does not
// implement command.Preemptable.
type Policy struct {
	arbiter Dispatcher

	mu      sync.RWMutex
	enabled bool
	classes map[int]struct{}
}

// New returns a Policy that follows the given class IDs (default: person,
// conventionally class 0) when enabled.
func New(arbiter Dispatcher, classIDs []int) *Policy {
	classes := make(map[int]struct{}, len(classIDs))
	for _, c := range classIDs {
		classes[c] = struct{}{}
	}
	return &Policy{arbiter: arbiter, classes: classes}
}

// SetEnabled toggles person-following (the auto_navigation telemetry flag).
func (p *Policy) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Enabled reports whether the policy is active.
func (p *Policy) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// FrameDimensions is the minimal surface OnDetections needs from a captured
// frame; camera.Frame satisfies it, but this package stays free of an import
// on camera so callers wire the two together with a small adapter closure.
type FrameDimensions interface {
	Width() int
}

// OnDetections runs the policy on every inference result and, if enabled,
// dispatches the resulting command. Wire it to a capture loop's detection
// listener with an adapter matching that listener's concrete frame type.
func (p *Policy) OnDetections(frame FrameDimensions, boxes []detection.Box) {
	if !p.Enabled() {
		return
	}
	cmd := Decide(boxes, frame.Width(), p.classFilter())
	_ = p.arbiter.Dispatch(context.Background(), cmd, command.SourceAutoNav)
}

func (p *Policy) classFilter() map[int]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.classes
}

// Decide implements the §4.6 decision rule as a pure function, independent
// of dispatch plumbing, so it can be tested in isolation.
func Decide(boxes []detection.Box, frameWidth int, classes map[int]struct{}) command.Command {
	best, ok := highestConfidence(boxes, classes)
	if !ok {
		return command.Stop
	}

	xc := best.CentroidX()
	left := leftFraction * float64(frameWidth)
	right := rightFraction * float64(frameWidth)

	switch {
	case xc < left:
		return command.Left
	case xc > right:
		return command.Right
	default:
		return command.Stop
	}
}

func highestConfidence(boxes []detection.Box, classes map[int]struct{}) (detection.Box, bool) {
	var best detection.Box
	found := false
	for _, b := range boxes {
		if _, ok := classes[b.ClassID]; !ok {
			continue
		}
		if !found || b.Confidence > best.Confidence {
			best = b
			found = true
		}
	}
	return best, found
}
