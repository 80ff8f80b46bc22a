// Package virtualrobot implements the virtual-robot mirror (§4.7): a second
// pose estimate advanced from the exact same dispatched command stream as
// the real vehicle, so the two can be compared and rendered side by side
// (the rendering surface itself is out of scope, §1).
package virtualrobot

import (
	"tankctl/command"
	"tankctl/pose"
)

// Robot mirrors pose.Estimator and implements command.PoseObserver so the
// Arbiter's single dispatch fan-out drives both the real and virtual
// estimates in lockstep (§4.1 item (iii), §9 mirror-write pattern).
type Robot struct {
	estimator *pose.Estimator
}

// New returns a Robot sharing calib with the real Pose Estimator, so both
// stay in sync under identical calibration (§4.7).
func New(start pose.Pose, gridSize int, calib *pose.CalibrationParams, historyCap int) *Robot {
	return &Robot{estimator: pose.NewEstimator(start, gridSize, calib, historyCap)}
}

// Observe implements command.PoseObserver.
func (r *Robot) Observe(cmd command.Command) {
	r.estimator.Advance(cmd)
}

// Snapshot returns the virtual robot's current pose.
func (r *Robot) Snapshot() pose.Pose {
	return r.estimator.Snapshot()
}

// Reset restores the virtual robot to start, mirroring a real reset_start.
func (r *Robot) Reset(start pose.Pose) {
	r.estimator.Reset(start)
}

// AddListener registers a pose.Listener, e.g. to drive an optional display
// surface.
func (r *Robot) AddListener(l pose.Listener) {
	r.estimator.AddListener(l)
}
