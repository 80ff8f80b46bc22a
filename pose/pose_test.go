package pose

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"tankctl/command"
)

func calib(moveDistance, turnAngle float64) *CalibrationParams {
	return NewCalibrationParams(moveDistance, turnAngle, 0.5, 0.4, 0.4)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestEstimatorAdvance(t *testing.T) {
	Convey("Given an estimator at (10,10,90) with unit calibration", t, func() {
		e := NewEstimator(Pose{X: 10, Y: 10, Theta: 90}, 20, calib(1.0, 90), 8)

		Convey("F,F,R,F drives it to (11,8,0) per the worked example", func() {
			e.Advance(command.Forward)
			e.Advance(command.Forward)
			e.Advance(command.Right)
			e.Advance(command.Forward)

			p := e.Snapshot()
			So(almostEqual(p.X, 11.0), ShouldBeTrue)
			So(almostEqual(p.Y, 8.0), ShouldBeTrue)
			So(almostEqual(p.Theta, 0.0), ShouldBeTrue)
		})

		Convey("Right then Left returns theta to its original value mod 360", func() {
			e.Advance(command.Right)
			e.Advance(command.Left)
			p := e.Snapshot()
			So(almostEqual(p.Theta, 90.0), ShouldBeTrue)
		})

		Convey("Forward then Backward returns (x,y) to their original values", func() {
			before := e.Snapshot()
			e.Advance(command.Forward)
			e.Advance(command.Backward)
			after := e.Snapshot()
			So(almostEqual(before.X, after.X), ShouldBeTrue)
			So(almostEqual(before.Y, after.Y), ShouldBeTrue)
		})

		Convey("Stop never changes the pose", func() {
			before := e.Snapshot()
			e.Advance(command.Stop)
			So(e.Snapshot(), ShouldResemble, before)
		})
	})

	Convey("Given an estimator pinned at a grid boundary", t, func() {
		e := NewEstimator(Pose{X: 0, Y: 0, Theta: 0}, 20, calib(5.0, 90), 4)

		Convey("Advancing off the grid clamps rather than escaping it", func() {
			e.Advance(command.Backward)
			p := e.Snapshot()
			So(p.X, ShouldEqual, 0)
		})
	})
}

func TestEstimatorReset(t *testing.T) {
	Convey("Given an estimator that has moved and accumulated history", t, func() {
		e := NewEstimator(Pose{X: 5, Y: 5, Theta: 0}, 20, calib(1.0, 90), 4)
		e.Advance(command.Forward)
		e.Advance(command.Forward)

		Convey("Reset restores the given pose and clears history to just that pose", func() {
			e.Reset(Pose{X: 1, Y: 1, Theta: 0})
			So(e.Snapshot(), ShouldResemble, Pose{X: 1, Y: 1, Theta: 0})
			So(e.History(), ShouldResemble, []Pose{{X: 1, Y: 1, Theta: 0}})
		})
	})
}

func TestEstimatorListeners(t *testing.T) {
	Convey("Given an estimator with a registered listener", t, func() {
		e := NewEstimator(Pose{X: 0, Y: 0, Theta: 0}, 20, calib(1.0, 90), 4)
		var got []Pose
		e.AddListener(func(p Pose) { got = append(got, p) })

		Convey("Every Advance publishes a snapshot", func() {
			e.Advance(command.Forward)
			e.Advance(command.Right)
			So(len(got), ShouldEqual, 2)
		})

		Convey("Reset also publishes", func() {
			e.Reset(Pose{X: 2, Y: 2, Theta: 0})
			So(len(got), ShouldEqual, 1)
		})
	})
}

func TestNormalizeDegrees(t *testing.T) {
	Convey("normalizeDegrees reduces any angle to [0,360)", t, func() {
		So(normalizeDegrees(0), ShouldEqual, 0)
		So(normalizeDegrees(360), ShouldEqual, 0)
		So(normalizeDegrees(-90), ShouldEqual, 270)
		So(normalizeDegrees(450), ShouldEqual, 90)
		So(normalizeDegrees(-360), ShouldEqual, 0)
	})
}

func TestHistoryRingBuffer(t *testing.T) {
	Convey("Given a history of capacity 3", t, func() {
		h := NewHistory(3)

		Convey("Before it fills, Snapshot returns only what's been pushed, oldest first", func() {
			h.Push(Pose{X: 1})
			h.Push(Pose{X: 2})
			So(h.Snapshot(), ShouldResemble, []Pose{{X: 1}, {X: 2}})
		})

		Convey("Once full, Snapshot wraps and still returns oldest-to-newest", func() {
			h.Push(Pose{X: 1})
			h.Push(Pose{X: 2})
			h.Push(Pose{X: 3})
			h.Push(Pose{X: 4})
			So(h.Snapshot(), ShouldResemble, []Pose{{X: 2}, {X: 3}, {X: 4}})
		})

		Convey("Clear empties it", func() {
			h.Push(Pose{X: 1})
			h.Clear()
			So(h.Snapshot(), ShouldResemble, []Pose{})
		})
	})

	Convey("NewHistory floors capacity at 1", t, func() {
		h := NewHistory(0)
		h.Push(Pose{X: 1})
		h.Push(Pose{X: 2})
		So(h.Snapshot(), ShouldResemble, []Pose{{X: 2}})
	})
}

func TestCalibrationParams(t *testing.T) {
	Convey("Given default calibration params", t, func() {
		c := NewCalibrationParams(1.0, 90, 0.5, 0.4, 0.45)

		Convey("SetDistanceAngle with both nil leaves values unchanged", func() {
			c.SetDistanceAngle(nil, nil)
			So(c.MoveDistance(), ShouldEqual, 1.0)
			So(c.TurnAngle(), ShouldEqual, 90.0)
		})

		Convey("SetDistanceAngle updates only the non-nil field", func() {
			d := 2.5
			c.SetDistanceAngle(&d, nil)
			So(c.MoveDistance(), ShouldEqual, 2.5)
			So(c.TurnAngle(), ShouldEqual, 90.0)
		})

		Convey("SetTiming updates all three delays", func() {
			c.SetTiming(0.6, 0.7, 0.8)
			So(c.ForwardDelay(), ShouldEqual, 0.6)
			So(c.TurnDelayLeft(), ShouldEqual, 0.7)
			So(c.TurnDelayRight(), ShouldEqual, 0.8)
		})

		Convey("StepDuration dispatches by command", func() {
			So(c.StepDuration(command.Forward), ShouldEqual, c.ForwardDelay())
			So(c.StepDuration(command.Backward), ShouldEqual, c.ForwardDelay())
			So(c.StepDuration(command.Left), ShouldEqual, c.TurnDelayLeft())
			So(c.StepDuration(command.Right), ShouldEqual, c.TurnDelayRight())
			So(c.StepDuration(command.Stop), ShouldEqual, 0)
		})
	})
}
