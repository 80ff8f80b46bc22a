package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"tankctl/command"
	"tankctl/grid"
	"tankctl/pose"
)

func awaitIdle(p *Planner) {
	for p.State() != Idle {
		time.Sleep(time.Millisecond)
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []command.Command
	fail bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, cmd command.Command, source command.Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errDispatchFailed
	}
	d.cmds = append(d.cmds, cmd)
	return nil
}

func (d *recordingDispatcher) snapshot() []command.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]command.Command, len(d.cmds))
	copy(out, d.cmds)
	return out
}

type plannerError struct{ msg string }

func (e *plannerError) Error() string { return e.msg }

var errDispatchFailed = &plannerError{"dispatch failed"}

func countCmd(cmds []command.Command, want command.Command) int {
	n := 0
	for _, c := range cmds {
		if c == want {
			n++
		}
	}
	return n
}

func TestComputePlan(t *testing.T) {
	Convey("Given start pose (10,10,90) and unit calibration", t, func() {
		start := pose.Pose{X: 10, Y: 10, Theta: 90}
		c := pose.NewCalibrationParams(1.0, 90, 0.5, 0.4, 0.4)

		Convey("navigate_to(row=5,col=10) yields 0 turns and 5 forward pulses", func() {
			plan := ComputePlan(start, grid.Cell{Row: 5, Col: 10}, c)
			So(countCmd(stepCmds(plan), command.Left), ShouldEqual, 0)
			So(countCmd(stepCmds(plan), command.Right), ShouldEqual, 0)
			So(countCmd(stepCmds(plan), command.Forward), ShouldEqual, 5)
		})

		Convey("navigate_to(row=10,col=15) yields 1 right turn then 5 forward pulses", func() {
			plan := ComputePlan(start, grid.Cell{Row: 10, Col: 15}, c)
			So(len(plan), ShouldBeGreaterThan, 0)
			So(plan[0].Cmd, ShouldEqual, command.Right)
			So(countCmd(stepCmds(plan), command.Right), ShouldEqual, 1)
			So(countCmd(stepCmds(plan), command.Forward), ShouldEqual, 5)
		})

		Convey("navigating to the current cell yields an empty plan", func() {
			plan := ComputePlan(start, grid.Cell{Row: 10, Col: 10}, c)
			So(plan, ShouldBeEmpty)
		})
	})
}

func stepCmds(plan Plan) []command.Command {
	out := make([]command.Command, len(plan))
	for i, s := range plan {
		out[i] = s.Cmd
	}
	return out
}

func TestPlannerNavigateExecutes(t *testing.T) {
	Convey("Given a planner over an obstacle-free grid", t, func() {
		g := grid.New(20)
		disp := &recordingDispatcher{}
		estimator := pose.NewEstimator(pose.Pose{X: 10, Y: 10, Theta: 90}, 20, pose.NewCalibrationParams(1.0, 90, 0, 0, 0), 4)
		p := New(disp, g, estimator, nil)

		Convey("Navigate drives the arbiter through the full plan and returns to Idle", func() {
			p.Navigate(context.Background(), grid.Cell{Row: 5, Col: 10}, pose.NewCalibrationParams(1.0, 90, 0, 0, 0))
			awaitIdle(p)

			So(countCmd(disp.snapshot(), command.Forward), ShouldEqual, 5)
		})
	})
}

func TestPlannerObstacleHalts(t *testing.T) {
	Convey("Given a planner with an obstacle directly ahead", t, func() {
		g := grid.New(20)
		g.ReplaceObstacles([]grid.Cell{{Row: 9, Col: 10}})
		disp := &recordingDispatcher{}
		estimator := pose.NewEstimator(pose.Pose{X: 10, Y: 10, Theta: 90}, 20, pose.NewCalibrationParams(1.0, 90, 0, 0, 0), 4)
		p := New(disp, g, estimator, nil)

		Convey("Navigate halts before driving into the obstacle", func() {
			p.Navigate(context.Background(), grid.Cell{Row: 5, Col: 10}, pose.NewCalibrationParams(1.0, 90, 0, 0, 0))
			awaitIdle(p)
			So(countCmd(disp.snapshot(), command.Forward), ShouldEqual, 0)
		})
	})
}

func TestPlannerGoUpOneCellHaltsOnObstacle(t *testing.T) {
	Convey("Given a planner with an obstacle directly ahead", t, func() {
		g := grid.New(20)
		g.ReplaceObstacles([]grid.Cell{{Row: 9, Col: 10}})
		disp := &recordingDispatcher{}
		estimator := pose.NewEstimator(pose.Pose{X: 10, Y: 10, Theta: 90}, 20, pose.NewCalibrationParams(1.0, 90, 0, 0, 0), 4)
		p := New(disp, g, estimator, nil)

		Convey("GoUpOneCell refuses the pulse like navigate_to would", func() {
			p.GoUpOneCell(context.Background(), pose.NewCalibrationParams(1.0, 90, 0, 0, 0))
			awaitIdle(p)
			So(countCmd(disp.snapshot(), command.Forward), ShouldEqual, 0)
		})
	})
}

func TestPlannerCancelPlan(t *testing.T) {
	Convey("Given a planner registered as a Preemptable", t, func() {
		g := grid.New(20)
		disp := &recordingDispatcher{}
		estimator := pose.NewEstimator(pose.Pose{X: 10, Y: 10, Theta: 90}, 20, pose.NewCalibrationParams(1.0, 90, 1, 1, 1), 4)
		p := New(disp, g, estimator, nil)

		Convey("CancelPlan stops the in-flight run without dispatching Stop", func() {
			p.Navigate(context.Background(), grid.Cell{Row: 0, Col: 10}, pose.NewCalibrationParams(1.0, 90, 1, 1, 1))
			p.CancelPlan()
			awaitIdle(p)
			So(countCmd(disp.snapshot(), command.Stop), ShouldEqual, 0)
		})
	})
}
