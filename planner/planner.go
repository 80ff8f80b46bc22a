// Package planner implements the map/navigation planner (§4.3): given a
// target grid cell and the current pose, it derives a bounded sequence of
// turn-then-forward pulses and executes them one at a time through the
// command Arbiter, respecting obstacles, cancellation, and preemption.
package planner

import (
	"context"
	"math"
	"sync"
	"time"

	"tankctl/command"
	"tankctl/grid"
	"tankctl/pose"
)

// Step is a single planned pulse.
type Step struct {
	Cmd      command.Command
	Duration time.Duration
}

// Plan is an ordered sequence of pulses (§3 NavigationPlan).
type Plan []Step

// State is the planner's lifecycle state (§4.3).
type State int

const (
	Idle State = iota
	Planning
	Executing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Planning:
		return "Planning"
	case Executing:
		return "Executing"
	default:
		return "Unknown"
	}
}

// Dispatcher is the subset of command.Arbiter the planner needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command, source command.Source) error
}

// Logger is the minimal logging surface the planner needs.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// StateListener is notified of planner state transitions, used to publish
// log events to telemetry (§7 kind 5).
type StateListener func(state State, reason string)

// Planner drives the vehicle toward an operator-chosen grid cell (§4.3).
// It implements command.Preemptable so the Arbiter can abort an in-flight
// plan the instant a higher-priority source takes over.
type Planner struct {
	arbiter Dispatcher
	grid    *grid.Grid
	pose    *pose.Estimator
	logger  Logger

	mu        sync.Mutex
	state     State
	cancelRun context.CancelFunc
	done      chan struct{}

	listenersMu sync.Mutex
	listeners   []StateListener
}

// New returns a Planner.
func New(arbiter Dispatcher, g *grid.Grid, estimator *pose.Estimator, logger Logger) *Planner {
	return &Planner{
		arbiter: arbiter,
		grid:    g,
		pose:    estimator,
		logger:  logger,
		state:   Idle,
	}
}

// AddListener registers a StateListener.
func (p *Planner) AddListener(l StateListener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Planner) notify(state State, reason string) {
	p.listenersMu.Lock()
	listeners := append([]StateListener(nil), p.listeners...)
	p.listenersMu.Unlock()
	for _, l := range listeners {
		l(state, reason)
	}
}

// State returns the planner's current lifecycle state.
func (p *Planner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ComputePlan derives the turn-then-forward pulse sequence for reaching
// target from current, per §4.3 steps 1-6. Obstacle checking happens at
// execution time, not here (the grid can change between planning and a given
// step executing).
//
// Target cells are used directly as world coordinates (not the cell-center
// (col+0.5,row+0.5) translation literally described in §4.3 step 1): this
// matches the worked examples in spec.md §8 scenarios 2 and 3 exactly, which
// only hold for un-offset coordinates (see DESIGN.md).
func ComputePlan(current pose.Pose, target grid.Cell, calib *pose.CalibrationParams) Plan {
	turnAngle := calib.TurnAngle()
	moveDistance := calib.MoveDistance()

	tx, ty := float64(target.Col), float64(target.Row)
	dx := tx - current.X
	dy := ty - current.Y

	distance := math.Hypot(dx, dy)
	if distance < 1e-9 {
		return nil
	}

	// Desired heading: forward motion is (cosθ, -sinθ), so the heading that
	// points from current toward target is atan2(-dy, dx).
	phi := math.Atan2(-dy, dx) * 180 / math.Pi
	if phi < 0 {
		phi += 360
	}

	delta := normalizeSigned(phi - current.Theta)

	var plan Plan
	if turnAngle > 0 {
		k := int(math.Round(math.Abs(delta) / turnAngle))
		turnCmd := command.Left
		turnDelay := calib.TurnDelayLeft()
		if delta <= 0 {
			turnCmd = command.Right
			turnDelay = calib.TurnDelayRight()
		}
		for i := 0; i < k; i++ {
			plan = append(plan, Step{Cmd: turnCmd, Duration: secs(turnDelay)})
		}
	}

	if moveDistance > 0 {
		n := int(math.Round(distance / moveDistance))
		forwardDelay := secs(calib.ForwardDelay())
		for i := 0; i < n; i++ {
			plan = append(plan, Step{Cmd: command.Forward, Duration: forwardDelay})
		}
	}

	return plan
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// normalizeSigned reduces an angle in degrees to (-180, 180].
func normalizeSigned(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg <= -180 {
		deg += 360
	}
	if deg > 180 {
		deg -= 360
	}
	return deg
}

// Navigate plans a route to target and begins executing it asynchronously.
// It transitions Idle -> Planning -> Executing -> Idle (§4.3). A navigate
// call while already navigating first cancels the in-flight plan.
func (p *Planner) Navigate(ctx context.Context, target grid.Cell, calib *pose.CalibrationParams) {
	p.cancelLocked("superseded by new navigate_to")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.state = Planning
	p.cancelRun = cancel
	p.done = done
	p.mu.Unlock()
	p.notify(Planning, "")

	go p.run(runCtx, done, target, calib)
}

func (p *Planner) run(ctx context.Context, done chan struct{}, target grid.Cell, calib *pose.CalibrationParams) {
	defer close(done)

	plan := ComputePlan(p.pose.Snapshot(), target, calib)

	p.mu.Lock()
	p.state = Executing
	p.mu.Unlock()
	p.notify(Executing, "")

	for _, step := range plan {
		select {
		case <-ctx.Done():
			p.finish("cancelled")
			return
		default:
		}

		if step.Cmd == command.Forward && p.obstacleAhead(calib) {
			p.finish("obstacle")
			return
		}

		stepCtx, stepCancel := context.WithTimeout(ctx, 2*stepOrMin(step.Duration))
		err := p.arbiter.Dispatch(stepCtx, step.Cmd, command.SourcePlanner)
		overrun := stepCtx.Err() == context.DeadlineExceeded
		stepCancel()
		if err != nil {
			if p.logger != nil {
				p.logger.Warnw("planner dispatch failed", "error", err)
			}
			p.finish("dispatch rejected")
			return
		}
		if overrun {
			if p.logger != nil {
				p.logger.Warnw("planner step overrun")
			}
			p.finish("step overrun")
			return
		}

		if step.Duration > 0 {
			select {
			case <-time.After(step.Duration):
			case <-ctx.Done():
				p.finish("cancelled")
				return
			}
		}
	}

	p.finish("")
}

// obstacleAhead checks the grid cell a forward pulse would enter, from the
// current pose, logging and reporting true if it is blocked (§4.3 "respecting
// obstacles"). Shared by both the navigate_to path and the fixed go_up pulse
// so neither can drive into a known obstacle.
func (p *Planner) obstacleAhead(calib *pose.CalibrationParams) bool {
	next := p.pose.Snapshot()
	rad := next.Theta * math.Pi / 180
	d := calib.MoveDistance()
	row := int(math.Floor(next.Y - d*math.Sin(rad)))
	col := int(math.Floor(next.X + d*math.Cos(rad)))
	if !p.grid.IsObstacle(row, col) {
		return false
	}
	if p.logger != nil {
		p.logger.Warnw("planner halted: obstacle ahead", "row", row, "col", col)
	}
	return true
}

func stepOrMin(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func (p *Planner) finish(reason string) {
	p.mu.Lock()
	p.state = Idle
	p.mu.Unlock()
	p.notify(Idle, reason)
}

// Cancel aborts any in-flight plan and emits Stop through the arbiter
// (§4.3 "cancel() from any state ⇒ Idle after emitting S through the
// arbiter"). This is the operator-invoked clear_target path.
func (p *Planner) Cancel(ctx context.Context) {
	p.cancelLocked("clear_target")
	_ = p.arbiter.Dispatch(ctx, command.Stop, command.SourcePlanner)
}

// CancelPlan implements command.Preemptable: the Arbiter calls this when a
// higher-priority source takes over (§4.1, §4.3). It discards the remaining
// plan without re-dispatching, since the preempting command already took the
// actuator.
func (p *Planner) CancelPlan() {
	p.cancelLocked("preempted")
}

func (p *Planner) cancelLocked(reason string) {
	p.mu.Lock()
	cancel := p.cancelRun
	p.cancelRun = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = reason
}

// GoUpOneCell is a convenience plan: one forward pulse (§4.3).
func (p *Planner) GoUpOneCell(ctx context.Context, calib *pose.CalibrationParams) {
	p.runFixed(ctx, Plan{{Cmd: command.Forward, Duration: secs(calib.ForwardDelay())}}, calib)
}

// Turn90Left is a convenience plan: pulses of Left totaling ~90 degrees.
func (p *Planner) Turn90Left(ctx context.Context, calib *pose.CalibrationParams) {
	p.runFixed(ctx, fixedTurn(command.Left, calib.TurnAngle(), secs(calib.TurnDelayLeft())), calib)
}

// Turn90Right is a convenience plan: pulses of Right totaling ~90 degrees.
func (p *Planner) Turn90Right(ctx context.Context, calib *pose.CalibrationParams) {
	p.runFixed(ctx, fixedTurn(command.Right, calib.TurnAngle(), secs(calib.TurnDelayRight())), calib)
}

func fixedTurn(cmd command.Command, turnAngle float64, dur time.Duration) Plan {
	if turnAngle <= 0 {
		return nil
	}
	k := int(math.Round(90 / turnAngle))
	if k < 1 {
		k = 1
	}
	plan := make(Plan, k)
	for i := range plan {
		plan[i] = Step{Cmd: cmd, Duration: dur}
	}
	return plan
}

func (p *Planner) runFixed(ctx context.Context, plan Plan, calib *pose.CalibrationParams) {
	p.cancelLocked("superseded by fixed plan")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.state = Executing
	p.cancelRun = cancel
	p.done = done
	p.mu.Unlock()
	p.notify(Executing, "")

	go func() {
		defer close(done)
		for _, step := range plan {
			select {
			case <-runCtx.Done():
				p.finish("cancelled")
				return
			default:
			}
			if step.Cmd == command.Forward && p.obstacleAhead(calib) {
				p.finish("obstacle")
				return
			}
			if err := p.arbiter.Dispatch(runCtx, step.Cmd, command.SourcePlanner); err != nil {
				p.finish("dispatch rejected")
				return
			}
			if step.Duration > 0 {
				select {
				case <-time.After(step.Duration):
				case <-runCtx.Done():
					p.finish("cancelled")
					return
				}
			}
		}
		p.finish("")
	}()
}
