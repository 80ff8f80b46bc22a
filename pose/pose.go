// Package pose implements the vehicle's open-loop dead-reckoning pose
// estimate (§4.2): a single (x, y, θ) maintained atomically with respect to
// readers, advanced by every command the Arbiter actually dispatches.
package pose

import (
	"math"
	"sync"

	"tankctl/atomicfloat"
	"tankctl/command"
)

// Pose is the vehicle's position and heading on the grid (§3). Invariant:
// 0 <= X,Y <= grid_size-1 (clamped), Theta in [0,360).
type Pose struct {
	X, Y, Theta float64
}

// Row and Col are the grid cell a pose falls in, per §3: row = floor(y), col
// = floor(x).
func (p Pose) Row() int { return int(math.Floor(p.Y)) }
func (p Pose) Col() int { return int(math.Floor(p.X)) }

// CalibrationParams is the operator-tunable mapping from pulse to
// displacement/rotation (§3). Fields are backed by atomicfloat.Value so the
// planner and estimator can read them on every step without taking a lock,
// while apply_calibration/update_timing (§6) write them from the session
// goroutine.
type CalibrationParams struct {
	moveDistance  *atomicfloat.Value
	turnAngle     *atomicfloat.Value
	forwardDelay  *atomicfloat.Value
	turnDelayLeft *atomicfloat.Value
	turnDelayRight *atomicfloat.Value
}

// NewCalibrationParams returns params initialized to the given values.
func NewCalibrationParams(moveDistance, turnAngle, forwardDelay, turnDelayLeft, turnDelayRight float64) *CalibrationParams {
	return &CalibrationParams{
		moveDistance:   atomicfloat.New(moveDistance),
		turnAngle:      atomicfloat.New(turnAngle),
		forwardDelay:   atomicfloat.New(forwardDelay),
		turnDelayLeft:  atomicfloat.New(turnDelayLeft),
		turnDelayRight: atomicfloat.New(turnDelayRight),
	}
}

func (c *CalibrationParams) MoveDistance() float64   { return c.moveDistance.Load() }
func (c *CalibrationParams) TurnAngle() float64      { return c.turnAngle.Load() }
func (c *CalibrationParams) ForwardDelay() float64   { return c.forwardDelay.Load() }
func (c *CalibrationParams) TurnDelayLeft() float64  { return c.turnDelayLeft.Load() }
func (c *CalibrationParams) TurnDelayRight() float64 { return c.turnDelayRight.Load() }

// SetDistanceAngle applies an apply_calibration message (§6); a nil pointer
// leaves the corresponding param unchanged (both fields are optional there).
func (c *CalibrationParams) SetDistanceAngle(distance, angle *float64) {
	if distance != nil {
		c.moveDistance.Store(*distance)
	}
	if angle != nil {
		c.turnAngle.Store(*angle)
	}
}

// SetTiming applies an update_timing message (§6).
func (c *CalibrationParams) SetTiming(forwardDelay, turnLeftDelay, turnRightDelay float64) {
	c.forwardDelay.Store(forwardDelay)
	c.turnDelayLeft.Store(turnLeftDelay)
	c.turnDelayRight.Store(turnRightDelay)
}

// StepDuration returns how long cmd should be held for, per current
// calibration.
func (c *CalibrationParams) StepDuration(cmd command.Command) float64 {
	switch cmd {
	case command.Forward, command.Backward:
		return c.ForwardDelay()
	case command.Left:
		return c.TurnDelayLeft()
	case command.Right:
		return c.TurnDelayRight()
	default:
		return 0
	}
}

// History is a bounded ring buffer of recent poses, used for UI trails; not
// load-bearing (§4.2).
type History struct {
	mu       sync.Mutex
	buf      []Pose
	capacity int
	next     int
	full     bool
}

// NewHistory returns a History with the given capacity (at least 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		buf:      make([]Pose, capacity),
		capacity: capacity,
	}
}

// Push records p, overwriting the oldest entry once the ring is full.
func (h *History) Push(p Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = p
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
}

// Snapshot returns the recorded poses in oldest-to-newest order.
func (h *History) Snapshot() []Pose {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]Pose, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]Pose, h.capacity)
	copy(out, h.buf[h.next:])
	copy(out[h.capacity-h.next:], h.buf[:h.next])
	return out
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next = 0
	h.full = false
}

// Listener is notified every time the estimator publishes a new pose
// snapshot, e.g. the telemetry fan-out (§4.2 "Publish a snapshot to
// telemetry fan-out").
type Listener func(Pose)

// Estimator maintains a Pose, advancing it from dispatched commands (§4.2).
// Updates are atomic with respect to readers via a RWMutex snapshot: the
// state itself is plain floats, not atomicfloat, since advance() always
// mutates all three fields together and a snapshot read is cheap and rare
// compared to calibration reads.
type Estimator struct {
	calib   *CalibrationParams
	gridMax float64

	mu      sync.RWMutex
	current Pose
	history *History

	listenersMu sync.Mutex
	listeners   []Listener
}

// NewEstimator returns an Estimator starting at start, clamped to a
// gridSize x gridSize grid.
func NewEstimator(start Pose, gridSize int, calib *CalibrationParams, historyCap int) *Estimator {
	e := &Estimator{
		calib:   calib,
		gridMax: float64(gridSize - 1),
		current: clamp(start, float64(gridSize-1)),
		history: NewHistory(historyCap),
	}
	e.history.Push(e.current)
	return e
}

// AddListener registers a Listener to be called after every Advance/Reset.
func (e *Estimator) AddListener(l Listener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Snapshot returns the current pose.
func (e *Estimator) Snapshot() Pose {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// History returns a snapshot of recent poses, oldest first.
func (e *Estimator) History() []Pose {
	return e.history.Snapshot()
}

// Observe implements command.PoseObserver: the Arbiter calls this for every
// dispatched command, successful or not at the actuator (§4.1).
func (e *Estimator) Observe(cmd command.Command) {
	e.Advance(cmd)
}

// Advance applies the kinematics of §4.2 for a single dispatched command.
func (e *Estimator) Advance(cmd command.Command) {
	e.mu.Lock()
	p := e.current
	switch cmd {
	case command.Forward:
		d := e.calib.MoveDistance()
		rad := p.Theta * math.Pi / 180
		p.X += d * math.Cos(rad)
		p.Y -= d * math.Sin(rad)
	case command.Backward:
		d := e.calib.MoveDistance()
		rad := p.Theta * math.Pi / 180
		p.X -= d * math.Cos(rad)
		p.Y += d * math.Sin(rad)
	case command.Left:
		p.Theta = normalizeDegrees(p.Theta + e.calib.TurnAngle())
	case command.Right:
		p.Theta = normalizeDegrees(p.Theta - e.calib.TurnAngle())
	case command.Stop:
		// no change
	}
	p = clamp(p, e.gridMax)
	e.current = p
	e.history.Push(p)
	e.mu.Unlock()

	e.publish(p)
}

// Reset restores start and clears movement history (§4.2).
func (e *Estimator) Reset(start Pose) {
	e.mu.Lock()
	p := clamp(start, e.gridMax)
	e.current = p
	e.history.Clear()
	e.history.Push(p)
	e.mu.Unlock()

	e.publish(p)
}

func (e *Estimator) publish(p Pose) {
	e.listenersMu.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	e.listenersMu.Unlock()
	for _, l := range listeners {
		l(p)
	}
}

func clamp(p Pose, max float64) Pose {
	p.X = clampF(p.X, 0, max)
	p.Y = clampF(p.Y, 0, max)
	p.Theta = normalizeDegrees(p.Theta)
	return p
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeDegrees reduces theta to [0, 360).
func normalizeDegrees(theta float64) float64 {
	theta = math.Mod(theta, 360)
	if theta < 0 {
		theta += 360
	}
	return theta
}
