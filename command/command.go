// Package command implements the single point through which every motion
// command reaches the actuator: the Arbiter. It owns emergency-stop lockout,
// source priority/preemption, and the joystick-to-command mapping (§4.1).
package command

import (
	"context"
	"fmt"
	"time"
)

// Command is a tagged motion value. No other motions exist (§3).
type Command string

const (
	Forward  Command = "F"
	Backward Command = "B"
	Left     Command = "L"
	Right    Command = "R"
	Stop     Command = "S"
)

// Source identifies who is asking the arbiter to dispatch a command.
type Source string

const (
	SourceJoystick Source = "joystick"
	SourcePlanner  Source = "map_planner"
	SourceAutoNav  Source = "auto_nav"
	SourceOverride Source = "manual_override"
	SourceEmergency Source = "emergency"
)

// priority gives the total order of §4.1: emergency > joystick >
// manual_override > map_planner > auto_nav. A higher number preempts a lower
// one.
var priority = map[Source]int{
	SourceEmergency: 4,
	SourceJoystick:  3,
	SourceOverride:  2,
	SourcePlanner:   1,
	SourceAutoNav:   0,
}

// Priority returns the preemption rank of a source; unknown sources rank
// lowest.
func Priority(s Source) int {
	if p, ok := priority[s]; ok {
		return p
	}
	return -1
}

// Preempts reports whether a command from source a would preempt one
// currently in flight from source b.
func Preempts(a, b Source) bool {
	return Priority(a) > Priority(b)
}

// ControlInput is a raw joystick tick (§3), forward/turn in [-100,100].
type ControlInput struct {
	Forward int
	Turn    int
}

// deadzone matches §3/§4.1: |v| < 15 (equivalently 0.15 after normalizing to
// [-1,1]) collapses to zero.
const deadzoneRaw = 15

// ToCommand implements the §4.1 joystick mapping: forward dominant picks
// F/B, otherwise turn dominant picks L/R, otherwise both are inside the
// deadzone and the result is S.
func (ci ControlInput) ToCommand() Command {
	fwd := ci.Forward
	turn := ci.Turn
	if abs(fwd) < deadzoneRaw {
		fwd = 0
	}
	if abs(turn) < deadzoneRaw {
		turn = 0
	}

	if abs(fwd) >= abs(turn) {
		switch {
		case fwd > 0:
			return Forward
		case fwd < 0:
			return Backward
		default:
			return Stop
		}
	}

	if turn > 0 {
		return Right
	}
	return Left
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Rejection reasons.
var (
	ErrEmergencyLatched = fmt.Errorf("command rejected: emergency stop latched")
	ErrPreempted        = fmt.Errorf("command rejected: preempted by higher-priority source")
	ErrActuatorTimeout  = fmt.Errorf("command rejected: actuator write timed out")
	ErrUnknownCommand   = fmt.Errorf("command rejected: unknown command")
)

// actuatorTimeout bounds every actuator write (§5).
const actuatorTimeout = 250 * time.Millisecond

// Driver is the opaque sink for discrete motion commands (§4.1 item 1 /
// Out of scope §1). Idempotent: dispatching the same command repeatedly must
// be safe.
type Driver interface {
	Drive(ctx context.Context, cmd Command) error
}

// PoseObserver is notified of every command that is actually dispatched, so
// it can advance its kinematic model (§4.1 item (ii)/(iii): the real Pose
// Estimator and the Virtual Robot are both PoseObservers).
type PoseObserver interface {
	Observe(cmd Command)
}

// MotionObserver is notified of the arbiter's current_motion so telemetry
// (§3 Telemetry, §4.1 item (iv)) stays in sync.
type MotionObserver interface {
	SetCurrentMotion(cmd Command)
}

// Logger is the minimal surface the arbiter needs for warnings (§1 "Logging");
// satisfied by *zap.SugaredLogger.
type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
}
