package command

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Preemptable is implemented by any source that runs a multi-step plan (the
// Planner) so the Arbiter can tell it to abandon its
// remaining steps when a higher-priority source takes over (§4.1, §4.3
// "Arbiter preemption ⇒ Idle with remaining plan discarded").
type Preemptable interface {
	CancelPlan()
}

// holdWindow is how long a source is considered "active" (and thus able to
// preempt a lower-priority one) after its last accepted dispatch. Chosen
// comfortably above the ~20Hz joystick tick interval (§6) so a live joystick
// stream holds control between ticks, but a source that's gone quiet stops
// blocking lower-priority sources.
const holdWindow = 150 * time.Millisecond

// Arbiter is the single point through which every motion command reaches the
// actuator (§4.1). All four post-acceptance notifications (actuator write,
// pose estimator, virtual robot, telemetry current_motion) fire from a single
// Dispatch call so callers never see a partially-applied command.
type Arbiter struct {
	driver Driver
	logger Logger

	mu               sync.Mutex
	emergencyLatched bool
	activeSource     Source
	activeUntil      time.Time
	preemptables     map[Source]Preemptable

	poseObservers  []PoseObserver
	motionObserver MotionObserver
}

// New returns an Arbiter writing through driver.
func New(driver Driver, logger Logger) *Arbiter {
	return &Arbiter{
		driver:       driver,
		logger:       logger,
		preemptables: make(map[Source]Preemptable),
	}
}

// AddPoseObserver registers a PoseObserver to be notified of every dispatched
// command. Order of registration is the order of notification.
func (a *Arbiter) AddPoseObserver(obs PoseObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poseObservers = append(a.poseObservers, obs)
}

// SetMotionObserver registers the single MotionObserver (telemetry) notified
// of current_motion changes.
func (a *Arbiter) SetMotionObserver(obs MotionObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.motionObserver = obs
}

// RegisterPreemptable associates a Preemptable with a source, so that a
// higher-priority dispatch from a different source cancels its in-flight plan.
func (a *Arbiter) RegisterPreemptable(source Source, p Preemptable) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.preemptables[source] = p
}

// Latch sets the emergency-stop lockout. Once latched, only
// Dispatch(Stop, SourceEmergency) will be accepted.
func (a *Arbiter) Latch() {
	a.mu.Lock()
	a.emergencyLatched = true
	a.mu.Unlock()
}

// Unlatch clears the emergency-stop lockout. §4.1 requires this only happen
// on an explicit operator command; spec.md names no inbound message for it
// (see DESIGN.md), so the session layer wires a dedicated clear_emergency
// message to this method.
func (a *Arbiter) Unlatch() {
	a.mu.Lock()
	a.emergencyLatched = false
	a.mu.Unlock()
}

// Latched reports whether the emergency-stop lockout is set.
func (a *Arbiter) Latched() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emergencyLatched
}

// EmergencyStop latches the emergency-stop lockout and immediately dispatches
// a Stop from SourceEmergency. Per §5 this is immediate and not cancellable:
// it bypasses the normal priority/hold-window bookkeeping entirely.
func (a *Arbiter) EmergencyStop(ctx context.Context) error {
	a.Latch()
	return a.Dispatch(ctx, Stop, SourceEmergency)
}

// Dispatch attempts to send cmd, attributed to source, through to the
// actuator. Exactly one command is dispatched per call; on acceptance all of
// (actuator write, pose notify, virtual-robot notify, telemetry current_motion
// update) fire, with the actuator write as the hard commit and the rest
// best-effort recoverable side effects (§4.1).
func (a *Arbiter) Dispatch(ctx context.Context, cmd Command, source Source) error {
	if !validCommand(cmd) {
		return ErrUnknownCommand
	}

	preempted, toCancel := a.arbitrate(cmd, source)
	if preempted != nil {
		return preempted
	}
	if toCancel != nil {
		toCancel.CancelPlan()
	}

	writeCtx, cancel := context.WithTimeout(ctx, actuatorTimeout)
	driveErr := a.driver.Drive(writeCtx, cmd)
	timedOut := errors.Is(writeCtx.Err(), context.DeadlineExceeded)
	cancel()
	if driveErr != nil {
		if a.logger != nil {
			a.logger.Warnw("actuator dispatch failed", "command", cmd, "source", source, "error", driveErr, "timeout", timedOut)
		}
		// Transient actuator fault (§7 kind 1): logged, not fatal. The pose
		// estimator still advances below so the operator can reconcile
		// physical vs. virtual state manually.
	}

	a.mu.Lock()
	observers := append([]PoseObserver(nil), a.poseObservers...)
	motionObserver := a.motionObserver
	a.mu.Unlock()

	for _, obs := range observers {
		obs.Observe(cmd)
	}
	if motionObserver != nil {
		motionObserver.SetCurrentMotion(cmd)
	}

	if timedOut {
		return ErrActuatorTimeout
	}
	return nil
}

// arbitrate applies the emergency-latch and source-priority rules under the
// lock, returning either a rejection error or a Preemptable that must be
// cancelled (called outside the lock, since CancelPlan may itself call back
// into the arbiter).
func (a *Arbiter) arbitrate(cmd Command, source Source) (rejection error, toCancel Preemptable) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.emergencyLatched {
		if source != SourceEmergency || cmd != Stop {
			return ErrEmergencyLatched, nil
		}
		return nil, nil
	}

	now := time.Now()
	active := a.activeSource
	if active != "" && source != active && now.Before(a.activeUntil) {
		if Priority(source) < Priority(active) {
			return ErrPreempted, nil
		}
		if Priority(source) > Priority(active) {
			toCancel = a.preemptables[active]
		}
	}

	a.activeSource = source
	a.activeUntil = now.Add(holdWindow)
	return nil, toCancel
}

func validCommand(cmd Command) bool {
	switch cmd {
	case Forward, Backward, Left, Right, Stop:
		return true
	default:
		return false
	}
}
