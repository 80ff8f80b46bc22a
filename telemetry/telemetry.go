// Package telemetry implements the fan-out of §4.8: on pose change,
// current_motion change, mode-flag change, a new log line, or the periodic
// battery tick, publish to every connected operator session. Log lines are
// rate-limited to coalesce bursts; battery is a simulated, monotonically
// decaying placeholder.
package telemetry

import (
	"context"
	"sync"
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"tankctl/command"
	"tankctl/pose"
)

// State is the outbound telemetry snapshot (§3 Telemetry).
type State struct {
	Battery         int             `json:"battery"`
	CurrentMotion   command.Command `json:"current_motion"`
	AutoNavigation  bool            `json:"auto_navigation"`
	ObjectDetection bool            `json:"object_detection"`
}

// RobotUpdate is the outbound robot_update event (§6).
type RobotUpdate struct {
	Row   float64 `json:"row"`
	Col   float64 `json:"col"`
	Angle float64 `json:"angle"`
}

// LogEvent is the outbound log event (§6).
type LogEvent struct {
	Msg string `json:"msg"`
}

// EmergencyStopActivated is the outbound emergency_stop_activated event (§6).
type EmergencyStopActivated struct{}

// tickInterval and ticksPerPct set the battery decay step: 1% every 60 ticks
// at a 1s tick rate (§4.8).
const (
	tickInterval  = time.Second
	ticksPerPct   = 60
	batteryFloor  = 0
	batteryCeil   = 100
	logCoalesceWindow = 200 * time.Millisecond
)

// Hub owns the mutable telemetry fields and fans out every change to
// registered sessions. It implements command.MotionObserver so the Arbiter's
// dispatch fan-out keeps current_motion in sync without a separate wire-up
// at every call site.
type Hub struct {
	mu    sync.RWMutex
	state State

	batteryTicks int

	subsMu sync.Mutex
	subs   map[int]chan interface{}
	nextID int

	logMu      sync.Mutex
	pendingLog string
	logDirty   bool
}

// NewHub returns a Hub with a full (100%) battery and Stop current_motion.
func NewHub() *Hub {
	return &Hub{
		state: State{Battery: batteryCeil, CurrentMotion: command.Stop},
		subs:  make(map[int]chan interface{}),
	}
}

// Subscribe registers a new session and returns a channel of outbound
// events (RobotUpdate, State, LogEvent, EmergencyStopActivated) for it, plus
// an unsubscribe func. The channel is buffered so a slow session doesn't
// block the publisher; once the buffer is full, broadcast drops each new
// event for that session rather than waiting, which suits the
// "idempotent / coalescible" nature of every event published here.
func (h *Hub) Subscribe() (<-chan interface{}, func()) {
	ch := make(chan interface{}, 32)
	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.subsMu.Unlock()

	return ch, func() {
		h.subsMu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.subsMu.Unlock()
	}
}

func (h *Hub) broadcast(event interface{}) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			// Session is behind; drop rather than block the publisher
			// (§5 "no lock is held across a suspension point").
		}
	}
}

// SetCurrentMotion implements command.MotionObserver.
func (h *Hub) SetCurrentMotion(cmd command.Command) {
	h.mu.Lock()
	h.state.CurrentMotion = cmd
	snapshot := h.state
	h.mu.Unlock()
	h.broadcast(snapshot)
}

// SetAutoNavigation updates the auto_navigation mode flag (§3 Telemetry).
func (h *Hub) SetAutoNavigation(enabled bool) {
	h.mu.Lock()
	h.state.AutoNavigation = enabled
	snapshot := h.state
	h.mu.Unlock()
	h.broadcast(snapshot)
}

// SetObjectDetection updates the object_detection mode flag.
func (h *Hub) SetObjectDetection(enabled bool) {
	h.mu.Lock()
	h.state.ObjectDetection = enabled
	snapshot := h.state
	h.mu.Unlock()
	h.broadcast(snapshot)
}

// Snapshot returns the current telemetry state.
func (h *Hub) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// EmergencyActivated publishes the emergency_stop_activated event (§6), in
// addition to the current_motion update the Arbiter's own Stop dispatch
// already triggers via SetCurrentMotion.
func (h *Hub) EmergencyActivated() {
	h.broadcast(EmergencyStopActivated{})
}

// OnPose is a pose.Listener: every pose change publishes a robot_update
// (§4.2 "Publish a snapshot to telemetry fan-out").
func (h *Hub) OnPose(p pose.Pose) {
	h.broadcast(RobotUpdate{Row: p.Y, Col: p.X, Angle: p.Theta})
}

// Log publishes a log event, coalescing bursts within logCoalesceWindow into
// a single outbound message carrying the latest text (§4.8).
func (h *Hub) Log(msg string) {
	h.logMu.Lock()
	alreadyPending := h.logDirty
	h.pendingLog = msg
	h.logDirty = true
	h.logMu.Unlock()

	if alreadyPending {
		return
	}

	go func() {
		time.Sleep(logCoalesceWindow)
		h.logMu.Lock()
		out := h.pendingLog
		h.logDirty = false
		h.logMu.Unlock()
		h.broadcast(LogEvent{Msg: out})
	}()
}

// RunBatteryTicker decays battery 1% every ticksPerPct ticks (1 tick/sec)
// until ctx is cancelled (§4.8, §5 "Telemetry tick task (1 Hz)"). Built on
// channerics.NewTicker for the same done-channel-driven ticker idiom used
// throughout this module's concurrency.
func (h *Hub) RunBatteryTicker(ctx context.Context) {
	ticks := channerics.NewTicker(ctx.Done(), tickInterval)
	for range ticks {
		h.mu.Lock()
		h.batteryTicks++
		if h.batteryTicks >= ticksPerPct {
			h.batteryTicks = 0
			if h.state.Battery > batteryFloor {
				h.state.Battery--
			}
		}
		snapshot := h.state
		h.mu.Unlock()
		h.broadcast(snapshot)
	}
}
