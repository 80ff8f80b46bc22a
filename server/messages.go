package server

// inboundEnvelope is the outer {type, payload-fields} shape every inbound
// operator message arrives in (§6). Fields are flattened rather than nested
// under a "payload" key since every concrete inbound message in §6 is a flat
// object; unused fields for a given type are simply absent.
type inboundEnvelope struct {
	Type string `json:"type"`

	Forward int `json:"forward"`
	Turn    int `json:"turn"`

	Row int `json:"row"`
	Col int `json:"col"`

	Cells [][2]int `json:"cells"`

	ForwardDelay   *float64 `json:"forward_delay"`
	TurnLeftDelay  *float64 `json:"turn_left_delay"`
	TurnRightDelay *float64 `json:"turn_right_delay"`

	Command string `json:"command"`

	Distance *float64 `json:"distance"`
	Angle    *float64 `json:"angle"`
}

// Inbound message type tags (§6).
const (
	typeControl                 = "control"
	typeEmergencyStop            = "emergency_stop"
	typeClearEmergency           = "clear_emergency"
	typeNavigateTo               = "navigate_to"
	typeClearTarget               = "clear_target"
	typeResetStart                = "reset_start"
	typeGoUp                      = "go_up"
	typeTurn90Left                = "turn_90_left"
	typeTurn90Right                = "turn_90_right"
	typeUpdateObstacles            = "update_obstacles"
	typeUpdateTiming                = "update_timing"
	typeCalibrateCommand             = "calibrate_command"
	typeApplyCalibration              = "apply_calibration"
	typeRequestCalibrationValues        = "request_calibration_values"
)

// Outbound message type tags (§6); attached to payloads by wireEnvelope.
const (
	wireRobotUpdate             = "robot_update"
	wireTelemetry               = "telemetry"
	wireLog                     = "log"
	wireCalibrationValues       = "calibration_values"
	wireEmergencyStopActivated  = "emergency_stop_activated"
)

// calibrationValues is the outbound calibration_values reply (§6).
type calibrationValues struct {
	MoveDistance float64 `json:"move_distance"`
	TurnAngle    float64 `json:"turn_angle"`
}
