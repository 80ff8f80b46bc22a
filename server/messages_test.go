package server

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"tankctl/telemetry"
)

func TestClassify(t *testing.T) {
	Convey("Given telemetry events of every outbound kind", t, func() {
		Convey("classify tags each with its wire type", func() {
			typ, _ := classify(telemetry.RobotUpdate{Row: 1, Col: 2, Angle: 90})
			So(typ, ShouldEqual, wireRobotUpdate)

			typ, _ = classify(telemetry.LogEvent{Msg: "hi"})
			So(typ, ShouldEqual, wireLog)

			typ, _ = classify(telemetry.EmergencyStopActivated{})
			So(typ, ShouldEqual, wireEmergencyStopActivated)

			typ, _ = classify(telemetry.State{Battery: 50})
			So(typ, ShouldEqual, wireTelemetry)

			typ, _ = classify(calibrationValues{MoveDistance: 1, TurnAngle: 90})
			So(typ, ShouldEqual, wireCalibrationValues)

			typ, _ = classify(logPayload{Msg: "warn"})
			So(typ, ShouldEqual, wireLog)
		})
	})
}

func TestWireEnvelope(t *testing.T) {
	Convey("Given a robot_update payload", t, func() {
		payload := telemetry.RobotUpdate{Row: 3, Col: 4, Angle: 180}

		Convey("wireEnvelope flattens payload fields alongside a type tag", func() {
			env := wireEnvelope(wireRobotUpdate, payload)
			So(env["type"], ShouldEqual, wireRobotUpdate)
			So(env["row"], ShouldEqual, 3)
			So(env["col"], ShouldEqual, 4)
			So(env["angle"], ShouldEqual, 180)

			b, err := json.Marshal(env)
			So(err, ShouldBeNil)

			var roundTrip map[string]interface{}
			So(json.Unmarshal(b, &roundTrip), ShouldBeNil)
			So(roundTrip["type"], ShouldEqual, wireRobotUpdate)
		})
	})
}

func TestInboundEnvelopeDecoding(t *testing.T) {
	Convey("Given a raw navigate_to message", t, func() {
		raw := []byte(`{"type":"navigate_to","row":5,"col":7}`)

		Convey("it decodes into the flat envelope", func() {
			var msg inboundEnvelope
			So(json.Unmarshal(raw, &msg), ShouldBeNil)
			So(msg.Type, ShouldEqual, typeNavigateTo)
			So(msg.Row, ShouldEqual, 5)
			So(msg.Col, ShouldEqual, 7)
		})
	})

	Convey("Given a raw apply_calibration message with optional fields", t, func() {
		raw := []byte(`{"type":"apply_calibration","distance":1.5}`)

		Convey("angle stays nil while distance is populated", func() {
			var msg inboundEnvelope
			So(json.Unmarshal(raw, &msg), ShouldBeNil)
			So(msg.Type, ShouldEqual, typeApplyCalibration)
			So(*msg.Distance, ShouldEqual, 1.5)
			So(msg.Angle, ShouldBeNil)
		})
	})
}
