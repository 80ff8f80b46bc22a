package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"

	"tankctl/command"
	"tankctl/grid"
	"tankctl/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pingResolution = 5 * time.Second
	pongWait       = pingResolution * 4
	maxMessageSize = 8192

	writeDeadline    = 2 * time.Second
	readDeadline     = 2 * time.Second
	closeGracePeriod = time.Second
)

// Logger is the minimal logging surface a session needs.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// ErrSessionCongested indicates a session's duplex socket could not acquire
// its read or write turn before its deadline; the caller should treat the
// session as dead.
var ErrSessionCongested = errors.New("session socket congested")

// duplexSocket gives a session's goroutines (ping, read, publish) turn-taking
// access to one underlying websocket.Conn via two buffered-1 semaphore
// channels, since gorilla/websocket allows at most one reader and one writer
// at a time but a session drives both from more than one goroutine.
type duplexSocket struct {
	readTurn  chan struct{}
	writeTurn chan struct{}
	conn      *websocket.Conn
}

func newDuplexSocket(conn *websocket.Conn) *duplexSocket {
	return &duplexSocket{
		readTurn:  make(chan struct{}, 1),
		writeTurn: make(chan struct{}, 1),
		conn:      conn,
	}
}

// Conn returns the underlying connection, for one-time setup (pong handler,
// read limits) that must happen before any Read/Write call.
func (d *duplexSocket) Conn() *websocket.Conn {
	return d.conn
}

// Read takes the session's read turn before running fn against the conn.
func (d *duplexSocket) Read(ctx context.Context, fn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case d.readTurn <- struct{}{}:
		defer func() { <-d.readTurn }()
		return fn(d.conn)
	case <-time.After(readDeadline):
		return ErrSessionCongested
	}
}

// Write takes the session's write turn before running fn against the conn.
func (d *duplexSocket) Write(ctx context.Context, fn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case d.writeTurn <- struct{}{}:
		defer func() { <-d.writeTurn }()
		return fn(d.conn)
	case <-time.After(writeDeadline):
		return ErrSessionCongested
	}
}

// Close sends a close frame and tears down the connection, taking both turns
// first so no in-flight Read/Write races the teardown.
func (d *duplexSocket) Close() {
	d.readTurn <- struct{}{}
	d.writeTurn <- struct{}{}

	_ = d.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = d.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	time.Sleep(closeGracePeriod)
	d.conn.Close()
}

func isUnexpectedClose(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	)
}

// session is one connected operator (§3 Session): a bidirectional
// JSON-framed message channel attached on connect, detached on disconnect.
// It owns no persistent identity and no state beyond its duplex socket.
type session struct {
	id     string
	srv    *Server
	ws     *duplexSocket
	logger Logger
}

func newSession(srv *Server, w http.ResponseWriter, r *http.Request) (*session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return &session{id: uuid.NewString(), srv: srv, ws: newDuplexSocket(conn), logger: srv.logger}, nil
}

// serve runs the session until disconnect or ctx cancellation (§5 "Per-session
// I/O tasks (one per connected operator)", "Session disconnect cancels only
// per-session I/O tasks; global state is untouched").
func (s *session) serve(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Infow("session connected", "session_id", s.id)
	}

	events, unsubscribe := s.srv.telemetry.Subscribe()
	defer unsubscribe()

	replies := make(chan interface{}, 8)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.readLoop(groupCtx, replies) })
	group.Go(func() error { return s.pingLoop(groupCtx) })
	group.Go(func() error { return s.publishLoop(groupCtx, events, replies) })

	err := group.Wait()
	s.ws.Close()
	if s.logger != nil {
		s.logger.Infow("session disconnected", "session_id", s.id, "error", err)
	}
	return err
}

func (s *session) pingLoop(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	s.ws.Conn().SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	ticks := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			if time.Since(lastPong) > pongWait {
				return fmt.Errorf("session pong deadline exceeded")
			}
			err := s.ws.Write(ctx, func(c *websocket.Conn) error {
				return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			})
			if err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

// readLoop decodes inbound JSON messages and routes each to the relevant
// subsystem; any failure reading the socket is permanent (§4 "Invalid
// operator input ... rejected with a log entry; never crashes the session").
func (s *session) readLoop(ctx context.Context, replies chan<- interface{}) error {
	for {
		var raw json.RawMessage
		err := s.ws.Read(ctx, func(c *websocket.Conn) error {
			_, data, readErr := c.ReadMessage()
			if readErr != nil {
				return readErr
			}
			raw = data
			return nil
		})
		if err != nil {
			if isUnexpectedClose(err) {
				return err
			}
			return err
		}
		if raw == nil {
			continue
		}

		var msg inboundEnvelope
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil {
			s.logAndNotify("invalid message: "+jsonErr.Error(), replies)
			continue
		}
		s.handle(ctx, msg, replies)
	}
}

func (s *session) handle(ctx context.Context, msg inboundEnvelope, replies chan<- interface{}) {
	switch msg.Type {
	case typeControl:
		ci := command.ControlInput{Forward: msg.Forward, Turn: msg.Turn}
		s.dispatch(ctx, ci.ToCommand(), command.SourceJoystick, replies)

	case typeEmergencyStop:
		if err := s.srv.arbiter.EmergencyStop(ctx); err != nil {
			s.logAndNotify("emergency stop failed: "+err.Error(), replies)
		}
		s.srv.telemetry.EmergencyActivated()

	case typeClearEmergency:
		s.srv.arbiter.Unlatch()

	case typeNavigateTo:
		s.srv.planner.Navigate(ctx, grid.Cell{Row: msg.Row, Col: msg.Col}, s.srv.calib)

	case typeClearTarget:
		s.srv.planner.Cancel(ctx)

	case typeResetStart:
		start := s.srv.startPose
		s.srv.estimator.Reset(start)
		s.srv.virtualRobot.Reset(start)

	case typeGoUp:
		s.srv.planner.GoUpOneCell(ctx, s.srv.calib)

	case typeTurn90Left:
		s.srv.planner.Turn90Left(ctx, s.srv.calib)

	case typeTurn90Right:
		s.srv.planner.Turn90Right(ctx, s.srv.calib)

	case typeUpdateObstacles:
		cells := make([]grid.Cell, 0, len(msg.Cells))
		for _, rc := range msg.Cells {
			cells = append(cells, grid.Cell{Row: rc[0], Col: rc[1]})
		}
		s.srv.grid.ReplaceObstacles(cells)

	case typeUpdateTiming:
		fd, tl, tr := 0.0, 0.0, 0.0
		if msg.ForwardDelay != nil {
			fd = *msg.ForwardDelay
		}
		if msg.TurnLeftDelay != nil {
			tl = *msg.TurnLeftDelay
		}
		if msg.TurnRightDelay != nil {
			tr = *msg.TurnRightDelay
		}
		s.srv.calib.SetTiming(fd, tl, tr)

	case typeCalibrateCommand:
		cmd := command.Command(msg.Command)
		s.dispatch(ctx, cmd, command.SourceOverride, replies)

	case typeApplyCalibration:
		s.srv.calib.SetDistanceAngle(msg.Distance, msg.Angle)

	case typeRequestCalibrationValues:
		replies <- calibrationValues{
			MoveDistance: s.srv.calib.MoveDistance(),
			TurnAngle:    s.srv.calib.TurnAngle(),
		}

	default:
		s.logAndNotify("unknown message type: "+msg.Type, replies)
	}
}

func (s *session) dispatch(ctx context.Context, cmd command.Command, source command.Source, replies chan<- interface{}) {
	if err := s.srv.arbiter.Dispatch(ctx, cmd, source); err != nil {
		s.logAndNotify(fmt.Sprintf("command rejected: %v", err), replies)
	}
}

func (s *session) logAndNotify(msg string, replies chan<- interface{}) {
	if s.logger != nil {
		s.logger.Warnw(msg)
	}
	select {
	case replies <- logPayload{Msg: msg}:
	default:
	}
}

type logPayload struct {
	Msg string `json:"msg"`
}

// publishLoop merges the shared telemetry fan-out with this session's own
// direct replies (e.g. calibration_values, validation errors) into outbound
// writes, mirroring the single-writer-per-socket fan-in idiom used for the
// training estimator's channel merge.
func (s *session) publishLoop(ctx context.Context, events <-chan interface{}, replies <-chan interface{}) error {
	merged := channerics.Merge(ctx.Done(), events, replies)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-merged:
			if !ok {
				return nil
			}
			if err := s.writeEvent(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (s *session) writeEvent(ctx context.Context, event interface{}) error {
	eventType, payload := classify(event)
	return s.ws.Write(ctx, func(c *websocket.Conn) error {
		if err := c.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			return err
		}
		return c.WriteJSON(wireEnvelope(eventType, payload))
	})
}

func classify(event interface{}) (string, interface{}) {
	switch v := event.(type) {
	case telemetry.RobotUpdate:
		return wireRobotUpdate, v
	case telemetry.LogEvent:
		return wireLog, v
	case telemetry.EmergencyStopActivated:
		return wireEmergencyStopActivated, v
	case telemetry.State:
		return wireTelemetry, v
	case calibrationValues:
		return wireCalibrationValues, v
	case logPayload:
		return wireLog, v
	default:
		return wireTelemetry, v
	}
}

// wireEnvelope flattens payload's own JSON fields alongside a "type" tag, so
// the outbound wire shape is `{"type": "...", <payload fields>}` rather than
// a nested object (§6).
func wireEnvelope(eventType string, payload interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if b, err := json.Marshal(payload); err == nil {
		_ = json.Unmarshal(b, &out)
	}
	out["type"] = eventType
	return out
}
