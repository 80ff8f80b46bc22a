// tankctl is the vehicle-side process: it loads runtime configuration,
// wires the command arbiter, pose estimator, planner, camera capture,
// detector, auto-navigation policy, virtual robot mirror, and telemetry hub
// together, then serves the operator HTTP/WebSocket surface until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tankctl/actuator"
	"tankctl/autonav"
	"tankctl/camera"
	"tankctl/command"
	"tankctl/config"
	"tankctl/detection"
	"tankctl/grid"
	"tankctl/planner"
	"tankctl/pose"
	"tankctl/server"
	"tankctl/telemetry"
	"tankctl/virtualrobot"
)

var (
	configPath *string
	debug      *bool
)

func init() {
	configPath = flag.String("config", "", "path to a {kind,def} runtime config yaml; falls back to built-in defaults")
	debug = flag.Bool("debug", false, "verbose (development) logging")
	flag.Parse()
}

func loadConfig() (*config.RuntimeConfig, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.FromYaml(*configPath)
}

func newLogger() (*zap.SugaredLogger, error) {
	if *debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	}
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func runApp() error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := actuator.NewSimDriver(logger)
	arbiter := command.New(driver, logger)

	startPose := pose.Pose{X: cfg.StartPose.X, Y: cfg.StartPose.Y, Theta: cfg.StartPose.Theta}
	calib := pose.NewCalibrationParams(
		cfg.Calibration.MoveDistance,
		cfg.Calibration.TurnAngle,
		cfg.Calibration.ForwardDelay,
		cfg.Calibration.TurnDelayLeft,
		cfg.Calibration.TurnDelayRight,
	)

	estimator := pose.NewEstimator(startPose, cfg.GridSize, calib, cfg.PoseHistoryCap)
	vrobot := virtualrobot.New(startPose, cfg.GridSize, calib, cfg.PoseHistoryCap)
	arbiter.AddPoseObserver(estimator)
	arbiter.AddPoseObserver(vrobot)

	hub := telemetry.NewHub()
	arbiter.SetMotionObserver(hub)
	estimator.AddListener(hub.OnPose)

	g := grid.New(cfg.GridSize)
	navPlanner := planner.New(arbiter, g, estimator, logger)
	arbiter.RegisterPreemptable(command.SourcePlanner, navPlanner)
	navPlanner.AddListener(func(state planner.State, reason string) {
		if state == planner.Idle && reason != "" {
			hub.Log("planner stopped: " + reason)
		}
	})

	autoNav := autonav.New(arbiter, cfg.Detector.ClassIDs)
	autoNav.SetEnabled(cfg.AutoNavEnabled)

	var detector detection.Variant
	if cfg.Detector.ModelPath != "" {
		logger.Warnw("detector model configured but no model backend is wired into this core; running without detection", "model_path", cfg.Detector.ModelPath)
	}
	detector = detection.Absent

	source := camera.NewSimSource(cfg.Camera.Width, cfg.Camera.Height)
	capture := camera.New(source, detector, logger)
	capture.AddDetectionListener(func(frame camera.Frame, boxes []detection.Box) {
		autoNav.OnDetections(frame, boxes)
		hub.SetObjectDetection(detector.Loaded())
		hub.SetAutoNavigation(autoNav.Enabled())
	})

	go capture.Run(ctx)
	go hub.RunBatteryTicker(ctx)

	srv := server.NewServer(server.Deps{
		Arbiter:       arbiter,
		Planner:       navPlanner,
		Grid:          g,
		Estimator:     estimator,
		VirtualRobot:  vrobot,
		Calib:         calib,
		Telemetry:     hub,
		Capture:       capture,
		AutoNav:       autoNav,
		StartPose:     startPose,
		CameraQuality: cfg.Camera.JPEGQuality,
		CameraWidth:   cfg.Camera.Width,
		Logger:        logger,
	})

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: srv.Handler(cfg.AllowedOrigins),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("serving", "addr", httpAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sigCh:
		logger.Infow("shutting down")
		cancel()
		_ = httpServer.Close()
	}

	return nil
}

func main() {
	if err := runApp(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
