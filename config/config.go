// Package config loads the command-line/config surface of §6: ports, grid
// size, start pose, camera resolution, initial calibration, detector
// settings, and auto-navigation's initial state.
package config

import (
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// outerConfig is the {kind, def} envelope every config file is wrapped in,
// so a future config registry can dispatch on Kind before specializing Def.
type outerConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// Calibration mirrors pose.CalibrationParams' plain values for (de)serializing
// the initial calibration (§3 CalibrationParams, §6 config surface).
type Calibration struct {
	MoveDistance  float64 `yaml:"moveDistance"`
	TurnAngle     float64 `yaml:"turnAngle"`
	ForwardDelay  float64 `yaml:"forwardDelay"`
	TurnDelayLeft float64 `yaml:"turnDelayLeft"`
	TurnDelayRight float64 `yaml:"turnDelayRight"`
}

// StartPose is the vehicle's pose at startup/reset_start (§6 "start pose").
type StartPose struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Theta float64 `yaml:"theta"`
}

// CameraConfig holds capture/streaming parameters.
type CameraConfig struct {
	Width       int `yaml:"width"`
	Height      int `yaml:"height"`
	JPEGQuality int `yaml:"jpegQuality"`
}

// DetectorConfig holds the detector's model path, confidence floor, and
// class filter (§6 "detector model path/confidence/classes").
type DetectorConfig struct {
	ModelPath  string  `yaml:"modelPath"`
	Confidence float64 `yaml:"confidence"`
	ClassIDs   []int   `yaml:"classIds"`
}

// RuntimeConfig is the fully-resolved runtime configuration (§6).
type RuntimeConfig struct {
	HTTPPort          int            `yaml:"httpPort"`
	WSPort            int            `yaml:"wsPort"`
	GridSize          int            `yaml:"gridSize"`
	StartPose         StartPose      `yaml:"startPose"`
	Camera            CameraConfig   `yaml:"camera"`
	Calibration       Calibration    `yaml:"calibration"`
	Detector          DetectorConfig `yaml:"detector"`
	AutoNavEnabled    bool           `yaml:"autoNavEnabled"`
	PoseHistoryCap    int            `yaml:"poseHistoryCap"`

	// AllowedOrigins lists the operator origins the HTTP/WebSocket surface
	// accepts CORS requests from. Empty means allow-all, the standalone/dev
	// default; a fielded deployment should set this to its operator UI's
	// origin(s).
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Default returns a RuntimeConfig with sane standalone defaults, used when
// no config file is supplied.
func Default() *RuntimeConfig {
	return &RuntimeConfig{
		HTTPPort: 8080,
		WSPort:   8081,
		GridSize: 20,
		StartPose: StartPose{
			X:     10,
			Y:     10,
			Theta: 90,
		},
		Camera: CameraConfig{
			Width:       640,
			Height:      480,
			JPEGQuality: 85,
		},
		Calibration: Calibration{
			MoveDistance:   1.0,
			TurnAngle:      90,
			ForwardDelay:   0.5,
			TurnDelayLeft:  0.4,
			TurnDelayRight: 0.4,
		},
		Detector: DetectorConfig{
			ClassIDs: []int{0},
		},
		AutoNavEnabled: false,
		PoseHistoryCap: 100,
		AllowedOrigins: nil,
	}
}

// FromYaml loads a RuntimeConfig from a {kind, def} envelope file, in the
// same double-unmarshal style the training config loader uses: viper reads
// the outer envelope, then the inner def is re-marshalled and unmarshalled
// into the typed RuntimeConfig, so the on-disk shape can carry a kind tag
// without that tag polluting the typed struct.
func FromYaml(path string) (*RuntimeConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	if err := vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outer := &outerConfig{}
	if err := vp.Unmarshal(outer); err != nil {
		return nil, err
	}

	spec, err := yaml.Marshal(outer.Def)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(spec, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
