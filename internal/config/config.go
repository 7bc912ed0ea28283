package config

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tiiuae/survey-guidance/internal/guidance"
	"github.com/tiiuae/survey-guidance/internal/telemetry"
	"github.com/tiiuae/survey-guidance/internal/types"
	"github.com/tiiuae/survey-guidance/internal/waypoints"
)

const (
	MinAltitude = 1.5
	MaxAltitude = 4.0
	MinMarkerID = 0
	MaxMarkerID = 100
)

type Config struct {
	DeviceID  string           `yaml:"device_id" toml:"device_id"`
	MQTT      MQTT             `yaml:"mqtt" toml:"mqtt"`
	Flight    Flight           `yaml:"flight" toml:"flight"`
	Mission   Mission          `yaml:"mission" toml:"mission"`
	Camera    Camera           `yaml:"camera" toml:"camera"`
	Planner   Planner          `yaml:"planner" toml:"planner"`
	Payload   Payload          `yaml:"payload" toml:"payload"`
	Telemetry telemetry.Topics `yaml:"telemetry" toml:"telemetry"`
	FlightLog FlightLog        `yaml:"flight_log" toml:"flight_log"`
}

type MQTT struct {
	Broker          string        `yaml:"broker" toml:"broker"`
	ClientID        string        `yaml:"client_id" toml:"client_id"`
	PrivateKey      string        `yaml:"private_key" toml:"private_key"`
	Algorithm       string        `yaml:"algorithm" toml:"algorithm"`
	Audience        string        `yaml:"audience" toml:"audience"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts" toml:"connect_attempts"`
	StateInterval   time.Duration `yaml:"state_interval" toml:"state_interval"`
}

type Flight struct {
	LinearVelocity   float64       `yaml:"linear_velocity" toml:"linear_velocity"`
	YawVelocity      float64       `yaml:"yaw_velocity" toml:"yaw_velocity"`
	PositionAccuracy float64       `yaml:"position_accuracy" toml:"position_accuracy"`
	YawAccuracy      float64       `yaml:"yaw_accuracy" toml:"yaw_accuracy"`
	TakeoffHeight    float64       `yaml:"takeoff_height" toml:"takeoff_height"`
	TakeoffSpeed     float64       `yaml:"takeoff_speed" toml:"takeoff_speed"`
	TakeoffRadius    float64       `yaml:"takeoff_radius" toml:"takeoff_radius"`
	TakeoffYawRange  float64       `yaml:"takeoff_yaw_range" toml:"takeoff_yaw_range"`
	LandingSpeed     float64       `yaml:"landing_speed" toml:"landing_speed"`
	ServiceTimeout   time.Duration `yaml:"service_timeout" toml:"service_timeout"`
}

type Task struct {
	Label string `yaml:"label" toml:"label"`
	Slot  int    `yaml:"slot" toml:"slot"`
}

type Mission struct {
	Altitude        float64       `yaml:"altitude" toml:"altitude"`
	MarkerID        int           `yaml:"marker_id" toml:"marker_id"`
	RequireMarker   bool          `yaml:"require_marker" toml:"require_marker"`
	Tasks           []Task        `yaml:"tasks" toml:"tasks"`
	IgnoreUnmatched bool          `yaml:"ignore_unmatched_detections" toml:"ignore_unmatched_detections"`
	BatteryCritical float64       `yaml:"battery_critical" toml:"battery_critical"`
	Waypoints       []interface{} `yaml:"waypoints" toml:"waypoints"`
	ScanLength      int           `yaml:"scan_length" toml:"scan_length"`
	DeployAltitude  float64       `yaml:"deploy_altitude" toml:"deploy_altitude"`
	SettleTime      time.Duration `yaml:"settle_time" toml:"settle_time"`
	PostDeployTime  time.Duration `yaml:"post_deploy_time" toml:"post_deploy_time"`
	TickInterval    time.Duration `yaml:"tick_interval" toml:"tick_interval"`
	StatusInterval  time.Duration `yaml:"status_interval" toml:"status_interval"`
}

type Camera struct {
	ImageSize    float64 `yaml:"image_size" toml:"image_size"`
	HalfFOV      float64 `yaml:"half_fov" toml:"half_fov"`
	VerticalBias float64 `yaml:"vertical_bias" toml:"vertical_bias"`
}

type Planner struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type Payload struct {
	Mode       string        `yaml:"mode" toml:"mode"` // "ros2" or "serial"
	Topic      string        `yaml:"topic" toml:"topic"`
	SerialPort string        `yaml:"serial_port" toml:"serial_port"`
	BaudRate   int           `yaml:"baud_rate" toml:"baud_rate"`
	AckTimeout time.Duration `yaml:"ack_timeout" toml:"ack_timeout"`
}

type FlightLog struct {
	Path string `yaml:"path" toml:"path"`
}

func Default() Config {
	g := guidance.DefaultConfig()
	tasks := make([]Task, len(g.Tasks))
	for i, t := range g.Tasks {
		tasks[i] = Task{Label: t.Label, Slot: t.Slot}
	}
	cam := telemetry.DefaultCamera(0)

	return Config{
		MQTT: MQTT{
			Broker:          "tcp://localhost:1883",
			Algorithm:       "RS256",
			ConnectTimeout:  5 * time.Second,
			ConnectAttempts: 10,
			StateInterval:   15 * time.Second,
		},
		Flight: Flight{
			LinearVelocity:   g.LinearVelocity,
			YawVelocity:      g.YawVelocity,
			PositionAccuracy: g.PositionAccuracy,
			YawAccuracy:      g.YawAccuracy,
			TakeoffHeight:    g.TakeoffHeight,
			TakeoffSpeed:     g.TakeoffSpeed,
			TakeoffRadius:    g.TakeoffRadius,
			TakeoffYawRange:  g.TakeoffYawRange,
			LandingSpeed:     g.LandingSpeed,
			ServiceTimeout:   30 * time.Second,
		},
		Mission: Mission{
			Altitude:        3.5,
			MarkerID:        g.MarkerID,
			RequireMarker:   g.RequireMarker,
			Tasks:           tasks,
			BatteryCritical: g.BatteryCritical,
			DeployAltitude:  g.DeployAltitude,
			SettleTime:      g.SettleTime,
			PostDeployTime:  g.PostDeployTime,
			TickInterval:    g.TickInterval,
			StatusInterval:  g.StatusInterval,
		},
		Camera: Camera{
			ImageSize:    cam.ImageSize,
			HalfFOV:      cam.HalfFOV,
			VerticalBias: cam.VerticalBias,
		},
		Planner: Planner{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Payload: Payload{
			Mode:       "ros2",
			BaudRate:   115200,
			AckTimeout: 2 * time.Second,
		},
		Telemetry: telemetry.DefaultTopics(),
		FlightLog: FlightLog{Path: "flightlog.db"},
	}
}

// Load reads path over the defaults. The format follows the file extension.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.WithMessage(err, "read config")
	}
	if err := Decode(filepath.Ext(path), b, &cfg); err != nil {
		return cfg, errors.WithMessagef(err, "parse %s", path)
	}
	return cfg, cfg.Validate()
}

func Decode(ext string, b []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	case ".toml":
		_, err := toml.Decode(string(b), cfg)
		return err
	default:
		return errors.Errorf("unsupported config format %q", ext)
	}
}

// Validate rejects values the vehicle must not fly with.
func (c Config) Validate() error {
	m := c.Mission
	switch {
	case m.Altitude < MinAltitude || m.Altitude > MaxAltitude || math.IsNaN(m.Altitude):
		return errors.Errorf("altitude %v outside [%v, %v]", m.Altitude, MinAltitude, MaxAltitude)
	case m.MarkerID < MinMarkerID || m.MarkerID > MaxMarkerID:
		return errors.Errorf("marker id %d outside [%d, %d]", m.MarkerID, MinMarkerID, MaxMarkerID)
	case m.BatteryCritical <= 0 || m.BatteryCritical >= 1:
		return errors.Errorf("battery critical threshold %v outside (0, 1)", m.BatteryCritical)
	case m.DeployAltitude <= 0:
		return errors.Errorf("deploy altitude %v must be positive", m.DeployAltitude)
	case m.ScanLength < 0:
		return errors.Errorf("scan length %d must not be negative", m.ScanLength)
	case m.TickInterval <= 0:
		return errors.Errorf("tick interval %v must be positive", m.TickInterval)
	}

	seen := make(map[string]bool, len(m.Tasks))
	for _, t := range m.Tasks {
		if t.Label == "" {
			return errors.New("task without label")
		}
		if seen[t.Label] {
			return errors.Errorf("duplicate task %q", t.Label)
		}
		seen[t.Label] = true
	}

	f := c.Flight
	if f.LinearVelocity <= 0 || f.YawVelocity <= 0 || f.TakeoffSpeed <= 0 || f.LandingSpeed <= 0 {
		return errors.New("velocities must be positive")
	}
	if f.PositionAccuracy <= 0 || f.YawAccuracy <= 0 || f.TakeoffRadius <= 0 || f.TakeoffYawRange <= 0 {
		return errors.New("accuracies must be positive")
	}
	if f.TakeoffHeight <= 0 {
		return errors.Errorf("takeoff height %v must be positive", f.TakeoffHeight)
	}

	if c.Camera.ImageSize <= 0 {
		return errors.Errorf("camera image size %v must be positive", c.Camera.ImageSize)
	}

	switch c.Payload.Mode {
	case "ros2":
	case "serial":
		if c.Payload.SerialPort == "" {
			return errors.New("serial payload needs a serial_port")
		}
	default:
		return errors.Errorf("unknown payload mode %q", c.Payload.Mode)
	}

	if len(m.Waypoints) > 0 {
		return waypoints.Validate(m.Waypoints)
	}
	return nil
}

// Route returns the configured waypoints, or the survey lane pattern for the
// altitude when none are configured, together with the scan length.
func (c Config) Route() (types.Mission, int, error) {
	if len(c.Mission.Waypoints) > 0 {
		mission, err := waypoints.Parse(c.Mission.Waypoints)
		if err != nil {
			return nil, 0, err
		}
		return mission, c.Mission.ScanLength, nil
	}

	mission, scanLength := waypoints.SurveyLanes(c.Mission.Altitude, c.Camera.HalfFOV)
	if c.Mission.ScanLength > 0 {
		scanLength = c.Mission.ScanLength
	}
	return mission, scanLength, nil
}

func (c Config) Guidance(scanLength int) guidance.Config {
	f, m := c.Flight, c.Mission
	tasks := make([]guidance.Task, len(m.Tasks))
	for i, t := range m.Tasks {
		tasks[i] = guidance.Task{Label: t.Label, Slot: t.Slot}
	}

	return guidance.Config{
		LinearVelocity:   f.LinearVelocity,
		YawVelocity:      f.YawVelocity,
		PositionAccuracy: f.PositionAccuracy,
		YawAccuracy:      f.YawAccuracy,

		TakeoffHeight:   f.TakeoffHeight,
		TakeoffSpeed:    f.TakeoffSpeed,
		TakeoffRadius:   f.TakeoffRadius,
		TakeoffYawRange: f.TakeoffYawRange,
		LandingSpeed:    f.LandingSpeed,

		BatteryCritical: m.BatteryCritical,
		MarkerID:        m.MarkerID,
		RequireMarker:   m.RequireMarker,
		Tasks:           tasks,
		IgnoreUnmatched: m.IgnoreUnmatched,

		DeployAltitude: m.DeployAltitude,
		SettleTime:     m.SettleTime,
		PostDeployTime: m.PostDeployTime,

		ScanLength:     scanLength,
		TickInterval:   m.TickInterval,
		StatusInterval: m.StatusInterval,
	}
}

func (c Config) CameraModel() telemetry.Camera {
	return telemetry.Camera{
		ImageSize:    c.Camera.ImageSize,
		HalfFOV:      c.Camera.HalfFOV,
		VerticalBias: c.Camera.VerticalBias,
		Altitude:     c.Mission.Altitude,
	}
}
