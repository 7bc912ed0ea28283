package telemetry

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	geometry_msgs "github.com/tiiuae/rclgo-msgs/geometry_msgs/msg"
	sensor_msgs "github.com/tiiuae/rclgo-msgs/sensor_msgs/msg"
	std_msgs "github.com/tiiuae/rclgo-msgs/std_msgs/msg"
	"github.com/tiiuae/rclgo/pkg/rclgo"

	"github.com/tiiuae/survey-guidance/internal/ros2app"
	"github.com/tiiuae/survey-guidance/internal/types"
)

// Topics names the ROS2 topics telemetry listens on.
type Topics struct {
	Pose         string `yaml:"pose" toml:"pose"`
	Battery      string `yaml:"battery" toml:"battery"`
	Detections   string `yaml:"detections" toml:"detections"`
	MarkerID     string `yaml:"marker_id" toml:"marker_id"`
	MarkerPixels string `yaml:"marker_pixels" toml:"marker_pixels"`
	ObjectPixels string `yaml:"object_pixels" toml:"object_pixels"`
}

func DefaultTopics() Topics {
	return Topics{
		Pose:         "mavros/local_position/pose",
		Battery:      "mavros/battery",
		Detections:   "/object_detection",
		MarkerID:     "/aruco_marker/id",
		MarkerPixels: "/aruco_pose",
		ObjectPixels: "object_pose",
	}
}

type telemetry struct {
	node     *rclgo.Node
	deviceID string
	topics   Topics
	camera   Camera

	// detection topics go quiet once the failsafe has taken over
	suspended atomic.Bool
}

func New(node *rclgo.Node, deviceID string, topics Topics, camera Camera) types.MessageHandler {
	return &telemetry{node: node, deviceID: deviceID, topics: topics, camera: camera}
}

func (t *telemetry) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	subs := ros2app.NewSubscriptions(t.node)
	t.register(subs, post)
	if err := subs.Subscribe(ctx, wg); err != nil {
		log.Fatalf("TELEMETRY: %v", err)
	}
}

func (t *telemetry) Receive(message types.Message) {
	if message.MessageType == types.MessageSuspendTelemetry {
		log.Printf("TELEMETRY: Detections suspended")
		t.suspended.Store(true)
	}
}

func (t *telemetry) register(subs *ros2app.Subscriptions, post types.PostFn) {
	subs.Add(t.topics.Pose, "geometry_msgs/PoseStamped", func(s *rclgo.Subscription) {
		var m geometry_msgs.PoseStamped
		if _, err := s.TakeMessage(&m); err != nil {
			log.Print("TakeMessage failed: pose")
			return
		}
		t.post(post, types.MessageVehiclePose, poseFrom(&m))
	})
	subs.Add(t.topics.Battery, "sensor_msgs/BatteryState", func(s *rclgo.Subscription) {
		var m sensor_msgs.BatteryState
		if _, err := s.TakeMessage(&m); err != nil {
			log.Print("TakeMessage failed: battery")
			return
		}
		t.post(post, types.MessageBatteryState, batteryFrom(&m))
	})
	subs.Add(t.topics.Detections, "std_msgs/String", func(s *rclgo.Subscription) {
		var m std_msgs.String
		if _, err := s.TakeMessage(&m); err != nil {
			log.Print("TakeMessage failed: detections")
			return
		}
		if label, ok := t.detection(m.Data); ok {
			t.post(post, types.MessageObjectDetected, types.ObjectDetected{Label: label})
		}
	})
	subs.Add(t.topics.MarkerID, "std_msgs/Int32", func(s *rclgo.Subscription) {
		var m std_msgs.Int32
		if _, err := s.TakeMessage(&m); err != nil {
			log.Print("TakeMessage failed: marker id")
			return
		}
		if !t.suspended.Load() {
			t.post(post, types.MessageMarkerDetected, types.MarkerDetected{ID: int(m.Data)})
		}
	})

	pixels := func(s *rclgo.Subscription) {
		var m geometry_msgs.Point
		if _, err := s.TakeMessage(&m); err != nil {
			log.Print("TakeMessage failed: pixels")
			return
		}
		if !t.suspended.Load() {
			t.post(post, types.MessageTargetOffset, t.camera.Offset(types.MarkerPixels{X: m.X, Y: m.Y}))
		}
	}
	subs.Add(t.topics.MarkerPixels, "geometry_msgs/Point", pixels)
	subs.Add(t.topics.ObjectPixels, "geometry_msgs/Point", pixels)
}

// detection trims a detector label. Empty labels and suspended telemetry
// produce nothing.
func (t *telemetry) detection(data string) (string, bool) {
	if t.suspended.Load() {
		return "", false
	}
	label := strings.TrimSpace(data)
	return label, label != ""
}

func (t *telemetry) post(post types.PostFn, messageType string, payload interface{}) {
	post(types.CreateMessage(messageType, t.deviceID, t.deviceID, payload))
}

func poseFrom(m *geometry_msgs.PoseStamped) types.VehiclePose {
	p := m.Pose.Position
	return types.VehiclePose{Position: types.Point{X: p.X, Y: p.Y, Z: p.Z}}
}

func batteryFrom(m *sensor_msgs.BatteryState) types.BatteryState {
	return types.BatteryState{
		Percentage: float64(m.Percentage),
		Charge:     float64(m.Charge),
		Voltage:    float64(m.Voltage),
	}
}
