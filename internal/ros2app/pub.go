package ros2app

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	builtin_interfaces "github.com/tiiuae/rclgo-msgs/builtin_interfaces/msg"
	geometry_msgs "github.com/tiiuae/rclgo-msgs/geometry_msgs/msg"
	nav_msgs "github.com/tiiuae/rclgo-msgs/nav_msgs/msg"
	std_msgs "github.com/tiiuae/rclgo-msgs/std_msgs/msg"
	"github.com/tiiuae/rclgo/pkg/rclgo"
	"github.com/tiiuae/rclgo/pkg/rclgo/typemap"
	rostypes "github.com/tiiuae/rclgo/pkg/rclgo/types"

	"github.com/tiiuae/survey-guidance/internal/types"
)

func NewPublisher(rclNode *rclgo.Node, topicName string, messageType string) (*rclgo.Publisher, error) {
	ros2msg, ok := typemap.GetMessage(messageType)
	if !ok {
		return nil, errors.Errorf("Unable to map message type: %s", messageType)
	}
	opts := rclgo.NewDefaultPublisherOptions()
	opts.Qos.Reliability = rclgo.RmwQosReliabilityPolicySystemDefault
	pub, err := rclNode.NewPublisher(topicName, ros2msg, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "Unable to create publisher for %s", topicName)
	}

	return pub, nil
}

func CreateString(value string) rostypes.Message {
	rosmsg := std_msgs.NewString()
	rosmsg.Data = value
	return rosmsg
}

func CreateInt32(value int32) rostypes.Message {
	rosmsg := std_msgs.NewInt32()
	rosmsg.Data = value
	return rosmsg
}

// CreatePath converts waypoints to a nav_msgs/Path in the map frame.
func CreatePath(points []types.Waypoint, stamp time.Time) *nav_msgs.Path {
	path := nav_msgs.NewPath()
	path.Header = *header(stamp)
	path.Poses = make([]geometry_msgs.PoseStamped, len(points))
	for i, p := range points {
		point := geometry_msgs.NewPoint()
		point.X = p.X
		point.Y = p.Y
		point.Z = p.Z
		pose := geometry_msgs.NewPoseStamped()
		pose.Header = *header(stamp)
		pose.Pose.Position = *point
		path.Poses[i] = *pose
	}

	return path
}

func header(stamp time.Time) *std_msgs.Header {
	h := std_msgs.NewHeader()
	h.Stamp = *builtin_interfaces.NewTime()
	h.Stamp.Sec = int32(stamp.Unix())
	h.Stamp.Nanosec = uint32(stamp.Nanosecond())
	h.FrameId = "map"
	return h
}

// PathPublisher displays routes as nav_msgs/Path, one publisher per topic.
type PathPublisher struct {
	node *rclgo.Node

	mu         sync.Mutex
	publishers map[string]*rclgo.Publisher
}

func NewPathPublisher(node *rclgo.Node) *PathPublisher {
	return &PathPublisher{node: node, publishers: make(map[string]*rclgo.Publisher)}
}

func (p *PathPublisher) DisplayPath(name string, path []types.Waypoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pub, ok := p.publishers[name]
	if !ok {
		var err error
		pub, err = NewPublisher(p.node, name, "nav_msgs/Path")
		if err != nil {
			log.Printf("ROS2: %v", err)
			return
		}
		p.publishers[name] = pub
	}

	if err := pub.Publish(CreatePath(path, time.Now())); err != nil {
		log.Printf("ROS2: Failed to publish %s: %v", name, err)
	}
}

func (p *PathPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			log.Printf("ROS2: Failed to close %s publisher: %v", name, err)
		}
	}
	p.publishers = make(map[string]*rclgo.Publisher)
}
