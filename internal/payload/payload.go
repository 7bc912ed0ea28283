package payload

import (
	"context"
	"log"

	"github.com/pkg/errors"
	"github.com/tiiuae/rclgo/pkg/rclgo"

	"github.com/tiiuae/survey-guidance/internal/ros2app"
)

const DeployTopic = "deploy_payload"

// ROS2Deployer publishes the slot index as std_msgs/Int32 for the servo node.
type ROS2Deployer struct {
	pub *rclgo.Publisher
}

func NewROS2Deployer(node *rclgo.Node, topic string) (*ROS2Deployer, error) {
	if topic == "" {
		topic = DeployTopic
	}
	pub, err := ros2app.NewPublisher(node, topic, "std_msgs/Int32")
	if err != nil {
		return nil, err
	}
	return &ROS2Deployer{pub}, nil
}

func (d *ROS2Deployer) Deploy(ctx context.Context, slot int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("PAYLOAD: Deploying slot %d", slot)
	return errors.WithMessagef(d.pub.Publish(ros2app.CreateInt32(int32(slot))), "deploy slot %d", slot)
}

func (d *ROS2Deployer) Close() error {
	return d.pub.Close()
}
