package ros2app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/rclgo/pkg/rclgo"
	"github.com/tiiuae/rclgo/pkg/rclgo/typemap"
)

type Subscription struct {
	TopicName   string
	MessageType string
	Handler     rclgo.SubscriptionCallback
}

// Subscriptions collects topic handlers for one node and spins them together.
type Subscriptions struct {
	rclNode       *rclgo.Node
	subscriptions []*Subscription
}

func (ss *Subscriptions) Add(topicName string, messageType string, subscriptionCallback rclgo.SubscriptionCallback) {
	ss.subscriptions = append(ss.subscriptions, &Subscription{topicName, messageType, subscriptionCallback})
}

func NewSubscriptions(rclNode *rclgo.Node) *Subscriptions {
	return &Subscriptions{rclNode, make([]*Subscription, 0)}
}

// Subscribe creates every subscription and spins each one until ctx is done.
func (ss *Subscriptions) Subscribe(ctx context.Context, wg *sync.WaitGroup) error {
	for _, s := range ss.subscriptions {
		ros2msg, ok := typemap.GetMessage(s.MessageType)
		if !ok {
			return errors.Errorf("Unable to map message type: %s", s.MessageType)
		}
		sub, err := ss.rclNode.NewSubscription(s.TopicName, ros2msg, s.Handler)
		if err != nil {
			return errors.WithMessagef(err, "Unable to subscribe to topic %s", s.TopicName)
		}

		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			defer sub.Close()
			err := sub.Spin(ctx, 5*time.Second)
			if err != nil && ctx.Err() == nil {
				log.Printf("Subscription %s failed: %v", topic, err)
			}
		}(s.TopicName)
	}

	return nil
}
