package flight

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/tiiuae/survey-guidance/internal/cloudlink"
	"github.com/tiiuae/survey-guidance/internal/types"
)

type goalMessage struct {
	GoalID string `json:"goal_id"`
	types.FlightGoal
}

type cancelMessage struct {
	GoalID string `json:"goal_id"`
}

type statusMessage struct {
	GoalID string `json:"goal_id"`
	Status int    `json:"status"`
}

// MQTTExecutor bridges goals to the flight executor over the device's MQTT
// topics.
type MQTTExecutor struct {
	broker   cloudlink.Broker
	deviceID string
}

func NewMQTTExecutor(broker cloudlink.Broker, deviceID string) *MQTTExecutor {
	return &MQTTExecutor{broker, deviceID}
}

func (e *MQTTExecutor) Submit(ctx context.Context, id string, goal types.FlightGoal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(goalMessage{id, goal})
	if err != nil {
		return errors.WithMessage(err, "encode goal")
	}
	return cloudlink.Publish(e.broker, cloudlink.Topic(e.deviceID, "flight", "goal"), false, b)
}

func (e *MQTTExecutor) Cancel(id string) error {
	b, _ := json.Marshal(cancelMessage{id})
	return cloudlink.Publish(e.broker, cloudlink.Topic(e.deviceID, "flight", "cancel"), false, b)
}

// Listen forwards every status report to handle.
func (e *MQTTExecutor) Listen(handle func(id string, outcome types.GoalOutcome)) error {
	return cloudlink.Subscribe(e.broker, cloudlink.Topic(e.deviceID, "flight", "status"), func(client mqtt.Client, msg mqtt.Message) {
		var status statusMessage
		if err := json.Unmarshal(msg.Payload(), &status); err != nil {
			log.Printf("DISPATCH: Could not unmarshal status: %v", err)
			return
		}
		outcome, err := types.ParseGoalOutcome(status.Status)
		if err != nil {
			log.Printf("DISPATCH: %v", err)
		}
		handle(status.GoalID, outcome)
	})
}

// WaitAvailable blocks until the executor announces itself online.
func (e *MQTTExecutor) WaitAvailable(ctx context.Context, timeout time.Duration) error {
	return cloudlink.WaitOnline(ctx, e.broker, cloudlink.Topic(e.deviceID, "flight", "available"), timeout, ErrServiceUnavailable)
}
