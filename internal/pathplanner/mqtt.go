package pathplanner

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tiiuae/survey-guidance/internal/cloudlink"
	"github.com/tiiuae/survey-guidance/internal/types"
)

type pathRequest struct {
	RequestID string      `json:"request_id"`
	Start     types.Point `json:"start"`
	End       types.Point `json:"end"`
}

type pathResponse struct {
	RequestID string        `json:"request_id"`
	Poses     []types.Point `json:"poses"`
}

// MQTTPlanner correlates planner requests and responses by request id.
type MQTTPlanner struct {
	broker   cloudlink.Broker
	deviceID string
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]chan []types.Point
}

func NewMQTTPlanner(broker cloudlink.Broker, deviceID string, timeout time.Duration) *MQTTPlanner {
	return &MQTTPlanner{
		broker:   broker,
		deviceID: deviceID,
		timeout:  timeout,
		pending:  make(map[string]chan []types.Point),
	}
}

// Start subscribes to planner responses.
func (p *MQTTPlanner) Start() error {
	return cloudlink.Subscribe(p.broker, cloudlink.Topic(p.deviceID, "planner", "response"), func(client mqtt.Client, msg mqtt.Message) {
		var resp pathResponse
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
			log.Printf("PLANNER: Could not unmarshal response: %v", err)
			return
		}

		p.mu.Lock()
		ch, ok := p.pending[resp.RequestID]
		delete(p.pending, resp.RequestID)
		p.mu.Unlock()

		if !ok {
			log.Printf("PLANNER: Dropping response for unknown request %s", resp.RequestID)
			return
		}
		ch <- resp.Poses
	})
}

func (p *MQTTPlanner) RequestPath(ctx context.Context, start, end types.Point) ([]types.Point, error) {
	id := uuid.NewString()
	ch := make(chan []types.Point, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	b, err := json.Marshal(pathRequest{id, start, end})
	if err != nil {
		return nil, errors.WithMessage(err, "encode path request")
	}
	if err := cloudlink.Publish(p.broker, cloudlink.Topic(p.deviceID, "planner", "request"), false, b); err != nil {
		return nil, err
	}

	select {
	case poses := <-ch:
		return poses, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.timeout):
		return nil, errors.Errorf("no planner response within %v", p.timeout)
	}
}

// WaitAvailable blocks until the planner announces itself online.
func (p *MQTTPlanner) WaitAvailable(ctx context.Context, timeout time.Duration) error {
	return cloudlink.WaitOnline(ctx, p.broker, cloudlink.Topic(p.deviceID, "planner", "available"), timeout, ErrServiceUnavailable)
}
