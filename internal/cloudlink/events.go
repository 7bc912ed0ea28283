package cloudlink

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// Forwarded lists the bus messages that are published as ground station
// events. High-rate telemetry stays on the vehicle.
var Forwarded = map[string]bool{
	types.MessageStateChanged:    true,
	types.MessageGoalSent:        true,
	types.MessageGoalResolved:    true,
	types.MessagePayloadDeployed: true,
	types.MessageLandingLatched:  true,
	types.MessageObjectDetected:  true,
	types.MessageMissionEnded:    true,
	types.MessageLandNow:         true,
	types.MessageAbortMission:    true,
}

type deviceState struct {
	StartedAt time.Time `json:"started_at"`
	Message   string    `json:"message"`
}

type missionState struct {
	Timestamp time.Time           `json:"timestamp"`
	Status    types.MissionStatus `json:"status"`
}

type events struct {
	broker   Broker
	deviceID string
	interval time.Duration
	inbox    chan types.Message

	mu     sync.Mutex
	status *types.MissionStatus
}

// NewEvents publishes mission events on events/<message_type> and the latest
// mission status on events/mission-state every interval.
func NewEvents(broker Broker, deviceID string, interval time.Duration) types.MessageHandler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &events{
		broker:   broker,
		deviceID: deviceID,
		interval: interval,
		inbox:    make(chan types.Message, 64),
	}
}

func (e *events) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	e.publishDeviceState()

	wg.Add(2)
	go e.runEventLoop(ctx, wg)
	go e.runMissionState(ctx, wg)
}

func (e *events) Receive(message types.Message) {
	if message.MessageType == types.MessageMissionStatus {
		status := message.Message.(types.MissionStatus)
		e.mu.Lock()
		e.status = &status
		e.mu.Unlock()
		return
	}
	if !Forwarded[message.MessageType] {
		return
	}

	select {
	case e.inbox <- message:
	default:
		log.Printf("CLOUDLINK: Inbox full, dropping %s", message.MessageType)
	}
}

func (e *events) runEventLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return
		case msg := <-e.inbox:
			e.publishEvent(msg)
		}
	}
}

// drain flushes what is left so the final mission-ended event gets out.
func (e *events) drain() {
	for {
		select {
		case msg := <-e.inbox:
			e.publishEvent(msg)
		default:
			return
		}
	}
}

func (e *events) publishEvent(msg types.Message) {
	out, err := msg.ToJsonMessage()
	if err != nil {
		log.Printf("CLOUDLINK: Could not marshal %s: %v", msg.MessageType, err)
		return
	}
	b, err := json.Marshal(out)
	if err != nil {
		log.Printf("CLOUDLINK: Could not marshal %s: %v", msg.MessageType, err)
		return
	}
	if err := Publish(e.broker, Topic(e.deviceID, "events", msg.MessageType), Retain, b); err != nil {
		log.Printf("CLOUDLINK: %v", err)
	}
}

func (e *events) runMissionState(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishMissionState()
		}
	}
}

func (e *events) publishMissionState() {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	if status == nil {
		return
	}

	b, _ := json.Marshal(missionState{Timestamp: time.Now().UTC(), Status: *status})
	if err := Publish(e.broker, Topic(e.deviceID, "events", "mission-state"), Retain, b); err != nil {
		log.Printf("CLOUDLINK: %v", err)
	}
}

func (e *events) publishDeviceState() {
	msg := deviceState{
		StartedAt: time.Now().UTC(),
		Message:   "survey guidance started",
	}
	b, _ := json.Marshal(msg)
	if err := Publish(e.broker, Topic(e.deviceID, "state"), Retain, b); err != nil {
		log.Printf("CLOUDLINK: %v", err)
	}
}
