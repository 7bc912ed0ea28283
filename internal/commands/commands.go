package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tiiuae/survey-guidance/internal/cloudlink"
	"github.com/tiiuae/survey-guidance/internal/types"
)

type controlCommand struct {
	Command   string
	Payload   string
	Timestamp time.Time
}

type commandHandler struct {
	broker   cloudlink.Broker
	deviceID string
	commands chan string
}

func New(broker cloudlink.Broker, deviceID string) types.MessageHandler {
	return &commandHandler{broker, deviceID, make(chan string, 10)}
}

func (c *commandHandler) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	log.Printf("Subscribing to MQTT commands")
	commandTopic := cloudlink.Topic(c.deviceID, "commands") + "/"
	err := cloudlink.Subscribe(c.broker, fmt.Sprintf("%v#", commandTopic), func(client mqtt.Client, msg mqtt.Message) {
		subfolder := strings.TrimPrefix(msg.Topic(), commandTopic)
		switch subfolder {
		case "control":
			log.Printf("Got control command: %v", string(msg.Payload()))
			select {
			case c.commands <- string(msg.Payload()):
			default:
				log.Printf("Command queue full, dropping: %v", string(msg.Payload()))
			}
		default:
			log.Printf("Unknown command subfolder: %v", subfolder)
		}
	})
	if err != nil {
		log.Fatalf("Error on subscribe: %v", err)
	}

	wg.Add(1)
	go c.handleControlCommands(ctx, wg, post)
}

func (c *commandHandler) Receive(message types.Message) {
}

// handleControlCommands waits for commands and posts them on the bus until
// ctx is done.
func (c *commandHandler) handleControlCommands(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case command := <-c.commands:
			c.handleControlCommand(command, post)
		}
	}
}

func (c *commandHandler) handleControlCommand(command string, post types.PostFn) {
	var cmd controlCommand
	err := json.Unmarshal([]byte(command), &cmd)
	if err != nil {
		log.Printf("Could not unmarshal command: %v", err)
		return
	}

	switch cmd.Command {
	case "land-now":
		log.Printf("Operator requesting immediate landing")
		post(types.CreateMessage(types.MessageLandNow, "operator", c.deviceID, types.LandNow{}))
	case "abort-mission":
		log.Printf("Operator requesting mission abort")
		reason := cmd.Payload
		if reason == "" {
			reason = "no reason given"
		}
		post(types.CreateMessage(types.MessageAbortMission, "operator", c.deviceID, types.AbortMission{Reason: reason}))
	default:
		log.Printf("Unknown command: %v", command)
	}
}
