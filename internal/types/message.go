package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope every handler on the bus receives. Message holds a
// typed payload inside the process and a JSON string once serialized for MQTT.
type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

// StringMessage is the wire form of Message with a still-encoded payload.
type StringMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ID          string    `json:"id"`
	MessageType string    `json:"message_type"`
	Message     string    `json:"message"`
}

// ToJsonMessage serializes the payload so the envelope can leave the process.
func (message *Message) ToJsonMessage() (Message, error) {
	b, err := json.Marshal(message.Message)
	if err != nil {
		return Message{}, err
	}

	return message.Replace(string(b)), nil
}

func (message *StringMessage) Replace(v interface{}) Message {
	return Message{
		message.Timestamp,
		message.From,
		message.To,
		message.ID,
		message.MessageType,
		v,
	}
}

func (message *Message) Replace(v interface{}) Message {
	return Message{
		message.Timestamp,
		message.From,
		message.To,
		message.ID,
		message.MessageType,
		v,
	}
}

func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.NewString(),
		messageType,
		message,
	}
}
