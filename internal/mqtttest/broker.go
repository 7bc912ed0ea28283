package mqtttest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Published struct {
	Topic    string
	Retained bool
	Payload  []byte
}

type subscription struct {
	filter   string
	callback mqtt.MessageHandler
}

// Broker delivers published messages synchronously to matching subscribers
// and keeps every publication for inspection.
type Broker struct {
	mu        sync.Mutex
	subs      []subscription
	retained  map[string][]byte
	published []Published

	// PublishErr, when set, fails every publish.
	PublishErr error
}

func NewBroker() *Broker {
	return &Broker{retained: make(map[string][]byte)}
}

func (b *Broker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if b.PublishErr != nil {
		return &Token{err: b.PublishErr}
	}

	data := toBytes(payload)

	b.mu.Lock()
	b.published = append(b.published, Published{topic, retained, data})
	if retained {
		b.retained[topic] = data
	}
	var matched []mqtt.MessageHandler
	for _, s := range b.subs {
		if match(s.filter, topic) {
			matched = append(matched, s.callback)
		}
	}
	b.mu.Unlock()

	for _, cb := range matched {
		cb(nil, &Message{topic: topic, payload: data, retained: retained})
	}
	return &Token{}
}

func (b *Broker) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	b.subs = append(b.subs, subscription{topic, callback})
	var replay []Published
	for t, p := range b.retained {
		if match(topic, t) {
			replay = append(replay, Published{t, true, p})
		}
	}
	b.mu.Unlock()

	for _, p := range replay {
		callback(nil, &Message{topic: p.Topic, payload: p.Payload, retained: true})
	}
	return &Token{}
}

// Published returns the publications on topic in order.
func (b *Broker) Published(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func match(filter, topic string) bool {
	if strings.HasSuffix(filter, "#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))
	}
	return filter == topic
}

func toBytes(payload interface{}) []byte {
	switch p := payload.(type) {
	case []byte:
		return p
	case string:
		return []byte(p)
	}
	return nil
}

type Token struct {
	err error
}

func (t *Token) Wait() bool                       { return true }
func (t *Token) WaitTimeout(d time.Duration) bool { return true }
func (t *Token) Error() error                     { return t.err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type Message struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 1 }
func (m *Message) Retained() bool    { return m.retained }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}
