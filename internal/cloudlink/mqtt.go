package cloudlink

import (
	"context"
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"log"
	"strings"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// MQTT parameters
const (
	QoS      = 1
	Retain   = false
	Username = "unused"

	PublishTimeout = 5 * time.Second
)

// Broker is the part of mqtt.Client the guidance adapters use.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type Options struct {
	Server          string
	DeviceID        string
	ClientID        string
	PrivateKeyPath  string
	Algorithm       string
	Audience        string
	ConnectTimeout  time.Duration
	ConnectAttempts int
}

// Topic builds the device scoped topic for sub.
func Topic(deviceID string, sub ...string) string {
	return fmt.Sprintf("/devices/%s/%s", deviceID, strings.Join(sub, "/"))
}

// Publish sends payload and waits for the broker to acknowledge it.
func Publish(broker Broker, topic string, retained bool, payload interface{}) error {
	tok := broker.Publish(topic, QoS, retained, payload)
	if !tok.WaitTimeout(PublishTimeout) {
		return errors.Errorf("publish to %s timed out", topic)
	}
	return errors.WithMessagef(tok.Error(), "publish to %s", topic)
}

// Subscribe registers callback on topic and waits for the subscription.
func Subscribe(broker Broker, topic string, callback mqtt.MessageHandler) error {
	tok := broker.Subscribe(topic, QoS, callback)
	if !tok.WaitTimeout(PublishTimeout) {
		return errors.Errorf("subscribe to %s timed out", topic)
	}
	return errors.WithMessagef(tok.Error(), "subscribe to %s", topic)
}

// NewMQTTClient connects to the broker. When a private key is configured the
// password is a signed JWT, otherwise the connection is anonymous.
func NewMQTTClient(o Options) (mqtt.Client, error) {
	log.Printf("address: %v", o.Server)

	clientID := o.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("guidance-%s", o.DeviceID)
	}
	log.Println("Client ID:", clientID)

	opts := mqtt.NewClientOptions().
		AddBroker(o.Server).
		SetClientID(clientID).
		SetProtocolVersion(4) // Use MQTT 3.1.1

	if o.PrivateKeyPath != "" {
		pass, err := signedPassword(o)
		if err != nil {
			return nil, err
		}
		opts = opts.
			SetUsername(Username).
			SetPassword(pass).
			SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client := mqtt.NewClient(opts)

	attempts := o.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		log.Printf("Connecting MQTT...")
		tok := client.Connect()
		if !tok.WaitTimeout(o.ConnectTimeout) {
			log.Println("Connection Timeout")
			continue
		}
		if err := tok.Error(); err != nil {
			return nil, errors.WithMessage(err, "mqtt connect")
		}
		log.Printf("..Connected")
		return client, nil
	}

	return nil, errors.Errorf("mqtt broker %s not reachable after %d attempts", o.Server, attempts)
}

func signedPassword(o Options) (string, error) {
	keyData, err := ioutil.ReadFile(o.PrivateKeyPath)
	if err != nil {
		return "", errors.WithMessage(err, "read private key")
	}

	var key interface{}
	switch o.Algorithm {
	case "RS256":
		key, err = jwt.ParseRSAPrivateKeyFromPEM(keyData)
	case "ES256":
		key, err = jwt.ParseECPrivateKeyFromPEM(keyData)
	default:
		return "", errors.Errorf("unknown algorithm: %s", o.Algorithm)
	}
	if err != nil {
		return "", errors.WithMessage(err, "parse private key")
	}

	// generate JWT as the MQTT password
	t := time.Now()
	token := jwt.NewWithClaims(jwt.GetSigningMethod(o.Algorithm), &jwt.StandardClaims{
		IssuedAt:  t.Unix(),
		ExpiresAt: t.Add(24 * time.Hour).Unix(),
		Audience:  o.Audience,
	})
	return token.SignedString(key)
}

// WaitOnline waits for the retained availability flag on topic to read
// "online". Failures are reported as unavailable.
func WaitOnline(ctx context.Context, broker Broker, topic string, timeout time.Duration, unavailable error) error {
	online := make(chan struct{})
	var once sync.Once
	err := Subscribe(broker, topic, func(client mqtt.Client, msg mqtt.Message) {
		if string(msg.Payload()) == "online" {
			once.Do(func() { close(online) })
		}
	})
	if err != nil {
		return errors.WithMessage(unavailable, err.Error())
	}

	select {
	case <-online:
		return nil
	case <-ctx.Done():
		return errors.WithMessage(unavailable, ctx.Err().Error())
	case <-time.After(timeout):
		return errors.WithMessagef(unavailable, "no announcement on %s within %v", topic, timeout)
	}
}
