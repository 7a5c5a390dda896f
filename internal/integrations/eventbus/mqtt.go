package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"messaging-ledger/internal/domain"
)

const (
	mqttQoS            = 1
	defaultWaitTimeout = 5 * time.Second
)

// mqttClient is the subset of mqtt.Client used by MQTTPublisher.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes each event to <prefix>/<ledger>/message_sent at QoS 1.
type MQTTPublisher struct {
	client  mqttClient
	prefix  string
	timeout time.Duration
}

func NewMQTTPublisher(client mqttClient, prefix string) (*MQTTPublisher, error) {
	if client == nil {
		return nil, errors.New("eventbus: mqtt client must not be nil")
	}
	if strings.Trim(prefix, "./ ") == "" {
		return nil, errors.New("eventbus: topic prefix must not be empty")
	}
	return &MQTTPublisher{client: client, prefix: prefix, timeout: defaultWaitTimeout}, nil
}

// Topic returns the topic events of ledgerID are published on.
func (p *MQTTPublisher) Topic(ledgerID string) string {
	return strings.Join(subjectTokens(p.prefix, ledgerID), "/")
}

func (p *MQTTPublisher) Publish(ctx context.Context, events []domain.EventRecord) error {
	for _, rec := range events {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: mqtt publish: %w", err)
		}
		payload, err := Encode(rec)
		if err != nil {
			return err
		}
		topic := p.Topic(rec.LedgerID)
		token := p.client.Publish(topic, mqttQoS, false, payload)
		if !token.WaitTimeout(p.timeout) {
			return fmt.Errorf("eventbus: mqtt publish %s: timed out after %s", topic, p.timeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("eventbus: mqtt publish %s: %w", topic, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "MQTTPublisher.Publish",
		"count":    len(events),
	}).Debug("events published")
	return nil
}

// NewMQTTClient builds an unconnected paho client for broker.
func NewMQTTClient(broker, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnectionLost = connectLostHandler
	return mqtt.NewClient(opts)
}

var connectLostHandler mqtt.ConnectionLostHandler = func(_ mqtt.Client, err error) {
	logrus.WithFields(logrus.Fields{"function": "connectLostHandler"}).Warnf("mqtt connection lost: %v", err)
}
