// Package notify delivers donation offers to NGOs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Notifier publishes a payload on a topic.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// publisher is the part of mqtt.Client we use.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes with QoS 1 so a broker hiccup does not lose an offer.
type MQTT struct {
	client publisher
	logger *zap.Logger
}

// DialMQTT connects to broker, e.g. tcp://localhost:1883.
func DialMQTT(broker, clientID string, logger *zap.Logger) (*MQTT, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clientID == "" {
		clientID = fmt.Sprintf("mealdash-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", broker, token.Error())
	}
	logger.Info("connected to mqtt broker", zap.String("broker", broker), zap.String("client_id", clientID))
	return &MQTT{client: client, logger: logger}, nil
}

// Publish implements Notifier.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("notify: publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", topic, err)
	}
	m.logger.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Close disconnects, allowing in-flight work 250ms.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// Log stands in when no broker is configured.
type Log struct {
	Logger *zap.Logger
}

// Publish implements Notifier.
func (l Log) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payload) == 0 {
		return errors.New("notify: empty payload")
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("donation offer (no broker configured)", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}

func (Log) Close() {}
