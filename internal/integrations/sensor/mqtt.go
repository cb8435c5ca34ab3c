package sensor

import (
	"context"
	"fmt"
	"time"

	"daa-assistant/backend/pkg/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTReader subscribes to {topicBase}/{name} and returns the first message.
// Zigbee2MQTT retains device state, so the broker answers immediately for
// devices that have reported at least once.
type MQTTReader struct {
	broker    string
	topicBase string
	timeout   time.Duration
	log       *logger.Logger
}

func NewMQTTReader(host string, port int, topicBase string, timeout time.Duration, log *logger.Logger) *MQTTReader {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MQTTReader{
		broker:    fmt.Sprintf("tcp://%s:%d", host, port),
		topicBase: topicBase,
		timeout:   timeout,
		log:       log.WithComponent("mqtt"),
	}
}

func (r *MQTTReader) Topic(name string) string {
	return r.topicBase + "/" + name
}

func (r *MQTTReader) connect(ctx context.Context) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(r.broker).
		SetClientID("daa-" + uuid.NewString()[:8]).
		SetConnectTimeout(r.timeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if err := wait(ctx, token, r.timeout); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", r.broker, err)
	}
	return client, nil
}

// ReadSensor performs a one-shot subscribe and returns the filtered payload.
func (r *MQTTReader) ReadSensor(ctx context.Context, name string) (map[string]any, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(100)

	topic := r.Topic(name)
	msgs := make(chan []byte, 1)
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case msgs <- m.Payload():
		default:
		}
	})
	if err := wait(ctx, token, r.timeout); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case raw := <-msgs:
		r.log.Debug("sensor read", "topic", topic, "bytes", len(raw))
		return decode(name, raw)
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", name, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping connects to the broker and disconnects again.
func (r *MQTTReader) Ping(ctx context.Context) error {
	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	client.Disconnect(0)
	return nil
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
