package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/strefethen/upnp-control-go/internal/sink"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultTopicPrefix       = "upnp"
	publishQoS               = 1
)

var (
	// ErrConnectionFailed is returned when the initial broker connection fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker rejects a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrTimeout is returned when a publish is not acknowledged in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// Options configures the broker connection.
type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Payload is the retained message body for one state variable.
type Payload struct {
	DeviceName string    `json:"device_name"`
	Value      any       `json:"value"`
	WireValue  string    `json:"wire_value"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Publisher publishes every change as a retained message on
// <prefix>/<udn>/<serviceId>/<variable>.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	logger *log.Logger
}

// Connect dials the broker and returns a publisher. The broker sees an
// "offline" status on <prefix>/status if the process dies.
func Connect(opts Options, logger *log.Logger) (*Publisher, error) {
	if logger == nil {
		logger = log.Default()
	}
	prefix := normalizePrefix(opts.TopicPrefix)

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectTimeout(defaultConnectTimeout)
	clientOpts.SetKeepAlive(defaultKeepAlive)
	clientOpts.SetWill(statusTopic(prefix), "offline", publishQoS, true)
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Printf("SINK: mqtt connection lost: %v", err)
	})
	clientOpts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(statusTopic(prefix), publishQoS, true, "online")
	})

	client := pahomqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	logger.Printf("SINK: mqtt connected to %s", opts.BrokerURL)
	return NewPublisher(client, prefix, logger), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client pahomqtt.Client, prefix string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{client: client, prefix: normalizePrefix(prefix), logger: logger}
}

// Topic returns the topic a change is published on.
func (p *Publisher) Topic(c sink.Change) string {
	return strings.Join([]string{
		p.prefix,
		topicSegment(c.DeviceUDN),
		topicSegment(c.ServiceID),
		topicSegment(c.Variable),
	}, "/")
}

// Publish implements sink.Sink. All messages are sent before waiting for acknowledgments.
func (p *Publisher) Publish(ctx context.Context, changes []sink.Change) error {
	tokens := make([]pahomqtt.Token, 0, len(changes))
	topics := make([]string, 0, len(changes))
	for _, c := range changes {
		payload, err := json.Marshal(Payload{
			DeviceName: c.DeviceName,
			Value:      c.Value,
			WireValue:  c.WireValue,
			ChangedAt:  c.ChangedAt,
		})
		if err != nil {
			return err
		}
		topic := p.Topic(c)
		tokens = append(tokens, p.client.Publish(topic, publishQoS, true, payload))
		topics = append(topics, topic)
	}

	var errs []error
	for i, token := range tokens {
		if err := waitToken(ctx, token); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", topics[i], err))
		}
	}
	return errors.Join(errs...)
}

// Close publishes the offline status and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		token := p.client.Publish(statusTopic(p.prefix), publishQoS, true, "offline")
		token.WaitTimeout(defaultPublishTimeout)
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
}

func waitToken(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return defaultTopicPrefix
	}
	return prefix
}

// topicSegment replaces characters that are not allowed inside a single topic level.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
