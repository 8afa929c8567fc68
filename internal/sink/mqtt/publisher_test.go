package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/upnp-control-go/internal/sink"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	messages     []published
	failTopic    string
	connected    bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	}
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: body})
	if topic == c.failTopic {
		return doneToken{err: errors.New("not authorized")}
	}
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestPublisher_Topic(t *testing.T) {
	p := NewPublisher(&fakeClient{}, "/home/upnp/", quietLogger())
	topic := p.Topic(sink.Change{
		DeviceUDN: "uuid:5d0f3a4c-7b1e-4e37-a0a4-000000000001",
		ServiceID: "urn:upnp-org:serviceId:AVTransport",
		Variable:  "TransportState",
	})
	require.Equal(t, "home/upnp/uuid:5d0f3a4c-7b1e-4e37-a0a4-000000000001/urn:upnp-org:serviceId:AVTransport/TransportState", topic)

	p = NewPublisher(&fakeClient{}, "", quietLogger())
	require.Equal(t, "upnp/a_b/c_d/e_f", p.Topic(sink.Change{DeviceUDN: "a/b", ServiceID: "c+d", Variable: "e#f"}))
}

func TestPublisher_PublishesRetained(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "upnp", quietLogger())
	changedAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), []sink.Change{
		{DeviceUDN: "uuid:a", DeviceName: "Kitchen", ServiceID: "rc", Variable: "Volume", Value: 42, WireValue: "42", ChangedAt: changedAt},
		{DeviceUDN: "uuid:a", DeviceName: "Kitchen", ServiceID: "rc", Variable: "Mute", Value: true, WireValue: "1", ChangedAt: changedAt},
	})
	require.NoError(t, err)
	require.Len(t, client.messages, 2)

	msg := client.messages[0]
	require.Equal(t, "upnp/uuid:a/rc/Volume", msg.topic)
	require.True(t, msg.retained)
	require.Equal(t, byte(publishQoS), msg.qos)

	var payload Payload
	require.NoError(t, json.Unmarshal(msg.payload, &payload))
	require.Equal(t, "Kitchen", payload.DeviceName)
	require.Equal(t, "42", payload.WireValue)
	require.Equal(t, float64(42), payload.Value)
	require.True(t, changedAt.Equal(payload.ChangedAt))
}

func TestPublisher_ReportsFailedTopics(t *testing.T) {
	client := &fakeClient{failTopic: "upnp/uuid:a/rc/Mute"}
	p := NewPublisher(client, "upnp", quietLogger())

	err := p.Publish(context.Background(), []sink.Change{
		{DeviceUDN: "uuid:a", ServiceID: "rc", Variable: "Volume", WireValue: "1"},
		{DeviceUDN: "uuid:a", ServiceID: "rc", Variable: "Mute", WireValue: "0"},
	})
	require.ErrorIs(t, err, ErrPublishFailed)
	require.Contains(t, err.Error(), "upnp/uuid:a/rc/Mute")
	require.Len(t, client.messages, 2)
}

func TestPublisher_Close(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewPublisher(client, "upnp", quietLogger())
	p.Close()

	require.True(t, client.disconnected)
	require.Len(t, client.messages, 1)
	require.Equal(t, "upnp/status", client.messages[0].topic)
	require.Equal(t, "offline", string(client.messages[0].payload))
}
