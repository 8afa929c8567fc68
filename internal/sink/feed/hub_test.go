package feed

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/upnp-control-go/internal/sink"
)

func newTestHub(t *testing.T, opts ...Option) (*Hub, string) {
	t.Helper()
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	hub := NewHub(opts...)
	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsBatches(t *testing.T) {
	hub, url := newTestHub(t)
	first := dial(t, url)
	second := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 10*time.Millisecond)

	changes := []sink.Change{
		{DeviceUDN: "uuid:a", ServiceID: "urn:upnp-org:serviceId:RenderingControl", Variable: "Volume", Value: 42, WireValue: "42"},
		{DeviceUDN: "uuid:a", ServiceID: "urn:upnp-org:serviceId:RenderingControl", Variable: "Mute", Value: true, WireValue: "1"},
	}
	require.NoError(t, hub.Publish(context.Background(), changes))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		require.Equal(t, "changes", msg.Type)
		require.Len(t, msg.Changes, 2)
		require.Equal(t, "Volume", msg.Changes[0].Variable)
		require.Equal(t, "42", msg.Changes[0].WireValue)
		require.Equal(t, true, msg.Changes[1].Value)
	}
}

func TestHub_EmptyBatchIsNotSent(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), nil))

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	slow := &client{id: "slow", conn: conn, send: make(chan []byte, 1), done: make(chan struct{})}
	slow.send <- []byte("backlog")
	hub.mu.Lock()
	hub.clients[slow.id] = slow
	hub.mu.Unlock()

	require.NoError(t, hub.Publish(context.Background(), []sink.Change{{Variable: "Volume", WireValue: "1"}}))

	hub.mu.RLock()
	_, ok := hub.clients["slow"]
	hub.mu.RUnlock()
	require.False(t, ok)

	select {
	case <-slow.done:
	default:
		t.Fatal("slow client was not closed")
	}
}

func TestHub_Pings(t *testing.T) {
	hub, url := newTestHub(t, WithPingInterval(20*time.Millisecond))
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
