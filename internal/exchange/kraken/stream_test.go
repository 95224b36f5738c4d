package kraken

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/tides/pkg/logger"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStreamClientResetOncePerDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		conn.Close()
	}))
	defer srv.Close()

	var resets atomic.Int32
	c := NewStreamClient(StreamConfig{
		Name:           "test",
		URL:            wsURL(srv),
		ReconnectDelay: 10 * time.Millisecond,
		OnReset:        func() { resets.Add(1) },
	}, logger.Nop())

	c.Start()
	waitFor(t, 5*time.Second, func() bool { return resets.Load() >= 3 })
	c.Close()

	if conns.Load() < 3 {
		t.Errorf("connected %d times, want at least 3", conns.Load())
	}
}

func TestStreamClientResetOnDialFailure(t *testing.T) {
	var resets atomic.Int32
	c := NewStreamClient(StreamConfig{
		Name:           "test",
		URL:            "ws://127.0.0.1:1", // nothing listens here
		ReconnectDelay: 5 * time.Millisecond,
		OnReset:        func() { resets.Add(1) },
	}, logger.Nop())

	c.Start()
	waitFor(t, 5*time.Second, func() bool { return resets.Load() >= 3 })
	c.Close()
}

func TestStreamClientDeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"heartbeat"}`))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var got atomic.Value
	c := NewStreamClient(StreamConfig{
		Name:           "test",
		URL:            wsURL(srv),
		ReconnectDelay: 10 * time.Millisecond,
		OnMessage:      func(data []byte) { got.Store(string(data)) },
	}, logger.Nop())

	c.Start()
	waitFor(t, 5*time.Second, func() bool { return got.Load() != nil })
	c.Close()

	if s := got.Load().(string); s != `{"event":"heartbeat"}` {
		t.Errorf("received %q", s)
	}
}

func TestStreamClientSubscribeOnOpen(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var subscribed atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, data, err := conn.ReadMessage(); err == nil {
			subscribed.Store(string(data))
		}
	}))
	defer srv.Close()

	c := NewStreamClient(StreamConfig{
		Name:           "test",
		URL:            wsURL(srv),
		ReconnectDelay: 10 * time.Millisecond,
		OnOpen: func(c *StreamClient) error {
			return c.SendJSON(SubscribeRequest{
				Event:        "subscribe",
				Pair:         []string{"XBT/USD"},
				Subscription: Subscription{Name: ChannelTrade},
			})
		},
	}, logger.Nop())

	c.Start()
	waitFor(t, 5*time.Second, func() bool { return subscribed.Load() != nil })
	c.Close()

	frame := subscribed.Load().(string)
	if !strings.Contains(frame, `"name":"trade"`) || !strings.Contains(frame, `"XBT/USD"`) {
		t.Errorf("subscribe frame = %s", frame)
	}
}

func TestSendJSONWhenDisconnected(t *testing.T) {
	c := NewStreamClient(StreamConfig{Name: "test", URL: "ws://127.0.0.1:1"}, logger.Nop())
	if err := c.SendJSON(struct{}{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendJSON on down stream = %v, want ErrNotConnected", err)
	}
}
