package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testConfig(endpoint string) ChannelConfig {
	return ChannelConfig{
		ID:                   "exercise_session",
		Endpoint:             endpoint,
		AutoReconnect:        false,
		MaxReconnectAttempts: 0,
		ReconnectDelay:       10 * time.Millisecond,
		HeartbeatInterval:    time.Hour, // keep pings out of the way unless a test wants them
		ConnectTimeout:       2 * time.Second,
	}
}

// waitForState blocks until the connection reaches the wanted kind.
func waitForState(t *testing.T, states <-chan State, want StateKind) State {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-states:
			if st.Kind == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func TestConnectAndSend(t *testing.T) {
	received := make(chan Message, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	}))
	defer server.Close()

	conn := NewConnection(testConfig("/ws"), nil)
	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	if got := conn.State().Kind; got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	msg, _ := NewMessage(OpSessionJoin, map[string]string{"session_id": "s1"})
	if err := conn.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != OpSessionJoin {
			t.Errorf("server received type %s, want %s", got.Type, OpSessionJoin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestConnectIsNoOpWhenConnected(t *testing.T) {
	var dials int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	conn := NewConnection(testConfig("/ws"), nil)
	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestSendWhileNotConnected(t *testing.T) {
	conn := NewConnection(testConfig("/ws"), nil)
	msg, _ := NewMessage(OpHeartbeat, nil)
	if err := conn.Send(msg); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnectAttachesAuthAndExtraHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer server.Close()

	cfg := testConfig("/ws")
	cfg.RequiresAuth = true
	cfg.ExtraHeaders = map[string]string{"X-Client": "repsync-test"}
	conn := NewConnection(cfg, StaticToken("tok-123"))
	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	h := <-headers
	if got := h.Get("Authorization"); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("X-Client"); got != "repsync-test" {
		t.Errorf("X-Client = %q", got)
	}
}

func TestSubscribeFiltersAndSurvivesBadFrames(t *testing.T) {
	frames := make(chan []byte, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for frame := range frames {
			if ws.WriteMessage(websocket.TextMessage, frame) != nil {
				return
			}
		}
	}))
	defer server.Close()

	conn := NewConnection(testConfig("/ws"), nil)
	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	sub := conn.Subscribe(OpSessionSync)
	defer sub.Close()

	frames <- []byte(`this is not json`)
	frames <- []byte(`{"id":"m1","type":"cursor_move","payload":{},"timestamp":"2025-03-01T12:00:00Z","version":1}`)
	frames <- []byte(`{"id":"m2","type":"session_sync","payload":{},"timestamp":"2025-03-01T12:00:01Z","version":2}`)

	select {
	case msg := <-sub.Messages():
		if msg.ID != "m2" {
			t.Errorf("received %s, want m2", msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never delivered; bad frame killed the stream?")
	}

	// The stream is still alive after the malformed frame.
	frames <- []byte(`{"id":"m3","type":"session_sync","payload":{},"timestamp":"2025-03-01T12:00:02Z","version":3}`)
	select {
	case msg := <-sub.Messages():
		if msg.ID != "m3" {
			t.Errorf("received %s, want m3", msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream terminated after malformed frame")
	}
	close(frames)
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	// httptest stops tracking hijacked conns, so CloseClientConnections
	// cannot sever an upgraded websocket; keep our own handle to close it.
	var served atomic.Pointer[websocket.Conn]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		served.Store(ws)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))

	cfg := testConfig("/ws")
	cfg.AutoReconnect = true
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectDelay = 20 * time.Millisecond
	conn := NewConnection(cfg, nil)

	states, cancel := conn.WatchState()
	defer cancel()

	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, states, StateConnected)

	// Kill the server so every reconnect attempt fails.
	server.CloseClientConnections()
	server.Close()
	if ws := served.Load(); ws != nil {
		ws.Close()
	}

	attempts := 0
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-states:
			if st.Kind == StateConnecting {
				attempts++
			}
			if st.Kind == StateFailed {
				if attempts != cfg.MaxReconnectAttempts {
					t.Errorf("reconnect attempts = %d, want %d", attempts, cfg.MaxReconnectAttempts)
				}
				if st.Reason == "" {
					t.Error("failed state carries no reason")
				}
				return
			}
		case <-deadline:
			t.Fatal("connection never reached failed state")
		}
	}
}

func TestDisconnectDuringReconnectDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection immediately to trigger the failure path.
		ws.Close()
	}))
	defer server.Close()

	cfg := testConfig("/ws")
	cfg.AutoReconnect = true
	cfg.MaxReconnectAttempts = 5
	cfg.ReconnectDelay = 500 * time.Millisecond
	conn := NewConnection(cfg, nil)

	states, cancel := conn.WatchState()
	defer cancel()

	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, states, StateReconnecting)

	conn.Disconnect()

	// Wait past the reconnect delay; no attempt may resurrect the socket.
	time.Sleep(700 * time.Millisecond)
	if got := conn.State().Kind; got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	for {
		select {
		case st := <-states:
			if st.Kind == StateConnecting || st.Kind == StateConnected {
				t.Fatalf("connection resurrected after Disconnect: %s", st)
			}
		default:
			return
		}
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	conn := NewConnection(testConfig("/ws"), nil)
	conn.Disconnect()
	conn.Disconnect()
	if got := conn.State().Kind; got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestHeartbeatPings(t *testing.T) {
	var pings int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return nil
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := testConfig("/ws")
	cfg.HeartbeatInterval = 30 * time.Millisecond
	conn := NewConnection(cfg, nil)
	if err := conn.Connect(context.Background(), server.URL); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&pings) < 2 {
		select {
		case <-deadline:
			t.Fatalf("pings = %d, want >= 2", atomic.LoadInt32(&pings))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
