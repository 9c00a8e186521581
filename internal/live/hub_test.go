package live

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPingsAndKeepsAnsweringClient(t *testing.T) {
	hub := NewHub(nil)
	hub.pongWait, hub.pingPeriod = 200*time.Millisecond, 50*time.Millisecond
	conn := dialHub(t, hub)
	waitClients(t, hub, 1)

	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 6; i++ {
		select {
		case <-pings:
		case <-time.After(time.Second):
			t.Fatalf("ping %d never arrived", i)
		}
	}
	// Several pong waits have passed; the answering client is still there.
	if hub.Clients() != 1 {
		t.Fatalf("answering client was dropped")
	}
}

func TestHubDropsSilentClient(t *testing.T) {
	hub := NewHub(nil)
	hub.pongWait, hub.pingPeriod = 100*time.Millisecond, 25*time.Millisecond
	dialHub(t, hub)
	waitClients(t, hub, 1)
	// The client never reads, so it never answers a ping.
	waitClients(t, hub, 0)
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(Event{Event: "ATTENDANCE_LOGGED", Data: map[string]string{"member_id": "m-1"}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != "ATTENDANCE_LOGGED" || got.Data["member_id"] != "m-1" {
		t.Fatalf("unexpected event %+v", got)
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
