package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/junctionworks/crossflow/internal/timeutil"
	"github.com/junctionworks/crossflow/internal/traffic"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("hub never reached %d client(s), have %d", want, hub.ClientCount())
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	want := `{"signal":"RED"}`
	hub.Broadcast([]byte(want))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t)
	first := dialHub(t, hub)
	second := dialHub(t, hub)
	waitForClients(t, hub, 2)

	hub.Broadcast([]byte("tick"))

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d failed to read broadcast: %v", i, err)
		}
		if string(payload) != "tick" {
			t.Errorf("client %d payload = %s, want tick", i, payload)
		}
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHubBroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := startHub(t)

	// Must not block or panic with nobody connected.
	hub.Broadcast([]byte("lost"))
	hub.Broadcast([]byte("lost again"))

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

type fakeSnapshotSource struct {
	snap traffic.Snapshot
}

func (f *fakeSnapshotSource) Snapshot() traffic.Snapshot { return f.snap }

func TestBroadcasterPushesSnapshots(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	source := &fakeSnapshotSource{snap: traffic.Snapshot{
		LaneA:     traffic.LaneState{Count: 2, Speed: 14.4},
		LaneB:     traffic.LaneState{Count: 0, Speed: 0},
		Signal:    traffic.SignalGreenA,
		Timestamp: 1748779200000,
	}}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	b := NewBroadcaster(hub, source, time.Second, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the broadcaster's ticker before advancing.
	deadline := time.Now().Add(2 * time.Second)
	for len(clock.Tickers()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("broadcaster never created its ticker")
		}
		time.Sleep(time.Millisecond)
	}

	clock.Advance(time.Second)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read snapshot broadcast: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("failed to unmarshal snapshot payload: %v", err)
	}
	if got["signal"] != "GREEN_A" {
		t.Errorf("signal = %v, want GREEN_A", got["signal"])
	}
	laneA, ok := got["laneA"].(map[string]interface{})
	if !ok {
		t.Fatalf("laneA missing from payload: %s", payload)
	}
	if laneA["count"] != float64(2) {
		t.Errorf("laneA.count = %v, want 2", laneA["count"])
	}
	if laneA["speed"] != 14.4 {
		t.Errorf("laneA.speed = %v, want 14.4", laneA["speed"])
	}
	if got["timestamp"] != float64(1748779200000) {
		t.Errorf("timestamp = %v, want 1748779200000", got["timestamp"])
	}
}
