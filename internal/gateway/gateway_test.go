package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Overthrowing/null-pointer/internal/relay"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type senderFunc func(connID string, ev relay.Event)

func (f senderFunc) Send(connID string, ev relay.Event) { f(connID, ev) }

// newTestServer wires a gateway and relay behind an httptest server the way
// the serve command does.
func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *Gateway) {
	t.Helper()

	var gw *Gateway
	r := relay.NewRelay(senderFunc(func(connID string, ev relay.Event) {
		gw.Send(connID, ev)
	}))
	gw = New(cfg, r)

	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWS))
	t.Cleanup(srv.Close)
	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, name, room string, payload interface{}) {
	t.Helper()
	ev := relay.Event{Name: name, Room: room}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		ev.Data = data
	}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

// readUntil reads events off conn until one named want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) relay.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev relay.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if ev.Name == want {
			return ev
		}
	}
}

func TestJoinAndRosterBroadcast(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	screen := dial(t, srv)
	remote := dial(t, srv)

	sendEvent(t, screen, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceScreen})
	sendEvent(t, remote, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})

	ev := readUntil(t, remote, relay.EventPlayerAssigned)
	var assigned relay.PlayerAssignedPayload
	if err := json.Unmarshal(ev.Data, &assigned); err != nil {
		t.Fatalf("bad player-assigned payload: %v", err)
	}
	if assigned.PlayerID != 1 {
		t.Errorf("remote assigned slot %d, want 1", assigned.PlayerID)
	}

	for name, conn := range map[string]*websocket.Conn{"screen": screen, "remote": remote} {
		ev := readUntil(t, conn, relay.EventDevicesConnected)
		var roster relay.RosterPayload
		if err := json.Unmarshal(ev.Data, &roster); err != nil {
			t.Fatalf("bad roster payload: %v", err)
		}
		if roster.PlayersConnected != 1 || len(roster.Players) != 1 || roster.Players[0] != 1 {
			t.Errorf("%s got roster %+v, want {1 [1]}", name, roster)
		}
	}
}

func TestTelemetryRelayedToScreen(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	screen := dial(t, srv)
	remote := dial(t, srv)

	sendEvent(t, screen, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceScreen})
	sendEvent(t, remote, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})

	// Both sides are members once the roster broadcast lands.
	readUntil(t, screen, relay.EventDevicesConnected)
	readUntil(t, remote, relay.EventDevicesConnected)

	buf := []byte{0xde, 0xad, 0xbe, 0xef}
	sendEvent(t, remote, relay.EventTelemetry, "R", buf)

	ev := readUntil(t, screen, relay.EventTelemetry)
	var p relay.TelemetryPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("bad telemetry payload: %v", err)
	}
	if p.PlayerID != 1 {
		t.Errorf("telemetry tagged player %d, want 1", p.PlayerID)
	}
	if string(p.Data) != string(buf) {
		t.Errorf("telemetry buffer altered: %v", p.Data)
	}
}

func TestScreenInfoRelayedToRemote(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	screen := dial(t, srv)
	remote := dial(t, srv)

	sendEvent(t, screen, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceScreen})
	sendEvent(t, remote, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})
	readUntil(t, screen, relay.EventDevicesConnected)
	readUntil(t, remote, relay.EventDevicesConnected)

	info := map[string]int{"width": 1920, "height": 1080, "distance": 600}
	sendEvent(t, screen, relay.EventScreenInfo, "R", info)

	ev := readUntil(t, remote, relay.EventScreenInfo)
	var got map[string]int
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("bad screen-info payload: %v", err)
	}
	if got["width"] != 1920 || got["height"] != 1080 || got["distance"] != 600 {
		t.Errorf("screen-info altered: %v", got)
	}
}

func TestScreenDisconnectNotifiesRemote(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	screen := dial(t, srv)
	remote := dial(t, srv)

	sendEvent(t, screen, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceScreen})
	sendEvent(t, remote, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})
	readUntil(t, screen, relay.EventDevicesConnected)
	readUntil(t, remote, relay.EventDevicesConnected)

	screen.Close()

	readUntil(t, remote, relay.EventDeviceDisconnected)
}

func TestThirdRemoteGetsRoomFull(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	a := dial(t, srv)
	b := dial(t, srv)
	c := dial(t, srv)

	sendEvent(t, a, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})
	readUntil(t, a, relay.EventPlayerAssigned)
	sendEvent(t, b, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})
	readUntil(t, b, relay.EventPlayerAssigned)

	sendEvent(t, c, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})
	readUntil(t, c, relay.EventRoomFull)
}

func TestMalformedMessagesIgnored(t *testing.T) {
	srv, gw := newTestServer(t, DefaultConfig())

	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendEvent(t, conn, "no-such-event", "R", nil)

	// The connection survives garbage; a normal join still works.
	sendEvent(t, conn, relay.EventJoinRoom, "R", relay.JoinPayload{DeviceType: relay.DeviceRemote})
	readUntil(t, conn, relay.EventPlayerAssigned)

	if got := gw.ConnectionCount(); got != 1 {
		t.Errorf("connection count %d, want 1", got)
	}
}

func TestPingSentOnInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = fc
	cfg.PingInterval = 30 * time.Second

	srv, _ := newTestServer(t, cfg)
	conn := dial(t, srv)

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

	// Wait for the write pump's ticker to exist, then push it past the
	// ping interval.
	fc.BlockUntil(1)
	fc.Advance(cfg.PingInterval + time.Second)

	select {
	case <-pinged:
	case <-time.After(3 * time.Second):
		t.Fatal("no ping received after advancing past the ping interval")
	}
}
