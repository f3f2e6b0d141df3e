package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Event names carried on the wire, both directions. Inbound events are
// decoded by the gateway and dispatched here; outbound events are built by
// the relay and delivered through a Sender.
const (
	EventJoinRoom           = "join-room"
	EventTelemetry          = "gymote-data"
	EventScreenInfo         = "screen-info"
	EventScoreUpdate        = "score-update"
	EventPlayerAssigned     = "player-assigned"
	EventRoomFull           = "room-full"
	EventDevicesConnected   = "devices-connected"
	EventDeviceDisconnected = "device-disconnected"
	EventPlayerDisconnected = "player-disconnected"
)

// DeviceType is the role a client declares when joining a room.
type DeviceType string

const (
	DeviceScreen DeviceType = "screen"
	DeviceRemote DeviceType = "remote"
)

// Event is the JSON envelope exchanged with clients.
type Event struct {
	Name string          `json:"event"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the inbound payload of a join-room event.
type JoinPayload struct {
	DeviceType DeviceType `json:"deviceType"`
}

// PlayerAssignedPayload tells a joining remote which slot it holds.
type PlayerAssignedPayload struct {
	PlayerID int `json:"playerId"`
}

// RosterPayload carries the current remote roster of a room. Broadcast as
// devices-connected whenever a screen and at least one remote are present.
type RosterPayload struct {
	PlayersConnected int   `json:"playersConnected"`
	Players          []int `json:"players"`
}

// PlayerDisconnectedPayload announces a departed remote and the roster that
// remains.
type PlayerDisconnectedPayload struct {
	PlayerID         int   `json:"playerId"`
	PlayersConnected int   `json:"playersConnected"`
	Players          []int `json:"players"`
}

// TelemetryPayload wraps a remote's opaque sensor buffer with the slot of
// the remote that produced it.
type TelemetryPayload struct {
	PlayerID int    `json:"playerId"`
	Data     []byte `json:"data"`
}

// Sender delivers an event to a single connection. Delivery is best-effort
// and must not block; the relay never retries.
type Sender interface {
	Send(connID string, ev Event)
}

func newEvent(name, room string, payload interface{}) Event {
	ev := Event{Name: name, Room: room}
	if payload == nil {
		return ev
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to marshal event payload")
		return ev
	}
	ev.Data = data
	return ev
}
