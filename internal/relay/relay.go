// Package relay holds the room registry and the join/relay/disconnect
// protocol that pairs one screen client with up to two remote clients and
// forwards telemetry between them. It owns the only mutable shared state in
// the server; the websocket gateway feeds decoded client events in and
// implements Sender for everything going back out.
package relay

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Relay is the room registry plus the handlers that mutate it. Every join
// and disconnect transition runs to completion under one lock, so the
// two-remote cap and the slot assignment can never be violated by
// interleaved joins on the same room. Outbound events are collected during
// the transition and handed to the Sender only after the lock is released.
type Relay struct {
	sender Sender

	mu     sync.Mutex
	rooms  map[string]*room
	byConn map[string]string // reverse index: connection id -> room id
}

// NewRelay creates an empty registry delivering through sender.
func NewRelay(sender Sender) *Relay {
	return &Relay{
		sender: sender,
		rooms:  make(map[string]*room),
		byConn: make(map[string]string),
	}
}

type delivery struct {
	connID string
	ev     Event
}

func (r *Relay) flush(out []delivery) {
	for _, d := range out {
		r.sender.Send(d.connID, d.ev)
	}
}

// getOrCreate returns the room for id, creating it with empty membership if
// absent. Caller holds r.mu.
func (r *Relay) getOrCreate(id string) *room {
	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{id: id}
		r.rooms[id] = rm
		log.Debug().Str("room", id).Msg("room created")
	}
	return rm
}

// deleteIfEmpty removes the room iff it has no screen and no remotes.
// Caller holds r.mu.
func (r *Relay) deleteIfEmpty(id string) {
	if rm, ok := r.rooms[id]; ok && rm.empty() {
		delete(r.rooms, id)
		log.Debug().Str("room", id).Msg("empty room deleted")
	}
}

// Join applies a device's request to enter a room. Screens overwrite any
// prior screen reference; remotes are capped at two and answered with
// room-full beyond that. Whenever the room holds a screen and at least one
// remote after the mutation, the current roster is broadcast to every
// member, repeatedly on later joins so the screen can resynchronize its
// player display.
func (r *Relay) Join(connID, roomID string, device DeviceType) {
	var out []delivery

	r.mu.Lock()

	// A connection lives in at most one room and one role. A duplicate
	// remote join just re-confirms the held slot; any other prior
	// membership ends before the new one starts.
	if prev, ok := r.byConn[connID]; ok {
		if prev == roomID && device == DeviceRemote {
			if slot := r.rooms[roomID].slotOf(connID); slot != 0 {
				r.mu.Unlock()
				r.sender.Send(connID, newEvent(EventPlayerAssigned, roomID, PlayerAssignedPayload{PlayerID: slot}))
				return
			}
		}
		if !(prev == roomID && device == DeviceScreen && r.rooms[roomID].screen == connID) {
			out = append(out, r.removeLocked(connID)...)
		}
	}

	rm := r.getOrCreate(roomID)

	switch device {
	case DeviceScreen:
		if rm.screen != "" && rm.screen != connID {
			// The displaced screen gets no eviction notice. Matches the
			// original behavior; logged because it usually means two
			// screens are fighting over one room id.
			log.Warn().
				Str("room", roomID).
				Str("old_conn", rm.screen).
				Str("new_conn", connID).
				Msg("screen replaced without eviction notice")
			delete(r.byConn, rm.screen)
		}
		rm.screen = connID
		r.byConn[connID] = roomID
		log.Info().Str("room", roomID).Str("conn", connID).Msg("screen joined room")

	case DeviceRemote:
		if len(rm.remotes) >= maxRemotes {
			r.deleteIfEmpty(roomID)
			r.mu.Unlock()
			r.flush(out)
			r.sender.Send(connID, newEvent(EventRoomFull, roomID, nil))
			log.Info().Str("room", roomID).Str("conn", connID).Msg("remote rejected, room full")
			return
		}
		slot := rm.freeSlot()
		rm.remotes = append(rm.remotes, remoteMember{connID: connID, slot: slot})
		r.byConn[connID] = roomID
		out = append(out, delivery{connID, newEvent(EventPlayerAssigned, roomID, PlayerAssignedPayload{PlayerID: slot})})
		log.Info().Str("room", roomID).Str("conn", connID).Int("player", slot).Msg("remote joined room")

	default:
		log.Warn().Str("room", roomID).Str("conn", connID).Str("device_type", string(device)).Msg("join with unknown device type ignored")
		r.deleteIfEmpty(roomID)
		r.mu.Unlock()
		r.flush(out)
		return
	}

	if rm.screen != "" && len(rm.remotes) > 0 {
		roster := RosterPayload{PlayersConnected: len(rm.remotes), Players: rm.slots()}
		for _, member := range rm.members() {
			out = append(out, delivery{member, newEvent(EventDevicesConnected, roomID, roster)})
		}
	}

	r.mu.Unlock()
	r.flush(out)
}

// Telemetry forwards a remote's opaque sensor buffer to the room's screen,
// tagged with the sender's player slot so the screen can tell two pointers
// apart. It is never echoed to the sender or to the other remote. Buffers
// from senders that are not registered remotes in the room are dropped
// without any reply; transient misses during join and leave races are
// expected.
func (r *Relay) Telemetry(connID, roomID string, data []byte) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	slot := rm.slotOf(connID)
	if slot == 0 {
		r.mu.Unlock()
		log.Debug().Str("room", roomID).Str("conn", connID).Msg("telemetry from unregistered sender dropped")
		return
	}
	screen := rm.screen
	r.mu.Unlock()

	if screen == "" {
		return
	}
	r.sender.Send(screen, newEvent(EventTelemetry, roomID, TelemetryPayload{PlayerID: slot, Data: data}))
}

// ScreenInfo forwards viewport metadata verbatim to every room member
// except the sender. The payload is screen-wide, so no per-player tagging.
func (r *Relay) ScreenInfo(connID, roomID string, info []byte) {
	r.forward(EventScreenInfo, connID, roomID, info)
}

// ScoreUpdate forwards score state verbatim to every room member except
// the sender. Scores are ephemeral and never retained server-side.
func (r *Relay) ScoreUpdate(connID, roomID string, payload []byte) {
	r.forward(EventScoreUpdate, connID, roomID, payload)
}

func (r *Relay) forward(name, connID, roomID string, payload []byte) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	targets := othersOf(rm, connID)
	r.mu.Unlock()

	ev := Event{Name: name, Room: roomID, Data: payload}
	for _, t := range targets {
		r.sender.Send(t, ev)
	}
}

// Disconnect removes a departed connection from whichever room holds it.
// The transport signals disconnection without room context; the reverse
// index resolves it in one lookup. Unknown connections are a no-op.
func (r *Relay) Disconnect(connID string) {
	r.mu.Lock()
	out := r.removeLocked(connID)
	r.mu.Unlock()
	r.flush(out)
}

// removeLocked ends connID's membership and returns the broadcasts owed to
// the remaining members. A departing screen takes the whole room with it,
// remotes included; a departing remote leaves the room standing until it
// is fully empty. Caller holds r.mu.
func (r *Relay) removeLocked(connID string) []delivery {
	roomID, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	delete(r.byConn, connID)
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	if rm.screen == connID {
		rm.screen = ""
		var out []delivery
		for _, member := range rm.members() {
			out = append(out, delivery{member, newEvent(EventDeviceDisconnected, roomID, nil)})
		}
		// Screen departure discards the room outright. Remaining remotes
		// are told to reset, not to wait for a reconnecting screen.
		for _, m := range rm.remotes {
			delete(r.byConn, m.connID)
		}
		delete(r.rooms, roomID)
		log.Info().Str("room", roomID).Str("conn", connID).Int("remotes_dropped", len(rm.remotes)).Msg("screen left, room discarded")
		return out
	}

	slot := rm.removeRemote(connID)
	if slot == 0 {
		return nil
	}
	payload := PlayerDisconnectedPayload{
		PlayerID:         slot,
		PlayersConnected: len(rm.remotes),
		Players:          rm.slots(),
	}
	var out []delivery
	for _, member := range rm.members() {
		out = append(out, delivery{member, newEvent(EventPlayerDisconnected, roomID, payload)})
	}
	r.deleteIfEmpty(roomID)
	log.Info().Str("room", roomID).Str("conn", connID).Int("player", slot).Msg("remote left room")
	return out
}

// othersOf lists the members of rm excluding connID. Caller holds r.mu.
func othersOf(rm *room, connID string) []string {
	members := rm.members()
	out := members[:0]
	for _, m := range members {
		if m != connID {
			out = append(out, m)
		}
	}
	return out
}

// Stats reports current registry size for the stats endpoint.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// GetStats counts rooms and room members currently registered.
func (r *Relay) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Rooms: len(r.rooms), Members: len(r.byConn)}
}
