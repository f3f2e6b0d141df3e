package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Overthrowing/null-pointer/internal/relay"
)

// Conn is one client's websocket connection. Outbound events are queued on
// send and written by writePump; readPump decodes inbound envelopes and
// dispatches them into the relay.
type Conn struct {
	id      string
	sock    *websocket.Conn
	send    chan []byte
	gateway *Gateway

	closeOnce sync.Once
}

func (c *Conn) writePump() {
	cfg := c.gateway.config
	ticker := cfg.Clock.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.gateway.drop(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}

		case <-ticker.Chan():
			c.sock.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	cfg := c.gateway.config
	defer c.gateway.drop(c)

	c.sock.SetReadLimit(cfg.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.dispatch(message)
		c.sock.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// dispatch decodes one inbound envelope and routes it to the relay.
// Malformed envelopes are dropped; a misbehaving client cannot take the
// server down.
func (c *Conn) dispatch(message []byte) {
	var ev relay.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		log.Debug().Err(err).Str("conn", c.id).Msg("malformed event dropped")
		return
	}

	switch ev.Name {
	case relay.EventJoinRoom:
		var p relay.JoinPayload
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("malformed join payload dropped")
				return
			}
		}
		c.gateway.relay.Join(c.id, ev.Room, p.DeviceType)

	case relay.EventTelemetry:
		var buf []byte
		if err := json.Unmarshal(ev.Data, &buf); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("malformed telemetry dropped")
			return
		}
		c.gateway.relay.Telemetry(c.id, ev.Room, buf)

	case relay.EventScreenInfo:
		c.gateway.relay.ScreenInfo(c.id, ev.Room, ev.Data)

	case relay.EventScoreUpdate:
		c.gateway.relay.ScoreUpdate(c.id, ev.Room, ev.Data)

	default:
		log.Debug().Str("conn", c.id).Str("event", ev.Name).Msg("unknown event ignored")
	}
}
