// Package gateway terminates websocket connections from screen and remote
// clients, decodes the event envelope, and dispatches into the relay core.
// It implements relay.Sender for everything flowing back out.
package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Overthrowing/null-pointer/internal/relay"
)

// Config holds websocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
	Clock           clockwork.Clock
}

// DefaultConfig returns websocket settings suitable for phone clients on a
// local network.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Screens and remotes join from arbitrary origins on the LAN.
			return true
		},
		Clock: clockwork.NewRealClock(),
	}
}

// Gateway upgrades HTTP requests to websocket connections and owns the set
// of live connections. Each connection gets an opaque uuid identifier; the
// relay core only ever sees those identifiers.
type Gateway struct {
	relay    *relay.Relay
	upgrader websocket.Upgrader
	config   Config

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates a Gateway dispatching into r.
func New(config Config, r *relay.Relay) *Gateway {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Gateway{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		conns:  make(map[string]*Conn),
	}
}

// HandleWS upgrades an HTTP request and starts the connection pumps. The
// client declares its room and role later, through a join-room event.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Conn{
		id:      uuid.New().String(),
		sock:    sock,
		send:    make(chan []byte, g.config.SendBufferSize),
		gateway: g,
	}
	g.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().Str("conn", conn.id).Str("remote_addr", r.RemoteAddr).Msg("client connected")
}

func (g *Gateway) register(conn *Conn) {
	g.mu.Lock()
	g.conns[conn.id] = conn
	g.mu.Unlock()
}

// drop removes the connection from the gateway and tells the relay exactly
// once, regardless of which pump noticed the closure first. The send
// channel is closed under the lock so Send can never race the close.
func (g *Gateway) drop(conn *Conn) {
	conn.closeOnce.Do(func() {
		g.mu.Lock()
		delete(g.conns, conn.id)
		close(conn.send)
		g.mu.Unlock()
		conn.sock.Close()

		g.relay.Disconnect(conn.id)
		log.Info().Str("conn", conn.id).Msg("client disconnected")
	})
}

// Send implements relay.Sender. Delivery is best-effort: a connection that
// cannot keep up with its send buffer is closed rather than blocking the
// relay.
func (g *Gateway) Send(connID string, ev relay.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("failed to marshal outbound event")
		return
	}

	g.mu.RLock()
	conn, ok := g.conns[connID]
	overflow := false
	if ok {
		select {
		case conn.send <- data:
		default:
			overflow = true
		}
	}
	g.mu.RUnlock()

	if overflow {
		log.Warn().Str("conn", connID).Str("event", ev.Name).Msg("send buffer full, closing connection")
		g.drop(conn)
	}
}

// ConnectionCount reports the number of live websocket connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}
