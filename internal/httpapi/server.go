// Package httpapi assembles the HTTP surface: the websocket endpoint, a
// health check, connection stats, and the join-link used to build QR codes.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/Overthrowing/null-pointer/internal/config"
	"github.com/Overthrowing/null-pointer/internal/gateway"
	"github.com/Overthrowing/null-pointer/internal/relay"
)

// Server wires the gateway and relay into an http.Server.
type Server struct {
	cfg   config.Config
	gw    *gateway.Gateway
	relay *relay.Relay
}

// NewServer builds the HTTP server for cfg.
func NewServer(cfg config.Config, gw *gateway.Gateway, r *relay.Relay) *http.Server {
	s := &Server{cfg: cfg, gw: gw, relay: r}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/join-link", s.handleJoinLink)

	// Screens and remotes load from any origin on the LAN.
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    cfg.Addr(),
		Handler: c.Handler(mux),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Debug().Err(err).Msg("failed to write health response")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := struct {
		relay.Stats
		Connections int `json:"connections"`
	}{
		Stats:       s.relay.GetStats(),
		Connections: s.gw.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
	}
}

// handleJoinLink returns the URL a remote should open to join a room. The
// frontend renders it as a QR code; the server only supplies the data.
func (s *Server) handleJoinLink(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	base := s.cfg.PublicURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", LocalIP(), s.cfg.Port)
	}

	resp := struct {
		Room string `json:"room"`
		URL  string `json:"url"`
	}{
		Room: room,
		URL:  fmt.Sprintf("%s/remote/#%s", base, room),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode join link")
	}
}
