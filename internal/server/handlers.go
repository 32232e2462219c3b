// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the status probe, and room join lookups.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades GET requests to WebSocket connections and hands
// the new client to the hub, which registers it and starts its pumps.
// Requests beyond the client limit are refused before the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.registry.Len() >= s.cfg.Limits.MaxClients {
		s.logger.Warn("refusing connection: client limit reached", "remote_addr", r.RemoteAddr, "limit", s.cfg.Limits.MaxClients)
		http.Error(w, "Too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, hostOnly(r.RemoteAddr), r.UserAgent(), s.cfg)
	if !s.hub.registerClient(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "LAN relay is running!")
}

// StatusHandler serves the health snapshot as JSON. Any origin may read it
// so that pages served elsewhere can probe for a relay on the LAN.
func (s *Server) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Health())
}

// joinInfo is the body of /join.
type joinInfo struct {
	RoomID  string `json:"roomId"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Members int    `json:"members"`
	WSURL   string `json:"wsUrl"`
}

// JoinHandler reports whether the room named by the room query parameter
// exists and where to connect to join it.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "missing room parameter", http.StatusBadRequest)
		return
	}

	info := joinInfo{RoomID: roomID, WSURL: s.Info().WSURL}
	if room, ok := s.rooms.Get(roomID); ok {
		info.Exists = true
		info.Name = room.Name
		info.Members = len(room.Members)
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
