// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all relay routes:
// the health text, the WebSocket endpoint, the status probe, and the room
// join lookup that QR codes point at.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/status", s.StatusHandler)
	mux.HandleFunc("/join", s.JoinHandler)
	return mux
}
