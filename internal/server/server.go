// Package server constructs the relay and manages its lifecycle: binding
// the listener, running the hub, and shutting both down.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("server already started")

// Info says where a started relay can be reached.
type Info struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	HTTPURL string `json:"httpUrl"`
	WSURL   string `json:"wsUrl"`
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger used by every component of the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server owns all relay state: the client registry, rooms, relay
// bookkeeping, and the HTTP listener.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry
	rooms    *RoomManager
	status   *StatusResponder
	router   *Router
	hub      *Hub
	origins  originPolicy
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu         sync.RWMutex
	info       Info
	httpServer *http.Server
	started    bool
	stopped    bool
}

// New builds a server from cfg. Nothing listens until Start.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:    sanitizeConfig(cfg),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = NewRegistry(s.cfg.Limits.MaxClients, s.serverInfo, s.logger)
	s.rooms = NewRoomManager(s.registry, s.cfg.Limits, s.logger)
	s.status = NewStatusResponder(s.registry, s.rooms, s.serverInfo, time.Now())
	s.router = NewRouter(s.registry, s.rooms, s.status, s.cfg.Limits, s.Info, s.logger)
	s.hub = NewHub(s.router, s.logger)
	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.mux = SetupRoutes(s)
	return s
}

// Start binds the listener, starts the hub, and serves in the background.
func (s *Server) Start(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return Info{}, ErrAlreadyStarted
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Port)
	if err != nil {
		return Info{}, fmt.Errorf("listening on %s: %w", s.cfg.Port, err)
	}

	address := s.cfg.AdvertiseAddress
	if address == "" {
		address = lanAddress()
	}
	port := listenerPort(listener)
	hostPort := net.JoinHostPort(address, strconv.Itoa(port))
	s.info = Info{
		Address: address,
		Port:    port,
		HTTPURL: "http://" + hostPort,
		WSURL:   "ws://" + hostPort + "/ws",
	}
	s.httpServer = CreateServer(s.cfg.Port, s.mux)
	s.started = true

	go s.hub.Run()
	s.logger.Info("hub started and ready to manage websocket connections")

	go func() {
		if err := StartServer(s.httpServer, listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	s.logger.Info("relay listening", "http_url", s.info.HTTPURL, "ws_url", s.info.WSURL)
	return s.info, nil
}

// Stop closes every client connection, stops the hub, and shuts the HTTP
// server down. Stopping a server that never started, or stopping twice, is
// a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	httpServer := s.httpServer
	s.mu.Unlock()

	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	httpErr := ShutdownServer(ctx, httpServer)
	return errors.Join(hubErr, httpErr)
}

// Info returns the addresses reported by Start. It is zero before Start.
func (s *Server) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Status returns the health snapshot served at /status.
func (s *Server) Status() Health {
	return s.status.Health()
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) serverInfo() protocol.ServerInfo {
	info := s.Info()
	return protocol.ServerInfo{
		Address:   info.Address,
		Port:      info.Port,
		Timestamp: time.Now().UnixMilli(),
	}
}
