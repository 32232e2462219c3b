// Package server coordinates client registration, message dispatch, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub serializes every state change in the relay. Connection pumps submit
// registrations, inbound frames, and disconnects over channels; Run handles
// them one at a time on a single goroutine, so the registry, rooms, and
// transfer bookkeeping only ever change inside one handler at a time.
type Hub struct {
	router     *Router
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub that dispatches through router.
func NewHub(router *Router, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		router:     router,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// registerClient queues client for registration. It reports false when the
// hub is shutting down.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// submit queues one inbound frame and waits until the hub has taken it.
func (h *Hub) submit(client *Client, payload []byte) bool {
	select {
	case h.inbound <- inboundMessage{sender: client, payload: payload}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's main event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			if err := h.router.Connect(client); err != nil {
				h.logger.Warn("rejecting connection", "remote_addr", client.addr, "error", err)
				client.closeSend()
				if client.conn != nil {
					client.closeConnection()
				}
				continue
			}
			h.startPumps(client)

		case client := <-h.unregister:
			h.router.Disconnect(client)

		case msg := <-h.inbound:
			h.router.Dispatch(msg.sender, msg.payload)
		}
	}
}

func (h *Hub) startPumps(client *Client) {
	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// shutdownClients closes every registered connection. The pumps notice and
// exit; their unregister attempts are skipped because the hub is done.
func (h *Hub) shutdownClients() {
	clients := h.router.registry.all()
	for _, client := range clients {
		client.closeSend()
		if client.conn != nil {
			client.closeConnection()
		}
	}
	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown stops Run and waits for all pump goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
