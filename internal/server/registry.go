package server

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/lanrelay/internal/ids"
	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// Registry errors.
var (
	ErrClientNotFound = errors.New("client not found")
	ErrTooManyClients = errors.New("too many clients")
)

// ClientInfo is a read-only view of a registered client.
type ClientInfo struct {
	ID          string
	Address     string
	UserAgent   string
	ConnectedAt time.Time
}

// Registry owns the set of connected clients.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	maxClients int
	newID      func() string
	serverInfo func() protocol.ServerInfo
	logger     *slog.Logger
}

// NewRegistry returns an empty registry. serverInfo supplies the address
// sent in each welcome message.
func NewRegistry(maxClients int, serverInfo func() protocol.ServerInfo, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:    make(map[string]*Client),
		maxClients: maxClients,
		newID:      ids.NewClientID,
		serverInfo: serverInfo,
		logger:     logger,
	}
}

// Register assigns client a fresh id, stores it, and queues the welcome
// message. The welcome is the first message in the client's send queue.
func (r *Registry) Register(client *Client) (string, error) {
	r.mu.Lock()
	if r.maxClients > 0 && len(r.clients) >= r.maxClients {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: limit %d", ErrTooManyClients, r.maxClients)
	}
	id := r.newID()
	for {
		if _, taken := r.clients[id]; !taken {
			break
		}
		id = r.newID()
	}
	client.id = id
	client.logger = client.logger.With("client_id", id)
	r.clients[id] = client
	count := len(r.clients)
	r.mu.Unlock()

	info := r.serverInfo()
	client.enqueue(protocol.MustEncode(&protocol.Welcome{ClientID: id, ServerInfo: info}))

	r.logger.Info("client registered", "client_id", id, "remote_addr", client.addr, "clients", count)
	return id, nil
}

// Lookup returns the client registered under id.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	return client, ok
}

// Unregister removes id. Unknown ids are ignored; the return value reports
// whether anything was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	count := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.logger.Info("client unregistered", "client_id", id, "clients", count)
	}
	return ok
}

// ListOthers returns every client except excludingID, oldest first.
func (r *Registry) ListOthers(excludingID string) []ClientInfo {
	r.mu.RLock()
	out := make([]ClientInfo, 0, len(r.clients))
	for id, client := range r.clients {
		if id == excludingID {
			continue
		}
		out = append(out, ClientInfo{
			ID:          id,
			Address:     client.addr,
			UserAgent:   client.userAgent,
			ConnectedAt: client.connectedAt,
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ClientInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// SendRaw queues an encoded message for id. Delivery is best effort: a
// missing client or a full send buffer drops the message.
func (r *Registry) SendRaw(id string, data []byte) bool {
	client, ok := r.Lookup(id)
	if !ok {
		return false
	}
	if !client.enqueue(data) {
		r.logger.Warn("dropping message for slow or closed client", "client_id", id)
		return false
	}
	return true
}

// Send encodes msg and queues it for id.
func (r *Registry) Send(id string, msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encoding outbound message", "kind", msg.Kind(), "error", err)
		return false
	}
	return r.SendRaw(id, data)
}

func (r *Registry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	return out
}
