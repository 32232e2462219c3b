package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/lanrelay/internal/protocol"
	"github.com/Tyrowin/lanrelay/internal/transfer"
)

const qrDataType = "lanrelay-room"

type handlerFunc func(c *Client, msg protocol.Message) error

// Router turns inbound frames into registry, room, and relay operations.
// Every error stops at Dispatch: protocol and capacity errors become one
// error reply to the sender, stale references are logged and dropped, and
// nothing closes the connection.
type Router struct {
	registry *Registry
	rooms    *RoomManager
	relays   *relayTable
	status   *StatusResponder
	limits   Limits
	info     func() Info
	handlers map[protocol.Kind]handlerFunc
	now      func() time.Time
	logger   *slog.Logger
}

// NewRouter wires a router over the given components. info reports the
// relay's public address for QR data.
func NewRouter(registry *Registry, rooms *RoomManager, status *StatusResponder, limits Limits, info func() Info, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry: registry,
		rooms:    rooms,
		relays:   newRelayTable(),
		status:   status,
		limits:   limits,
		info:     info,
		now:      time.Now,
		logger:   logger,
	}
	r.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindCreateRoom:         r.handleCreateRoom,
		protocol.KindJoinRoom:           r.handleJoinRoom,
		protocol.KindLeaveRoom:          r.handleLeaveRoom,
		protocol.KindOffer:              r.handleSignal,
		protocol.KindAnswer:             r.handleSignal,
		protocol.KindICECandidate:       r.handleSignal,
		protocol.KindFileTransferStart:  r.handleFile,
		protocol.KindFileChunk:          r.handleFile,
		protocol.KindFileComplete:       r.handleFile,
		protocol.KindFileTransferCancel: r.handleFile,
		protocol.KindDeviceDiscovery:    r.handleDeviceDiscovery,
	}
	return r
}

// Connect registers a new connection and queues its welcome.
func (r *Router) Connect(c *Client) error {
	_, err := r.registry.Register(c)
	return err
}

// Disconnect removes c from the registry and its room and cancels every
// relayed transfer it took part in. Calling it twice is harmless.
func (r *Router) Disconnect(c *Client) {
	defer c.closeSend()

	if c.id == "" || !r.registry.Unregister(c.id) {
		return
	}
	if roomID, ok := r.rooms.Leave(c.id); ok {
		r.logger.Debug("disconnect left room", "client_id", c.id, "room_id", roomID)
	}
	r.cancelTransfers(c.id, "peer disconnected")
}

// Dispatch handles one raw inbound frame from c.
func (r *Router) Dispatch(c *Client, raw []byte) {
	var kind protocol.Kind
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handler panicked", "client_id", c.id, "kind", kind, "panic", rec)
			r.replyError(c, kind, "internal error")
		}
	}()

	msg, err := protocol.Decode(raw)
	if err != nil {
		if k, perr := protocol.PeekKind(raw); perr == nil && k.Known() {
			kind = k
		}
		r.fail(c, kind, err)
		return
	}

	kind = msg.Kind()
	handle, ok := r.handlers[kind]
	if !ok || !kind.FromClient() {
		r.fail(c, kind, fmt.Errorf("%w: %s is not accepted from clients", protocol.ErrUnknownKind, kind))
		return
	}

	if err := handle(c, msg); err != nil {
		r.fail(c, kind, err)
	}
}

func (r *Router) fail(c *Client, kind protocol.Kind, err error) {
	if isStateError(err) {
		r.logger.Debug("dropping message that references missing state",
			"client_id", c.id, "kind", kind, "error", err)
		return
	}
	r.logger.Warn("rejecting message", "client_id", c.id, "kind", kind, "error", err)
	r.replyError(c, kind, err.Error())
}

// replyError queues an error for c. kind is the rejected message's kind,
// empty when the frame could not be decoded.
func (r *Router) replyError(c *Client, kind protocol.Kind, message string) {
	data, err := protocol.Encode(&protocol.Error{Message: message, ReplyTo: kind})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func isStateError(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrNotInRoom) ||
		errors.Is(err, transfer.ErrUnknownTransfer)
}

func (r *Router) handleCreateRoom(c *Client, msg protocol.Message) error {
	m := msg.(*protocol.CreateRoom)
	room, err := r.rooms.Create(c.id, m.RoomName)
	if err != nil {
		return err
	}

	info := r.info()
	r.registry.Send(c.id, &protocol.RoomCreated{
		RoomID: room.ID,
		Name:   room.Name,
		QRData: protocol.QRData{
			Type:    qrDataType,
			Address: info.Address,
			Port:    info.Port,
			RoomID:  room.ID,
			WSURL:   info.WSURL,
		},
	})
	return nil
}

func (r *Router) handleJoinRoom(c *Client, msg protocol.Message) error {
	return r.rooms.Join(c.id, msg.(*protocol.JoinRoom).RoomID)
}

func (r *Router) handleLeaveRoom(c *Client, _ protocol.Message) error {
	r.rooms.Leave(c.id)
	return nil
}

// handleSignal forwards offers, answers, and ICE candidates to the rest of
// the sender's room without looking at the payload.
func (r *Router) handleSignal(c *Client, msg protocol.Message) error {
	roomID, ok := r.rooms.RoomOf(c.id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInRoom, c.id)
	}

	relayed := msg.(protocol.Relayed)
	relayed.SetFrom(c.id)
	n, err := r.rooms.Broadcast(roomID, relayed, c.id)
	if err != nil {
		return err
	}
	r.logger.Debug("relayed signaling", "client_id", c.id, "room_id", roomID, "kind", msg.Kind(), "recipients", n)
	return nil
}

// handleFile forwards file transfer messages to the named target, or to
// the sender's room when no target is named, and keeps the relay table in
// step with transfer starts and ends.
func (r *Router) handleFile(c *Client, msg protocol.Message) error {
	m := msg.(protocol.Targeted)
	m.SetFrom(c.id)

	start, isStart := msg.(*protocol.FileTransferStart)
	if isStart {
		if err := r.admitTransfer(c.id, start); err != nil {
			return err
		}
	}

	recipients, err := r.recipients(c.id, m.Target())
	if err != nil {
		return err
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	delivered := 0
	for _, id := range recipients {
		if r.registry.SendRaw(id, data) {
			delivered++
		}
	}

	switch msg.Kind() {
	case protocol.KindFileTransferStart:
		r.relays.begin(m.Transfer(), c.id, recipients, start.TotalChunks, r.now())
		r.logger.Info("relaying transfer",
			"transfer_id", m.Transfer(),
			"client_id", c.id,
			"file_name", start.FileName,
			"total_chunks", start.TotalChunks,
			"recipients", len(recipients))
	case protocol.KindFileComplete, protocol.KindFileTransferCancel:
		if r.relays.settle(m.Transfer(), c.id) {
			r.logger.Info("transfer ended", "transfer_id", m.Transfer(), "client_id", c.id, "kind", msg.Kind())
		}
	}

	if delivered < len(recipients) {
		r.logger.Debug("file message not delivered to every recipient",
			"transfer_id", m.Transfer(), "delivered", delivered, "recipients", len(recipients))
	}
	return nil
}

func (r *Router) admitTransfer(clientID string, start *protocol.FileTransferStart) error {
	if r.limits.MaxTotalChunks > 0 && start.TotalChunks > r.limits.MaxTotalChunks {
		return fmt.Errorf("%w: %d (max %d)", transfer.ErrTooManyChunks, start.TotalChunks, r.limits.MaxTotalChunks)
	}
	if r.limits.MaxTransfersPerClient > 0 && r.relays.sentBy(clientID) >= r.limits.MaxTransfersPerClient {
		return fmt.Errorf("%w: limit %d", ErrTooManyTransfers, r.limits.MaxTransfersPerClient)
	}
	return nil
}

func (r *Router) recipients(senderID, target string) ([]string, error) {
	if target != "" {
		if _, ok := r.registry.Lookup(target); !ok {
			return nil, fmt.Errorf("%w: %s", ErrClientNotFound, target)
		}
		return []string{target}, nil
	}

	roomID, ok := r.rooms.RoomOf(senderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInRoom, senderID)
	}
	return without(r.rooms.Members(roomID), senderID), nil
}

// cancelTransfers ends every relayed transfer clientID took part in and
// tells the other participants.
func (r *Router) cancelTransfers(clientID, reason string) {
	for _, id := range r.relays.owned(clientID) {
		owners, ok := r.relays.end(id)
		if !ok {
			continue
		}
		cancel := &protocol.FileTransferCancel{Reason: reason}
		cancel.TransferID = id
		cancel.SetFrom(clientID)
		for _, owner := range owners {
			if owner != clientID {
				r.registry.Send(owner, cancel)
			}
		}
		r.logger.Info("cancelled transfer", "transfer_id", id, "client_id", clientID, "reason", reason)
	}
}

func (r *Router) handleDeviceDiscovery(c *Client, _ protocol.Message) error {
	r.registry.Send(c.id, r.status.DeviceList(c.id))
	return nil
}
