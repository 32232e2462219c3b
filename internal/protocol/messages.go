package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is implemented by every protocol variant.
type Message interface {
	Kind() Kind
	Validate() error
}

// Relayed is implemented by the variants the relay forwards between
// clients. SetFrom stamps the sender's client id before forwarding.
type Relayed interface {
	Message
	SetFrom(clientID string)
	Sender() string
}

// Targeted is implemented by relayed file messages that may name a single
// recipient instead of the whole room.
type Targeted interface {
	Relayed
	Target() string
	Transfer() string
}

// ServerInfo describes where the relay can be reached.
type ServerInfo struct {
	Address   string `json:"address"`
	Port      int    `json:"port"`
	Timestamp int64  `json:"timestamp"`
}

// QRData is embedded in room-created so a second device can scan its way
// into the same room.
type QRData struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	RoomID  string `json:"roomId"`
	WSURL   string `json:"wsUrl"`
}

// Device is one entry of a device-list reply.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	ConnectedAt int64  `json:"connectedAt"`
	Room        string `json:"room"`
}

// Welcome is the first message a new connection receives.
type Welcome struct {
	ClientID   string     `json:"clientId"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

func (*Welcome) Kind() Kind { return KindWelcome }

func (m *Welcome) Validate() error { return require("clientId", m.ClientID) }

// CreateRoom asks the relay for a new room. RoomName is optional.
type CreateRoom struct {
	RoomName string `json:"roomName,omitempty"`
}

func (*CreateRoom) Kind() Kind { return KindCreateRoom }

func (*CreateRoom) Validate() error { return nil }

// RoomCreated answers CreateRoom.
type RoomCreated struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	QRData QRData `json:"qrData"`
}

func (*RoomCreated) Kind() Kind { return KindRoomCreated }

func (m *RoomCreated) Validate() error { return require("roomId", m.RoomID) }

// JoinRoom moves the sender into RoomID, creating the room if needed.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

func (*JoinRoom) Kind() Kind { return KindJoinRoom }

func (m *JoinRoom) Validate() error { return require("roomId", m.RoomID) }

// RoomJoined answers JoinRoom with the other members of the room.
type RoomJoined struct {
	RoomID  string   `json:"roomId"`
	Clients []string `json:"clients"`
}

func (*RoomJoined) Kind() Kind { return KindRoomJoined }

func (m *RoomJoined) Validate() error { return require("roomId", m.RoomID) }

// LeaveRoom removes the sender from its current room.
type LeaveRoom struct{}

func (*LeaveRoom) Kind() Kind { return KindLeaveRoom }

func (*LeaveRoom) Validate() error { return nil }

// ClientJoined is broadcast to existing members when someone joins.
type ClientJoined struct {
	ClientID    string   `json:"clientId"`
	RoomClients []string `json:"roomClients"`
}

func (*ClientJoined) Kind() Kind { return KindClientJoined }

func (m *ClientJoined) Validate() error { return require("clientId", m.ClientID) }

// ClientLeft is broadcast to the remaining members when someone leaves.
type ClientLeft struct {
	ClientID    string   `json:"clientId"`
	RoomClients []string `json:"roomClients"`
}

func (*ClientLeft) Kind() Kind { return KindClientLeft }

func (m *ClientLeft) Validate() error { return require("clientId", m.ClientID) }

// Signal carries an opaque WebRTC signaling payload. The relay never looks
// inside Payload.
type Signal struct {
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Signal) SetFrom(clientID string) { s.From = clientID }

func (s *Signal) Sender() string { return s.From }

func (s *Signal) Validate() error {
	if len(s.Payload) == 0 || string(s.Payload) == "null" {
		return missing("payload")
	}
	return nil
}

// Offer is a relayed SDP offer.
type Offer struct{ Signal }

func (*Offer) Kind() Kind { return KindOffer }

// Answer is a relayed SDP answer.
type Answer struct{ Signal }

func (*Answer) Kind() Kind { return KindAnswer }

// ICECandidate is a relayed trickle ICE candidate.
type ICECandidate struct{ Signal }

func (*ICECandidate) Kind() Kind { return KindICECandidate }

// FileRouting holds the fields shared by every file transfer message.
type FileRouting struct {
	TransferID   string `json:"transferId"`
	TargetClient string `json:"targetClient,omitempty"`
	From         string `json:"from,omitempty"`
}

func (f *FileRouting) SetFrom(clientID string) { f.From = clientID }

func (f *FileRouting) Sender() string { return f.From }

func (f *FileRouting) Target() string { return f.TargetClient }

func (f *FileRouting) Transfer() string { return f.TransferID }

// FileTransferStart announces a chunked transfer. Checksum, when set, is
// the hex BLAKE3-256 digest of the whole file.
type FileTransferStart struct {
	FileRouting
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	Checksum    string `json:"checksum,omitempty"`
}

func (*FileTransferStart) Kind() Kind { return KindFileTransferStart }

func (m *FileTransferStart) Validate() error {
	if err := require("transferId", m.TransferID); err != nil {
		return err
	}
	if m.TotalChunks <= 0 {
		return invalid("totalChunks", m.TotalChunks)
	}
	if m.FileSize < 0 {
		return invalid("fileSize", m.FileSize)
	}
	return nil
}

// FileChunk carries one slice of a transfer. Chunk is base64 on the wire.
type FileChunk struct {
	FileRouting
	ChunkIndex int    `json:"chunkIndex"`
	Chunk      []byte `json:"chunk"`
	IsLast     bool   `json:"isLast,omitempty"`
}

func (*FileChunk) Kind() Kind { return KindFileChunk }

func (m *FileChunk) Validate() error {
	if err := require("transferId", m.TransferID); err != nil {
		return err
	}
	if m.ChunkIndex < 0 {
		return invalid("chunkIndex", m.ChunkIndex)
	}
	return nil
}

// FileComplete tells the receiver that the sender has nothing more to send.
type FileComplete struct {
	FileRouting
}

func (*FileComplete) Kind() Kind { return KindFileComplete }

func (m *FileComplete) Validate() error { return require("transferId", m.TransferID) }

// FileTransferCancel aborts a transfer. The relay also emits it when one
// side of a transfer disconnects.
type FileTransferCancel struct {
	FileRouting
	Reason string `json:"reason,omitempty"`
}

func (*FileTransferCancel) Kind() Kind { return KindFileTransferCancel }

func (m *FileTransferCancel) Validate() error { return require("transferId", m.TransferID) }

// DeviceDiscovery asks for the list of other connected clients.
type DeviceDiscovery struct{}

func (*DeviceDiscovery) Kind() Kind { return KindDeviceDiscovery }

func (*DeviceDiscovery) Validate() error { return nil }

// DeviceList answers DeviceDiscovery.
type DeviceList struct {
	Devices    []Device   `json:"devices"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

func (*DeviceList) Kind() Kind { return KindDeviceList }

func (*DeviceList) Validate() error { return nil }

// Error reports a failed request back to its sender. ReplyTo names the
// kind of the rejected message when the relay could decode it.
type Error struct {
	Message string `json:"message"`
	ReplyTo Kind   `json:"replyTo,omitempty"`
}

func (*Error) Kind() Kind { return KindError }

func (m *Error) Validate() error { return require("message", m.Message) }

func require(field, value string) error {
	if value == "" {
		return missing(field)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func invalid(field string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidField, field, value)
}
