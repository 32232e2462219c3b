package protocol

// Kind is the value of a message's "type" field.
type Kind string

// Message kinds understood by the relay.
const (
	KindWelcome            Kind = "welcome"
	KindCreateRoom         Kind = "create-room"
	KindRoomCreated        Kind = "room-created"
	KindJoinRoom           Kind = "join-room"
	KindRoomJoined         Kind = "room-joined"
	KindLeaveRoom          Kind = "leave-room"
	KindClientJoined       Kind = "client-joined"
	KindClientLeft         Kind = "client-left"
	KindOffer              Kind = "webrtc-offer"
	KindAnswer             Kind = "webrtc-answer"
	KindICECandidate       Kind = "webrtc-ice-candidate"
	KindFileTransferStart  Kind = "file-transfer-start"
	KindFileChunk          Kind = "file-chunk"
	KindFileComplete       Kind = "file-complete"
	KindFileTransferCancel Kind = "file-transfer-cancel"
	KindDeviceDiscovery    Kind = "device-discovery"
	KindDeviceList         Kind = "device-list"
	KindError              Kind = "error"
)

var factories = map[Kind]func() Message{
	KindWelcome:            func() Message { return &Welcome{} },
	KindCreateRoom:         func() Message { return &CreateRoom{} },
	KindRoomCreated:        func() Message { return &RoomCreated{} },
	KindJoinRoom:           func() Message { return &JoinRoom{} },
	KindRoomJoined:         func() Message { return &RoomJoined{} },
	KindLeaveRoom:          func() Message { return &LeaveRoom{} },
	KindClientJoined:       func() Message { return &ClientJoined{} },
	KindClientLeft:         func() Message { return &ClientLeft{} },
	KindOffer:              func() Message { return &Offer{} },
	KindAnswer:             func() Message { return &Answer{} },
	KindICECandidate:       func() Message { return &ICECandidate{} },
	KindFileTransferStart:  func() Message { return &FileTransferStart{} },
	KindFileChunk:          func() Message { return &FileChunk{} },
	KindFileComplete:       func() Message { return &FileComplete{} },
	KindFileTransferCancel: func() Message { return &FileTransferCancel{} },
	KindDeviceDiscovery:    func() Message { return &DeviceDiscovery{} },
	KindDeviceList:         func() Message { return &DeviceList{} },
	KindError:              func() Message { return &Error{} },
}

// clientKinds are the kinds a client is allowed to send to the relay.
var clientKinds = map[Kind]struct{}{
	KindCreateRoom:         {},
	KindJoinRoom:           {},
	KindLeaveRoom:          {},
	KindOffer:              {},
	KindAnswer:             {},
	KindICECandidate:       {},
	KindFileTransferStart:  {},
	KindFileChunk:          {},
	KindFileComplete:       {},
	KindFileTransferCancel: {},
	KindDeviceDiscovery:    {},
}

// Known reports whether k is part of the protocol.
func (k Kind) Known() bool {
	_, ok := factories[k]
	return ok
}

// FromClient reports whether a client may send messages of kind k.
func (k Kind) FromClient() bool {
	_, ok := clientKinds[k]
	return ok
}

// Signaling reports whether k is one of the WebRTC signaling kinds.
func (k Kind) Signaling() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// FileTransfer reports whether k carries file transfer traffic.
func (k Kind) FileTransfer() bool {
	switch k {
	case KindFileTransferStart, KindFileChunk, KindFileComplete, KindFileTransferCancel:
		return true
	}
	return false
}
