package relayclient

import (
	"context"

	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// CreateRoom creates a room named name, leaving any current room, and
// returns the relay's reply including its QR data.
func (c *Client) CreateRoom(ctx context.Context, name string) (protocol.RoomCreated, error) {
	reply, err := c.request(ctx, &protocol.CreateRoom{RoomName: name}, protocol.KindRoomCreated)
	if err != nil {
		return protocol.RoomCreated{}, err
	}
	created := reply.(*protocol.RoomCreated)
	c.setRoom(created.RoomID)
	return *created, nil
}

// JoinRoom joins roomID, creating it on the relay if needed. The reply
// lists the other members.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (protocol.RoomJoined, error) {
	reply, err := c.request(ctx, &protocol.JoinRoom{RoomID: roomID}, protocol.KindRoomJoined)
	if err != nil {
		return protocol.RoomJoined{}, err
	}
	joined := reply.(*protocol.RoomJoined)
	c.setRoom(joined.RoomID)
	return *joined, nil
}

// LeaveRoom leaves the current room. The relay does not reply.
func (c *Client) LeaveRoom(ctx context.Context) error {
	if err := c.Send(ctx, &protocol.LeaveRoom{}); err != nil {
		return err
	}
	c.setRoom("")
	return nil
}

// Devices lists the other clients connected to the relay.
func (c *Client) Devices(ctx context.Context) ([]protocol.Device, error) {
	reply, err := c.request(ctx, &protocol.DeviceDiscovery{}, protocol.KindDeviceList)
	if err != nil {
		return nil, err
	}
	return reply.(*protocol.DeviceList).Devices, nil
}
