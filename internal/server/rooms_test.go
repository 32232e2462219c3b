package server

import (
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// TestCreateRoomRepliesWithQRData verifies that create-room makes the
// caller the only member and answers with scannable join data.
func TestCreateRoomRepliesWithQRData(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")

	relay.send(t, a, &protocol.CreateRoom{RoomName: "demo"})
	created := receiveAs[*protocol.RoomCreated](t, a)

	require.NotEmpty(t, created.RoomID)
	assert.Equal(t, "demo", created.Name)
	assert.Equal(t, protocol.QRData{
		Type:    "lanrelay-room",
		Address: testAddress,
		Port:    testPort,
		RoomID:  created.RoomID,
		WSURL:   testWSURL,
	}, created.QRData)

	assert.Equal(t, clientIDs(a), relay.rooms.Members(created.RoomID))
	roomID, ok := relay.rooms.RoomOf(a.ID())
	require.True(t, ok)
	assert.Equal(t, created.RoomID, roomID)
	assertNoMessage(t, a)
}

// TestCreateRoomDefaultName verifies the generated name for unnamed rooms.
func TestCreateRoomDefaultName(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")

	relay.send(t, a, &protocol.CreateRoom{})
	created := receiveAs[*protocol.RoomCreated](t, a)
	assert.Equal(t, "Room "+created.RoomID, created.Name)
}

// TestJoinRoomNotifiesMembers verifies the two notifications a join
// produces: client-joined with the full list for existing members and
// room-joined without the joiner for the joiner.
func TestJoinRoomNotifiesMembers(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")
	roomID := relay.createRoom(t, a, "demo")

	relay.send(t, b, &protocol.JoinRoom{RoomID: roomID})

	joined := receiveAs[*protocol.ClientJoined](t, a)
	assert.Equal(t, b.ID(), joined.ClientID)
	assert.Equal(t, clientIDs(a, b), joined.RoomClients)

	welcome := receiveAs[*protocol.RoomJoined](t, b)
	assert.Equal(t, roomID, welcome.RoomID)
	assert.Equal(t, clientIDs(a), welcome.Clients)

	assertNoMessage(t, a)
	assertNoMessage(t, b)
}

// TestJoinUnknownRoomCreatesIt verifies that joining a room id nobody has
// used yet creates the room with the joiner as its only member.
func TestJoinUnknownRoomCreatesIt(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")

	relay.send(t, a, &protocol.JoinRoom{RoomID: "lobby"})
	joined := receiveAs[*protocol.RoomJoined](t, a)

	assert.Equal(t, "lobby", joined.RoomID)
	assert.Empty(t, joined.Clients)
	assert.Equal(t, 1, relay.rooms.Len())
	assert.Equal(t, clientIDs(a), relay.rooms.Members("lobby"))
}

// TestRejoinSameRoom verifies that joining the current room again only
// repeats the room-joined reply.
func TestRejoinSameRoom(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")
	roomID := relay.createRoom(t, a, "demo")
	relay.join(t, b, roomID, a)

	relay.send(t, b, &protocol.JoinRoom{RoomID: roomID})

	again := receiveAs[*protocol.RoomJoined](t, b)
	assert.Equal(t, clientIDs(a), again.Clients)
	assertNoMessage(t, a)
	assert.Equal(t, clientIDs(a, b), relay.rooms.Members(roomID))
}

// TestJoinAnotherRoomLeavesTheFirst verifies that a client is in at most
// one room: moving rooms notifies the old room's members.
func TestJoinAnotherRoomLeavesTheFirst(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	c := relay.connect(t, "")
	first := relay.createRoom(t, a, "first")
	relay.join(t, c, first, a)

	relay.send(t, a, &protocol.JoinRoom{RoomID: "second"})

	left := receiveAs[*protocol.ClientLeft](t, c)
	assert.Equal(t, a.ID(), left.ClientID)
	assert.Equal(t, clientIDs(c), left.RoomClients)

	joined := receiveAs[*protocol.RoomJoined](t, a)
	assert.Equal(t, "second", joined.RoomID)

	roomID, _ := relay.rooms.RoomOf(a.ID())
	assert.Equal(t, "second", roomID)
	assert.Equal(t, clientIDs(c), relay.rooms.Members(first))
}

// TestCreateRoomLeavesCurrentRoom verifies that creating a room while in
// another one leaves the old room first.
func TestCreateRoomLeavesCurrentRoom(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")
	first := relay.createRoom(t, a, "first")
	relay.join(t, b, first, a)

	second := relay.createRoom(t, b, "second")

	left := receiveAs[*protocol.ClientLeft](t, a)
	assert.Equal(t, b.ID(), left.ClientID)
	assert.NotEqual(t, first, second)
	assert.Equal(t, clientIDs(a), relay.rooms.Members(first))
	assert.Equal(t, clientIDs(b), relay.rooms.Members(second))
}

// TestLeaveRoomDeletesEmptyRoom verifies that the last member leaving
// deletes the room, and that a later join with the same id starts a fresh
// room.
func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")
	roomID := relay.createRoom(t, a, "demo")

	relay.send(t, a, &protocol.LeaveRoom{})
	assertNoMessage(t, a)
	assert.Zero(t, relay.rooms.Len())
	_, ok := relay.rooms.RoomOf(a.ID())
	assert.False(t, ok)

	relay.send(t, b, &protocol.JoinRoom{RoomID: roomID})
	joined := receiveAs[*protocol.RoomJoined](t, b)
	assert.Empty(t, joined.Clients)

	room, ok := relay.rooms.Get(roomID)
	require.True(t, ok)
	assert.Equal(t, b.ID(), room.CreatedBy)
	assert.Equal(t, "", room.Name)
	assertNoMessage(t, a)
}

// TestLeaveRoomNotifiesRemainingMembers verifies the client-left event.
func TestLeaveRoomNotifiesRemainingMembers(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")
	c := relay.connect(t, "")
	roomID := relay.createRoom(t, a, "demo")
	relay.join(t, b, roomID, a)
	relay.join(t, c, roomID, a, b)

	relay.send(t, b, &protocol.LeaveRoom{})

	for _, member := range []*Client{a, c} {
		left := receiveAs[*protocol.ClientLeft](t, member)
		assert.Equal(t, b.ID(), left.ClientID)
		assert.Equal(t, clientIDs(a, c), left.RoomClients)
	}
	assertNoMessage(t, b)
}

// TestLeaveRoomWhenNotInRoom verifies that leaving without a room is
// silently ignored.
func TestLeaveRoomWhenNotInRoom(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")

	relay.send(t, a, &protocol.LeaveRoom{})
	assertNoMessage(t, a)
}

// TestDisconnectLeavesRoom verifies that a disconnect removes the client
// from the registry and its room and closes its queue. A second
// disconnect is harmless.
func TestDisconnectLeavesRoom(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")
	roomID := relay.createRoom(t, a, "demo")
	relay.join(t, b, roomID, a)

	relay.router.Disconnect(a)
	relay.router.Disconnect(a)

	left := receiveAs[*protocol.ClientLeft](t, b)
	assert.Equal(t, a.ID(), left.ClientID)
	assert.Equal(t, clientIDs(b), left.RoomClients)
	assertNoMessage(t, b)

	_, ok := relay.registry.Lookup(a.ID())
	assert.False(t, ok)
	assert.Equal(t, clientIDs(b), relay.rooms.Members(roomID))

	_, open := <-a.GetSendChan()
	assert.False(t, open)

	relay.router.Disconnect(b)
	assert.Zero(t, relay.rooms.Len())
}

// TestRoomLimits verifies the room count and room size caps.
func TestRoomLimits(t *testing.T) {
	t.Run("max rooms", func(t *testing.T) {
		relay := newTestRelay(t, Limits{MaxRooms: 1})
		a := relay.connect(t, "")
		b := relay.connect(t, "")
		relay.createRoom(t, a, "only")

		relay.send(t, b, &protocol.CreateRoom{RoomName: "second"})
		assert.Contains(t, receiveAs[*protocol.Error](t, b).Message, "too many rooms")

		relay.send(t, b, &protocol.JoinRoom{RoomID: "another"})
		assert.Contains(t, receiveAs[*protocol.Error](t, b).Message, "too many rooms")
		assert.Equal(t, 1, relay.rooms.Len())
	})

	t.Run("sole member moves at the cap", func(t *testing.T) {
		relay := newTestRelay(t, Limits{MaxRooms: 1})
		a := relay.connect(t, "")
		b := relay.connect(t, "")
		relay.createRoom(t, a, "first")

		second := relay.createRoom(t, a, "second")
		assert.Equal(t, []string{second}, roomIDs(relay))

		relay.send(t, a, &protocol.JoinRoom{RoomID: "lobby"})
		assert.Equal(t, "lobby", receiveAs[*protocol.RoomJoined](t, a).RoomID)
		assert.Equal(t, []string{"lobby"}, roomIDs(relay))

		relay.join(t, b, "lobby", a)
		relay.send(t, a, &protocol.CreateRoom{RoomName: "third"})
		assert.Contains(t, receiveAs[*protocol.Error](t, a).Message, "too many rooms")
		roomID, _ := relay.rooms.RoomOf(a.ID())
		assert.Equal(t, "lobby", roomID)
	})

	t.Run("max members", func(t *testing.T) {
		relay := newTestRelay(t, Limits{MaxRoomMembers: 2})
		a := relay.connect(t, "")
		b := relay.connect(t, "")
		c := relay.connect(t, "")
		roomID := relay.createRoom(t, a, "pair")
		relay.join(t, b, roomID, a)

		relay.send(t, c, &protocol.JoinRoom{RoomID: roomID})
		assert.Contains(t, receiveAs[*protocol.Error](t, c).Message, "room is full")
		assertNoMessage(t, a)
		assert.Equal(t, clientIDs(a, b), relay.rooms.Members(roomID))
		_, ok := relay.rooms.RoomOf(c.ID())
		assert.False(t, ok)
	})
}

// TestRoomManagerUnknownClient verifies that room operations for clients
// the registry does not know fail without creating anything.
func TestRoomManagerUnknownClient(t *testing.T) {
	relay := newTestRelay(t, Limits{})

	_, err := relay.rooms.Create("ghost", "demo")
	require.ErrorIs(t, err, ErrClientNotFound)
	require.ErrorIs(t, relay.rooms.Join("ghost", "lobby"), ErrClientNotFound)
	assert.Zero(t, relay.rooms.Len())

	_, err = relay.rooms.Broadcast("missing", &protocol.Error{Message: "x"}, "")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

// TestRoomManagerGeneratesFreshIDs verifies that a colliding room id from
// the generator is retried.
func TestRoomManagerGeneratesFreshIDs(t *testing.T) {
	relay := newTestRelay(t, Limits{})
	a := relay.connect(t, "")
	b := relay.connect(t, "")

	sequence := []string{"r1", "r1", "r2"}
	relay.rooms.newID = func(time.Time) string {
		id := sequence[0]
		sequence = sequence[1:]
		return id
	}

	first, err := relay.rooms.Create(a.ID(), "")
	require.NoError(t, err)
	second, err := relay.rooms.Create(b.ID(), "")
	require.NoError(t, err)

	assert.Equal(t, "r1", first.ID)
	assert.Equal(t, "r2", second.ID)
	assert.Equal(t, "Room r2", second.Name)
}

func roomIDs(relay *testRelay) []string {
	relay.rooms.mu.RLock()
	defer relay.rooms.mu.RUnlock()
	return slices.Sorted(maps.Keys(relay.rooms.rooms))
}
