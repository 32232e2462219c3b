package server

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lanrelay/internal/protocol"
)

const (
	testAddress = "192.168.1.20"
	testPort    = 8080
	testWSURL   = "ws://192.168.1.20:8080/ws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServerInfo() protocol.ServerInfo {
	return protocol.ServerInfo{Address: testAddress, Port: testPort, Timestamp: time.Now().UnixMilli()}
}

// testRelay is the relay's state machine without any network: clients are
// created without a connection and their outbound queues are read directly.
type testRelay struct {
	registry *Registry
	rooms    *RoomManager
	status   *StatusResponder
	router   *Router
}

func newTestRelay(t *testing.T, limits Limits) *testRelay {
	t.Helper()

	cfg := sanitizeConfig(Config{Limits: limits})
	logger := discardLogger()
	registry := NewRegistry(cfg.Limits.MaxClients, testServerInfo, logger)
	rooms := NewRoomManager(registry, cfg.Limits, logger)
	status := NewStatusResponder(registry, rooms, testServerInfo, time.Now())
	info := func() Info {
		return Info{Address: testAddress, Port: testPort, HTTPURL: "http://192.168.1.20:8080", WSURL: testWSURL}
	}
	return &testRelay{
		registry: registry,
		rooms:    rooms,
		status:   status,
		router:   NewRouter(registry, rooms, status, cfg.Limits, info, logger),
	}
}

// connect registers a connectionless client and consumes its welcome.
func (r *testRelay) connect(t *testing.T, userAgent string) *Client {
	t.Helper()

	c := NewClient(nil, nil, "192.168.1.50", userAgent, Config{})
	c.logger = discardLogger()
	require.NoError(t, r.router.Connect(c))

	welcome := receiveAs[*protocol.Welcome](t, c)
	require.Equal(t, c.ID(), welcome.ClientID)
	return c
}

func (r *testRelay) send(t *testing.T, c *Client, msg protocol.Message) {
	t.Helper()
	r.router.Dispatch(c, protocol.MustEncode(msg))
}

// createRoom has c create a room and returns its id.
func (r *testRelay) createRoom(t *testing.T, c *Client, name string) string {
	t.Helper()
	r.send(t, c, &protocol.CreateRoom{RoomName: name})
	return receiveAs[*protocol.RoomCreated](t, c).RoomID
}

// join moves c into roomID and drains the notifications it causes for c
// and for the members already present.
func (r *testRelay) join(t *testing.T, c *Client, roomID string, present ...*Client) {
	t.Helper()
	r.send(t, c, &protocol.JoinRoom{RoomID: roomID})
	receiveAs[*protocol.RoomJoined](t, c)
	for _, member := range present {
		receiveAs[*protocol.ClientJoined](t, member)
	}
}

// receive returns the next queued message for c. Every relay operation
// queues synchronously, so an empty queue means nothing was sent.
func receive(t *testing.T, c *Client) protocol.Message {
	t.Helper()

	select {
	case data, ok := <-c.GetSendChan():
		require.True(t, ok, "send channel of %s is closed", c.ID())
		msg, err := protocol.Decode(data)
		require.NoError(t, err, "decoding %s", data)
		return msg
	default:
		t.Fatalf("no message queued for %s", c.ID())
		return nil
	}
}

func receiveAs[T protocol.Message](t *testing.T, c *Client) T {
	t.Helper()

	msg := receive(t, c)
	typed, ok := msg.(T)
	require.Truef(t, ok, "expected %T, got %T (%s)", *new(T), msg, protocol.MustEncode(msg))
	return typed
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case data, ok := <-c.GetSendChan():
		if ok {
			t.Fatalf("unexpected message for %s: %s", c.ID(), data)
		}
	default:
	}
}

func clientIDs(clients ...*Client) []string {
	out := make([]string, len(clients))
	for i, c := range clients {
		out[i] = c.ID()
	}
	return out
}
