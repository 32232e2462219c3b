package relayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/lanrelay/internal/protocol"
	"github.com/Tyrowin/lanrelay/internal/transfer"
)

// Client errors.
var (
	ErrClosed       = errors.New("relay connection closed")
	ErrChunkTimeout = errors.New("timed out sending file chunk")
	ErrNoWelcome    = errors.New("relay did not send a welcome")
)

// ServerError is an error message sent back by the relay.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "relay: " + e.Message }

const (
	// DefaultChunkSize is the payload size of each file chunk.
	DefaultChunkSize = 16 * 1024

	// DefaultChunkRate and DefaultChunkBurst pace outgoing chunks below the
	// relay's default rate limit and per-client send buffer.
	DefaultChunkRate  rate.Limit = 400
	DefaultChunkBurst            = 64

	// DefaultIdleTimeout fails an incoming transfer that has gone this long
	// without a chunk.
	DefaultIdleTimeout = 30 * time.Second

	defaultChunkTimeout = 10 * time.Second
	writeWait           = 10 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger

	// ChunkSize is the number of file bytes per chunk.
	ChunkSize int
	// ChunkTimeout bounds how long a single chunk write may block.
	ChunkTimeout time.Duration
	// ChunkRate and ChunkBurst limit how fast chunks are written, shared by
	// every SendFile on the connection. rate.Inf turns pacing off.
	ChunkRate  rate.Limit
	ChunkBurst int
	// Policy and MaxTotalChunks configure reassembly of incoming files.
	Policy         transfer.CompletionPolicy
	MaxTotalChunks int
	// IdleTimeout fails an incoming transfer that receives no chunk for
	// this long. A negative value never expires transfers.
	IdleTimeout time.Duration

	OnOffer        func(from string, offer webrtc.SessionDescription)
	OnAnswer       func(from string, answer webrtc.SessionDescription)
	OnICECandidate func(from string, candidate webrtc.ICECandidateInit)
	// OnRoomEvent receives client-joined and client-left.
	OnRoomEvent func(msg protocol.Message)
	OnProgress  func(transfer.Progress)
	OnFile      func(transfer.Result)
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = defaultChunkTimeout
	}
	if o.ChunkRate <= 0 {
		o.ChunkRate = DefaultChunkRate
	}
	if o.ChunkBurst <= 0 {
		o.ChunkBurst = DefaultChunkBurst
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// waiter is a request waiting for its reply. sent is the kind of the
// request, which the relay echoes in the replyTo field of an error.
type waiter struct {
	sent  protocol.Kind
	kinds []protocol.Kind
	reply chan protocol.Message
}

// Client is a connection to a relay.
type Client struct {
	conn    *websocket.Conn
	opts    Options
	logger  *slog.Logger
	welcome protocol.Welcome
	files   *transfer.Coordinator
	pacer   *rate.Limiter

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters []*waiter
	roomID  string

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to the relay's WebSocket endpoint at url and waits for the
// welcome message.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	conn, resp, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	welcome, err := readWelcome(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		logger:  opts.Logger.With("client_id", welcome.ClientID),
		welcome: *welcome,
		pacer:   rate.NewLimiter(opts.ChunkRate, opts.ChunkBurst),
		done:    make(chan struct{}),
	}
	c.files = transfer.NewCoordinator(transfer.Options{
		Policy:         opts.Policy,
		MaxTotalChunks: opts.MaxTotalChunks,
		IdleTimeout:    max(opts.IdleTimeout, 0),
		Logger:         c.logger,
		OnProgress:     opts.OnProgress,
		OnComplete:     c.fileDone,
	})

	go c.readLoop()
	if opts.IdleTimeout > 0 {
		go c.expireLoop(opts.IdleTimeout)
	}
	c.logger.Debug("connected to relay", "url", url, "server_address", welcome.ServerInfo.Address)
	return c, nil
}

func readWelcome(ctx context.Context, conn *websocket.Conn) (*protocol.Welcome, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWelcome, err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWelcome, err)
	}
	welcome, ok := msg.(*protocol.Welcome)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNoWelcome, msg.Kind())
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return welcome, nil
}

// ID returns the id the relay assigned to this connection.
func (c *Client) ID() string { return c.welcome.ClientID }

// ServerInfo returns the relay address reported in the welcome.
func (c *Client) ServerInfo() protocol.ServerInfo { return c.welcome.ServerInfo }

// Room returns the room this client is in, as far as it knows.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	if c.Err() == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.writeMu.Unlock()

	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

// Send writes msg to the relay without waiting for a reply.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	return c.write(ctx, msg, writeWait)
}

func (c *Client) write(ctx context.Context, msg protocol.Message, timeout time.Duration) error {
	return c.writeWith(ctx, msg, timeout, nil)
}

// writeWith writes msg, first registering w as its waiter. Registering
// under the write lock keeps waiters in the order their requests reach
// the relay.
func (c *Client) writeWith(ctx context.Context, msg protocol.Message, timeout time.Duration, w *waiter) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if w != nil {
		c.mu.Lock()
		c.waiters = append(c.waiters, w)
		c.mu.Unlock()
	}
	if err := c.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Kind(), err)
	}
	return nil
}

// request sends msg and waits for the first reply of one of kinds, or for
// an error answering msg's kind.
func (c *Client) request(ctx context.Context, msg protocol.Message, kinds ...protocol.Kind) (protocol.Message, error) {
	w := &waiter{sent: msg.Kind(), kinds: kinds, reply: make(chan protocol.Message, 1)}
	if err := c.writeWith(ctx, msg, writeWait, w); err != nil {
		c.dropWaiter(w)
		return nil, err
	}

	select {
	case reply := <-w.reply:
		if e, ok := reply.(*protocol.Error); ok {
			return nil, &ServerError{Message: e.Message}
		}
		return reply, nil
	case <-ctx.Done():
		c.dropWaiter(w)
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.err
	}
}

func (c *Client) dropWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters = slices.DeleteFunc(c.waiters, func(x *waiter) bool { return x == w })
}

// resolve hands msg to the oldest waiter expecting it. The relay answers
// one connection's messages in order, so the oldest waiter for a kind owns
// the next reply or error for that kind. Errors for messages nobody waits
// on fall through to handle.
func (c *Client) resolve(msg protocol.Message) bool {
	match := func(w *waiter) bool { return slices.Contains(w.kinds, msg.Kind()) }
	if e, ok := msg.(*protocol.Error); ok {
		match = func(w *waiter) bool { return e.ReplyTo != "" && w.sent == e.ReplyTo }
	}

	c.mu.Lock()
	for i, w := range c.waiters {
		if match(w) {
			c.waiters = slices.Delete(c.waiters, i, i+1)
			c.mu.Unlock()
			w.reply <- msg
			return true
		}
	}
	c.mu.Unlock()
	return false
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.files.CancelOwner(c.ID(), "relay connection closed")
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("ignoring undecodable message from relay", "error", err)
			continue
		}
		if c.resolve(msg) {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Offer, *protocol.Answer, *protocol.ICECandidate:
		c.handleSignal(msg)
	case *protocol.ClientJoined:
		c.roomEvent(m)
	case *protocol.ClientLeft:
		if cancelled := c.files.CancelOwner(m.ClientID, "peer left the room"); len(cancelled) > 0 {
			c.logger.Info("cancelled incoming transfers from departed peer", "peer", m.ClientID, "transfers", cancelled)
		}
		c.roomEvent(m)
	case *protocol.FileTransferStart:
		c.beginReceive(m)
	case *protocol.FileChunk:
		if _, err := c.files.Chunk(m.TransferID, m.ChunkIndex, m.Chunk, m.IsLast); err != nil {
			c.logger.Debug("dropping chunk", "transfer_id", m.TransferID, "chunk_index", m.ChunkIndex, "error", err)
		}
	case *protocol.FileComplete:
		if err := c.files.Finish(m.TransferID); err != nil && !errors.Is(err, transfer.ErrUnknownTransfer) {
			c.logger.Warn("incoming transfer incomplete", "transfer_id", m.TransferID, "error", err)
		}
	case *protocol.FileTransferCancel:
		c.files.Cancel(m.TransferID, m.Reason)
	case *protocol.Error:
		c.logger.Warn("relay reported an error", "message", m.Message)
	default:
		c.logger.Debug("ignoring message", "kind", msg.Kind())
	}
}

// expireLoop fails incoming transfers that stop receiving chunks.
func (c *Client) expireLoop(idle time.Duration) {
	ticker := time.NewTicker(max(idle/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := c.files.Expire(); len(expired) > 0 {
				c.logger.Warn("incoming transfers stalled", "transfers", expired, "idle_timeout", idle)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) roomEvent(msg protocol.Message) {
	if c.opts.OnRoomEvent != nil {
		c.opts.OnRoomEvent(msg)
	}
}

func (c *Client) fileDone(r transfer.Result) {
	if c.opts.OnFile != nil {
		c.opts.OnFile(r)
	}
}
